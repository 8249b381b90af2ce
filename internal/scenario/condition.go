package scenario

import "strings"

// Evaluate reports whether every rule holds for state. An empty rule list
// holds. A rule that is unknown or incomplete does not hold, so one bad
// rule stops a branch without failing the batch it runs in.
func Evaluate(rules []Rule, state PatientState) bool {
	for _, r := range rules {
		if !evaluateRule(r, state) {
			return false
		}
	}
	return true
}

func evaluateRule(r Rule, state PatientState) bool {
	switch r.Type {
	case RuleTag:
		return evaluateTag(r, state)
	case RuleMark:
		return evaluateMark(r, state)
	case RuleAnswer:
		return evaluateAnswer(r, state)
	default:
		return false
	}
}

func evaluateTag(r Rule, state PatientState) bool {
	if len(r.TagIDs) == 0 {
		return false
	}
	held := 0
	for _, id := range r.TagIDs {
		if state.HasTag(id) {
			held++
		}
	}
	switch r.TagMatch {
	case TagAnyInclude:
		return held > 0
	case TagAllInclude:
		return held == len(r.TagIDs)
	case TagNoneInclude:
		return held == 0
	default:
		return false
	}
}

func evaluateMark(r Rule, state PatientState) bool {
	if len(r.Marks) == 0 {
		return false
	}
	in := false
	for _, m := range r.Marks {
		if m == state.Mark {
			in = true
			break
		}
	}
	switch r.MarkMatch {
	case MarkIn:
		return in
	case MarkNotIn:
		return !in
	default:
		return false
	}
}

func evaluateAnswer(r Rule, state PatientState) bool {
	if r.Field == "" {
		return false
	}
	got, ok := state.Answers[r.Field]
	switch r.Operator {
	case AnswerExists:
		return ok && strings.TrimSpace(got) != ""
	case AnswerEquals:
		return ok && got == r.Value
	case AnswerNotEquals:
		return !ok || got != r.Value
	case AnswerContains:
		return ok && r.Value != "" && strings.Contains(got, r.Value)
	default:
		return false
	}
}
