package scenario

import (
	"fmt"

	"github.com/clinicops/platform/internal/schedule"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
)

// ValidateSteps checks a step list before it replaces a scenario's steps.
// Sort orders must be 0..n-1 and every reference must land inside the list.
func ValidateSteps(steps []Step) error {
	problems := make(map[string]string)
	n := len(steps)
	seen := make(map[int]bool, n)

	for i, s := range steps {
		key := fmt.Sprintf("steps[%d]", i)
		fail := func(msg string) {
			if _, ok := problems[key]; !ok {
				problems[key] = msg
			}
		}

		if s.SortOrder < 0 || s.SortOrder >= n || seen[s.SortOrder] {
			fail(fmt.Sprintf("sort_order %d is not a unique position in 0..%d", s.SortOrder, n-1))
		}
		seen[s.SortOrder] = true

		switch s.DelayType {
		case schedule.DelayDays, schedule.DelayHours, schedule.DelayMinutes:
		default:
			fail(fmt.Sprintf("unknown delay_type %q", s.DelayType))
		}
		if s.DelayValue < 0 {
			fail("delay_value must not be negative")
		}
		if s.SendTime != "" {
			if _, _, err := schedule.ParseClock(s.SendTime); err != nil {
				fail("send_time must be HH:MM")
			}
		}

		if !stepTypes[s.StepType] {
			fail(fmt.Sprintf("unknown step_type %q", s.StepType))
			continue
		}

		if s.StepType == StepCondition {
			if s.Content != "" || s.TemplateID != "" || s.TagID != nil || s.Mark != "" {
				fail("a condition step carries no payload")
			}
			if !validRef(s.BranchTrueStep, n) || !validRef(s.BranchFalseStep, n) {
				fail("branch target outside the step list")
			}
		} else {
			if s.BranchTrueStep != nil || s.BranchFalseStep != nil {
				fail("only condition steps branch")
			}
		}

		switch s.StepType {
		case StepSendText:
			if s.Content == "" {
				fail("content is required")
			}
		case StepSendTemplate:
			if s.TemplateID == "" {
				fail("template_id is required")
			}
		case StepTagAdd, StepTagRemove:
			if s.TagID == nil {
				fail("tag_id is required")
			}
		case StepMarkChange:
			if s.Mark == "" {
				fail("mark is required")
			}
		}

		switch s.ExitAction {
		case ExitNone, ExitStop:
		case ExitJump:
			if s.ExitJumpTo == nil || !validRef(s.ExitJumpTo, n) {
				fail("exit_jump_to must reference a step")
			}
		default:
			fail(fmt.Sprintf("unknown exit_action %q", s.ExitAction))
		}
	}

	if len(problems) > 0 {
		return apperrors.Validation("invalid scenario steps", problems)
	}
	return nil
}

func validRef(ref *int, n int) bool {
	return ref == nil || (*ref >= 0 && *ref < n)
}
