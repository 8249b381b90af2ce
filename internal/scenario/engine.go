package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicops/platform/internal/schedule"
	"github.com/clinicops/platform/internal/shared/metrics"
	"github.com/clinicops/platform/internal/shared/types"
)

// defaultMaxHops bounds how many zero-delay steps one Advance call runs.
const defaultMaxHops = 16

// Program is a scenario's steps laid out by position, ready to run.
type Program struct {
	ScenarioID types.ID
	steps      []Step
}

// Compile builds a Program from persisted steps.
func Compile(scenarioID types.ID, steps []Step) *Program {
	return &Program{ScenarioID: scenarioID, steps: SortSteps(steps)}
}

func (p *Program) Len() int { return len(p.steps) }

// At returns the step at position i.
func (p *Program) At(i int) (Step, bool) {
	if i < 0 || i >= len(p.steps) {
		return Step{}, false
	}
	return p.steps[i], true
}

// Messenger delivers scenario messages to a patient.
type Messenger interface {
	SendText(ctx context.Context, tenantID, patientID types.ID, text string) error
	SendTemplate(ctx context.Context, tenantID, patientID types.ID, templateID string) error
}

// TagWriter changes a patient's tags.
type TagWriter interface {
	AddTag(ctx context.Context, tenantID, patientID types.ID, tagID int64) error
	RemoveTag(ctx context.Context, tenantID, patientID types.ID, tagID int64) error
}

// MarkWriter changes a patient's mark.
type MarkWriter interface {
	SetMark(ctx context.Context, tenantID, patientID types.ID, mark string) error
}

// Engine executes steps for one enrollment at a time.
type Engine struct {
	messenger Messenger
	tags      TagWriter
	marks     MarkWriter
	maxHops   int
}

// NewEngine creates a new Engine.
func NewEngine(messenger Messenger, tags TagWriter, marks MarkWriter) *Engine {
	return &Engine{messenger: messenger, tags: tags, marks: marks, maxHops: defaultMaxHops}
}

// Start positions a new enrollment on the first step.
func (e *Engine) Start(p *Program, en Enrollment, now time.Time) (Enrollment, error) {
	en.CurrentStep = 0
	en.UpdatedAt = now
	first, ok := p.At(0)
	if !ok {
		en.Status = EnrollmentCompleted
		en.NextFireAt = nil
		return en, nil
	}
	fire, err := schedule.StepFireTime(now, first.DelayType, first.DelayValue, first.SendTime)
	if err != nil {
		return en, fmt.Errorf("step 0: %w", err)
	}
	en.Status = EnrollmentActive
	en.NextFireAt = &fire
	return en, nil
}

// Advance runs the enrollment's current step and any zero-delay steps after
// it. The returned enrollment reflects every step that completed, even when
// an error stops the run; the failed step stays current and is retried.
func (e *Engine) Advance(ctx context.Context, p *Program, state *PatientState, en Enrollment, now time.Time) (Enrollment, error) {
	en.UpdatedAt = now
	cur := en.CurrentStep

	for hop := 0; ; hop++ {
		step, ok := p.At(cur)
		if !ok {
			return finish(en, cur, EnrollmentCompleted), nil
		}

		if len(step.ExitConditionRules) > 0 && Evaluate(step.ExitConditionRules, *state) {
			if step.ExitAction != ExitJump {
				return finish(en, cur, EnrollmentExited), nil
			}
			target, ok := inRange(step.ExitJumpTo, p.Len())
			if !ok || target == cur {
				return finish(en, cur, EnrollmentExited), nil
			}
			jumped, _ := p.At(target)
			fire, err := schedule.StepFireTime(now, jumped.DelayType, jumped.DelayValue, jumped.SendTime)
			if err != nil {
				return finish(en, target, EnrollmentExited), fmt.Errorf("step %d: %w", target, err)
			}
			cur = target
			if fire.After(now) {
				en.CurrentStep = cur
				en.NextFireAt = &fire
				return en, nil
			}
			if hop >= e.maxHops {
				return reschedule(en, cur, now), nil
			}
			continue
		}

		next, err := e.execute(ctx, en, step, cur, state)
		if err != nil {
			en.CurrentStep = cur
			return en, fmt.Errorf("step %d (%s): %w", cur, step.StepType, err)
		}
		metrics.RecordScenarioStep(string(step.StepType))

		if next == nil {
			return finish(en, cur, EnrollmentCompleted), nil
		}
		following, ok := p.At(*next)
		if !ok {
			return finish(en, cur, EnrollmentCompleted), nil
		}

		fire, err := schedule.StepFireTime(now, following.DelayType, following.DelayValue, following.SendTime)
		if err != nil {
			return finish(en, *next, EnrollmentExited), fmt.Errorf("step %d: %w", *next, err)
		}
		cur = *next
		if fire.After(now) {
			en.CurrentStep = cur
			en.NextFireAt = &fire
			return en, nil
		}
		if hop >= e.maxHops {
			return reschedule(en, cur, now), nil
		}
	}
}

// execute runs one step and returns the position to continue at, nil to end.
func (e *Engine) execute(ctx context.Context, en Enrollment, step Step, cur int, state *PatientState) (*int, error) {
	var err error
	switch step.StepType {
	case StepCondition:
		branch := step.BranchFalseStep
		if Evaluate(step.ConditionRules, *state) {
			branch = step.BranchTrueStep
		}
		return branch, nil
	case StepSendText:
		err = e.messenger.SendText(ctx, en.TenantID, en.PatientID, step.Content)
	case StepSendTemplate:
		err = e.messenger.SendTemplate(ctx, en.TenantID, en.PatientID, step.TemplateID)
	case StepTagAdd:
		if step.TagID == nil {
			break
		}
		if err = e.tags.AddTag(ctx, en.TenantID, en.PatientID, *step.TagID); err == nil {
			state.addTag(*step.TagID)
		}
	case StepTagRemove:
		if step.TagID == nil {
			break
		}
		if err = e.tags.RemoveTag(ctx, en.TenantID, en.PatientID, *step.TagID); err == nil {
			state.removeTag(*step.TagID)
		}
	case StepMarkChange:
		if err = e.marks.SetMark(ctx, en.TenantID, en.PatientID, step.Mark); err == nil {
			state.Mark = step.Mark
		}
	default:
		err = fmt.Errorf("unknown step type %q", step.StepType)
	}
	if err != nil {
		return nil, err
	}
	next := cur + 1
	return &next, nil
}

func finish(en Enrollment, cur int, status EnrollmentStatus) Enrollment {
	en.CurrentStep = cur
	en.Status = status
	en.NextFireAt = nil
	return en
}

func reschedule(en Enrollment, cur int, now time.Time) Enrollment {
	en.CurrentStep = cur
	en.NextFireAt = &now
	return en
}
