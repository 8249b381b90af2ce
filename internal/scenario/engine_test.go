package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/platform/internal/schedule"
	"github.com/clinicops/platform/internal/shared/types"
)

var engineNow = time.Date(2026, 2, 17, 10, 0, 0, 0, schedule.JST)

func newEnrollment() Enrollment {
	return Enrollment{ID: types.NewID(), TenantID: types.NewID(), ScenarioID: types.NewID(), PatientID: types.NewID(), Status: EnrollmentActive}
}

func newTestEngine(rec *recorder) *Engine {
	return NewEngine(rec, rec, rec)
}

func TestEngine_StartSchedulesFirstStep(t *testing.T) {
	e := newTestEngine(&recorder{})
	en, err := e.Start(Compile("s", threeStep()), newEnrollment(), engineNow)
	require.NoError(t, err)

	assert.Equal(t, EnrollmentActive, en.Status)
	assert.Equal(t, 0, en.CurrentStep)
	require.NotNil(t, en.NextFireAt)
	assert.Equal(t, engineNow.Add(24*time.Hour), *en.NextFireAt)
}

func TestEngine_StartEmptyScenarioCompletes(t *testing.T) {
	en, err := newTestEngine(&recorder{}).Start(Compile("s", nil), newEnrollment(), engineNow)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentCompleted, en.Status)
	assert.Nil(t, en.NextFireAt)
}

func TestEngine_AdvanceFollowsTrueBranch(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(rec)
	state := PatientState{TagIDs: []int64{1}}

	en, err := e.Advance(context.Background(), Compile("s", threeStep()), &state, newEnrollment(), engineNow)
	require.NoError(t, err)

	assert.Equal(t, EnrollmentCompleted, en.Status)
	assert.Equal(t, []string{"ご来院ありがとうございました", "次回のご予約はこちら"}, rec.Texts())
}

func TestEngine_AdvanceFalseBranchExits(t *testing.T) {
	rec := &recorder{}
	state := PatientState{}

	en, err := newTestEngine(rec).Advance(context.Background(), Compile("s", threeStep()), &state, newEnrollment(), engineNow)
	require.NoError(t, err)

	assert.Equal(t, EnrollmentCompleted, en.Status)
	assert.Equal(t, 1, en.CurrentStep)
	assert.Equal(t, []string{"ご来院ありがとうございました"}, rec.Texts())
}

func TestEngine_AdvanceStopsAtDelayedStep(t *testing.T) {
	steps := []Step{
		{SortOrder: 0, DelayType: "days", StepType: StepSendText, Content: "a"},
		{SortOrder: 1, DelayType: "days", DelayValue: 1, SendTime: "09:00", StepType: StepSendText, Content: "b"},
	}
	rec := &recorder{}

	en, err := newTestEngine(rec).Advance(context.Background(), Compile("s", steps), &PatientState{}, newEnrollment(), engineNow)
	require.NoError(t, err)

	assert.Equal(t, EnrollmentActive, en.Status)
	assert.Equal(t, 1, en.CurrentStep)
	require.NotNil(t, en.NextFireAt)
	assert.Equal(t, time.Date(2026, 2, 18, 9, 0, 0, 0, schedule.JST), *en.NextFireAt)
	assert.Equal(t, []string{"a"}, rec.Texts())
}

func TestEngine_TagStepFeedsLaterCondition(t *testing.T) {
	steps := []Step{
		{SortOrder: 0, DelayType: "days", StepType: StepTagAdd, TagID: int64p(4)},
		{SortOrder: 1, DelayType: "days", StepType: StepCondition,
			ConditionRules: []Rule{{Type: RuleTag, TagIDs: []int64{4}, TagMatch: TagAllInclude}},
			BranchTrueStep: intp(2)},
		{SortOrder: 2, DelayType: "days", StepType: StepMarkChange, Mark: "フォロー済"},
	}
	rec := &recorder{}
	state := PatientState{}

	en, err := newTestEngine(rec).Advance(context.Background(), Compile("s", steps), &state, newEnrollment(), engineNow)
	require.NoError(t, err)

	assert.Equal(t, EnrollmentCompleted, en.Status)
	assert.Equal(t, []string{"+4"}, rec.tagOps)
	assert.Equal(t, []string{"フォロー済"}, rec.marks)
	assert.Equal(t, "フォロー済", state.Mark)
}

func TestEngine_ExitGuard(t *testing.T) {
	steps := []Step{
		{SortOrder: 0, DelayType: "days", StepType: StepSendText, Content: "a",
			ExitConditionRules: []Rule{{Type: RuleMark, Marks: []string{"退会"}, MarkMatch: MarkIn}},
			ExitAction:         ExitStop},
	}
	rec := &recorder{}

	en, err := newTestEngine(rec).Advance(context.Background(), Compile("s", steps), &PatientState{Mark: "退会"}, newEnrollment(), engineNow)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentExited, en.Status)
	assert.Empty(t, rec.Texts())
}

func TestEngine_ExitJump(t *testing.T) {
	steps := []Step{
		{SortOrder: 0, DelayType: "days", StepType: StepSendText, Content: "a",
			ExitConditionRules: []Rule{{Type: RuleTag, TagIDs: []int64{5}, TagMatch: TagAnyInclude}},
			ExitAction:         ExitJump, ExitJumpTo: intp(2)},
		{SortOrder: 1, DelayType: "days", StepType: StepSendText, Content: "b"},
		{SortOrder: 2, DelayType: "days", StepType: StepSendText, Content: "c"},
	}
	rec := &recorder{}

	en, err := newTestEngine(rec).Advance(context.Background(), Compile("s", steps), &PatientState{TagIDs: []int64{5}}, newEnrollment(), engineNow)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentCompleted, en.Status)
	assert.Equal(t, []string{"c"}, rec.Texts())
}

func TestEngine_ExitJumpWaitsForTargetDelay(t *testing.T) {
	steps := []Step{
		{SortOrder: 0, DelayType: "days", StepType: StepSendText, Content: "a",
			ExitConditionRules: []Rule{{Type: RuleTag, TagIDs: []int64{5}, TagMatch: TagAnyInclude}},
			ExitAction:         ExitJump, ExitJumpTo: intp(2)},
		{SortOrder: 1, DelayType: "days", StepType: StepSendText, Content: "b"},
		{SortOrder: 2, DelayType: "hours", DelayValue: 3, StepType: StepSendText, Content: "c"},
	}
	rec := &recorder{}

	en, err := newTestEngine(rec).Advance(context.Background(), Compile("s", steps), &PatientState{TagIDs: []int64{5}}, newEnrollment(), engineNow)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentActive, en.Status)
	assert.Equal(t, 2, en.CurrentStep)
	require.NotNil(t, en.NextFireAt)
	assert.Equal(t, engineNow.Add(3*time.Hour), *en.NextFireAt)
	assert.Empty(t, rec.Texts())
}

func TestEngine_FailureKeepsStep(t *testing.T) {
	steps := []Step{
		{SortOrder: 0, DelayType: "days", StepType: StepTagAdd, TagID: int64p(1)},
		{SortOrder: 1, DelayType: "days", StepType: StepSendText, Content: "a"},
	}
	rec := &recorder{failSend: true}
	start := newEnrollment()
	start.NextFireAt = &engineNow

	en, err := newTestEngine(rec).Advance(context.Background(), Compile("s", steps), &PatientState{}, start, engineNow)
	require.Error(t, err)
	assert.Equal(t, EnrollmentActive, en.Status)
	assert.Equal(t, 1, en.CurrentStep)
	assert.Equal(t, []string{"+1"}, rec.tagOps)
}

func TestEngine_HopLimit(t *testing.T) {
	var steps []Step
	for i := 0; i < 5; i++ {
		steps = append(steps, Step{SortOrder: i, DelayType: "minutes", StepType: StepSendText, Content: "x"})
	}
	rec := &recorder{}
	e := newTestEngine(rec)
	e.maxHops = 2

	en, err := e.Advance(context.Background(), Compile("s", steps), &PatientState{}, newEnrollment(), engineNow)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentActive, en.Status)
	assert.Equal(t, 3, en.CurrentStep)
	assert.Equal(t, engineNow, *en.NextFireAt)
	assert.Len(t, rec.Texts(), 3)
}
