package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/platform/internal/shared/types"
)

func TestRunner_EnrollAndRun(t *testing.T) {
	store := newMemStore()
	tenantID := types.NewID()
	store.tenants = []types.ID{tenantID}
	sc := Scenario{ID: types.NewID(), TenantID: tenantID, Name: "初診フォロー"}
	store.scenarios[sc.ID] = sc
	store.steps[sc.ID] = threeStep()

	tagged, untagged := types.NewID(), types.NewID()
	store.states[tagged] = PatientState{TagIDs: []int64{1}}

	rec := &recorder{}
	clock := engineNow
	runner := NewRunner(store, newTestEngine(rec), RunnerConfig{Concurrency: 2, Now: func() time.Time { return clock }}, zerolog.Nop())

	for _, p := range []types.ID{tagged, untagged} {
		created, err := runner.Enroll(context.Background(), tenantID, sc.ID, p)
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := runner.Enroll(context.Background(), tenantID, sc.ID, tagged)
	require.NoError(t, err)
	assert.False(t, created, "second enrollment of the same patient")

	// Nothing is due before the one-day delay elapses.
	res, err := runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{}, res)

	clock = engineNow.Add(24 * time.Hour)
	res, err = runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{Completed: 2}, res)
	assert.Len(t, rec.Texts(), 3)

	res, err = runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{}, res)
}

func TestRunner_FailedEnrollmentRetried(t *testing.T) {
	store := newMemStore()
	tenantID := types.NewID()
	store.tenants = []types.ID{tenantID}
	scenarioID := types.NewID()
	store.scenarios[scenarioID] = Scenario{ID: scenarioID, TenantID: tenantID}
	store.steps[scenarioID] = []Step{{SortOrder: 0, DelayType: "days", StepType: StepSendText, Content: "a"}}

	due := engineNow
	en := Enrollment{ID: types.NewID(), TenantID: tenantID, ScenarioID: scenarioID, PatientID: types.NewID(), Status: EnrollmentActive, NextFireAt: &due}
	store.enrollments[en.ID] = en

	rec := &recorder{failSend: true}
	runner := NewRunner(store, newTestEngine(rec), RunnerConfig{Now: func() time.Time { return engineNow }}, zerolog.Nop())

	res, err := runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{Failed: 1}, res)
	assert.Equal(t, EnrollmentActive, store.enrollment(en.ID).Status)

	rec.failSend = false
	res, err = runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{Completed: 1}, res)
	assert.Equal(t, []string{"a"}, rec.Texts())
}

func TestRunner_OverlappingPassesSendOnce(t *testing.T) {
	store := newMemStore()
	tenantID := types.NewID()
	store.tenants = []types.ID{tenantID}
	scenarioID := types.NewID()
	store.scenarios[scenarioID] = Scenario{ID: scenarioID, TenantID: tenantID}
	store.steps[scenarioID] = []Step{{SortOrder: 0, DelayType: "days", StepType: StepSendText, Content: "hello"}}

	due := engineNow
	en := Enrollment{ID: types.NewID(), TenantID: tenantID, ScenarioID: scenarioID, PatientID: types.NewID(), Status: EnrollmentActive, NextFireAt: &due}
	store.enrollments[en.ID] = en

	rec := &recorder{gate: make(chan struct{})}
	runner := NewRunner(store, newTestEngine(rec), RunnerConfig{Now: func() time.Time { return engineNow }}, zerolog.Nop())

	results := make(chan RunResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := runner.RunDue(context.Background())
			assert.NoError(t, err)
			results <- res
		}()
	}

	// Both passes have claimed before the first send is let through.
	require.Eventually(t, func() bool { return store.claimCount() == 2 }, time.Second, time.Millisecond)
	close(rec.gate)

	var total RunResult
	for i := 0; i < 2; i++ {
		total.Add(<-results)
	}
	assert.Equal(t, RunResult{Completed: 1}, total)
	assert.Equal(t, []string{"hello"}, rec.Texts())
	assert.Equal(t, EnrollmentCompleted, store.enrollment(en.ID).Status)
}

func TestRunner_ExpiredLeaseIsReclaimed(t *testing.T) {
	store := newMemStore()
	tenantID := types.NewID()
	store.tenants = []types.ID{tenantID}
	scenarioID := types.NewID()
	store.scenarios[scenarioID] = Scenario{ID: scenarioID, TenantID: tenantID}
	store.steps[scenarioID] = []Step{{SortOrder: 0, DelayType: "days", StepType: StepSendText, Content: "a"}}

	due := engineNow
	en := Enrollment{ID: types.NewID(), TenantID: tenantID, ScenarioID: scenarioID, PatientID: types.NewID(), Status: EnrollmentActive, NextFireAt: &due}
	store.enrollments[en.ID] = en
	// Left behind by a pass that stopped before saving.
	store.leases[en.ID] = engineNow.Add(time.Minute)

	rec := &recorder{}
	clock := engineNow
	runner := NewRunner(store, newTestEngine(rec), RunnerConfig{Lease: time.Minute, Now: func() time.Time { return clock }}, zerolog.Nop())

	res, err := runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{}, res)

	clock = engineNow.Add(time.Minute)
	res, err = runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunResult{Completed: 1}, res)
	assert.Equal(t, []string{"a"}, rec.Texts())
}

func TestRunner_TenantFailureReported(t *testing.T) {
	store := newMemStore()
	broken, tenantID := types.NewID(), types.NewID()
	store.tenants = []types.ID{broken, tenantID}
	store.failClaim[broken] = true
	scenarioID := types.NewID()
	store.scenarios[scenarioID] = Scenario{ID: scenarioID, TenantID: tenantID}
	store.steps[scenarioID] = []Step{{SortOrder: 0, DelayType: "days", StepType: StepSendText, Content: "a"}}

	due := engineNow
	en := Enrollment{ID: types.NewID(), TenantID: tenantID, ScenarioID: scenarioID, PatientID: types.NewID(), Status: EnrollmentActive, NextFireAt: &due}
	store.enrollments[en.ID] = en

	rec := &recorder{}
	runner := NewRunner(store, newTestEngine(rec), RunnerConfig{Now: func() time.Time { return engineNow }}, zerolog.Nop())

	res, err := runner.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "enrollments unavailable")
	assert.Equal(t, []string{"a"}, rec.Texts())
}
