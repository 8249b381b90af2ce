package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/platform/internal/notification"
	"github.com/clinicops/platform/internal/schedule"
	"github.com/clinicops/platform/internal/shared/events"
	"github.com/clinicops/platform/internal/shared/types"
)

type fixture struct {
	store    *memStore
	sender   *notification.MockSender
	recorder *events.Recorder
	tenant   types.ID
	rule     Rule
	now      time.Time
}

// 2026-02-17 19:00 JST, reminding about 2026-02-18 reservations.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		sender:   notification.NewMockSender(),
		recorder: &events.Recorder{},
		tenant:   types.NewID(),
		now:      time.Date(2026, 2, 17, 19, 0, 0, 0, schedule.JST),
	}
	f.store.addTenant(f.tenant)
	f.rule = Rule{
		ID:              types.NewID(),
		TenantID:        f.tenant,
		Name:            "前日リマインド",
		IsEnabled:       true,
		TimingType:      TimingFixedTime,
		SendHour:        19,
		SendMinute:      0,
		TargetDayOffset: 1,
		MessageFormat:   FormatText,
		MessageTemplate: "{name}様 {datetime} のご予約です",
	}
	f.store.addRule(f.rule)
	f.store.addReservation(f.tenant, Target{ReservationID: types.NewID(), PatientID: types.NewID(), PatientName: "山田", LineUserID: "U1", Date: "2026-02-18", StartTime: "08:00:00"})
	f.store.addReservation(f.tenant, Target{ReservationID: types.NewID(), PatientID: types.NewID(), PatientName: "佐藤", LineUserID: "U2", Date: "2026-02-18", StartTime: "13:00:00"})
	f.store.addReservation(f.tenant, Target{ReservationID: types.NewID(), PatientID: types.NewID(), PatientName: "鈴木", LineUserID: "", Date: "2026-02-18", StartTime: "15:00:00"})
	return f
}

func (f *fixture) dispatcher(guard Guard, at time.Time) *Dispatcher {
	return NewDispatcher(f.store, f.sender, DispatcherConfig{
		Concurrency: 4,
		Guard:       guard,
		Publisher:   f.recorder,
		Now:         func() time.Time { return at },
	}, zerolog.Nop())
}

func TestDispatch_SendsInWindow(t *testing.T) {
	f := newFixture(t)

	res, err := f.dispatcher(nil, f.now).Dispatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{Sent: 2, NoUID: 1}, res)
	sent := f.sender.Sent()
	require.Len(t, sent, 2)

	texts := map[string]string{}
	for _, s := range sent {
		texts[s.Push.To] = s.Push.Messages[0].Text
		assert.NotEmpty(t, s.Push.RetryKey)
	}
	assert.Equal(t, "山田様 2026/2/18 08:00-8:15 のご予約です", texts["U1"])
	assert.Equal(t, "佐藤様 2026/2/18 13:00-13:15 のご予約です", texts["U2"])
	assert.Len(t, f.recorder.Events(events.ReminderSent), 2)
}

func TestDispatch_OutsideWindowSendsNothing(t *testing.T) {
	f := newFixture(t)

	for _, at := range []time.Time{f.now.Add(-15 * time.Minute), f.now.Add(time.Minute)} {
		res, err := f.dispatcher(nil, at).Dispatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)
	}
	assert.Empty(t, f.sender.Sent())
}

func TestDispatch_IdempotentWithinWindow(t *testing.T) {
	f := newFixture(t)

	first, err := f.dispatcher(nil, f.now.Add(-10*time.Minute)).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Sent)

	second, err := f.dispatcher(nil, f.now).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 1, second.NoUID)
	assert.Len(t, f.sender.Sent(), 2)
}

func TestDispatch_FailedSendIsRetried(t *testing.T) {
	f := newFixture(t)
	f.sender.SetFailFor("U2", true)

	first, err := f.dispatcher(nil, f.now.Add(-5*time.Minute)).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1, Failed: 1, NoUID: 1}, first)

	f.sender.SetFailFor("U2", false)
	second, err := f.dispatcher(nil, f.now).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1, NoUID: 1, Skipped: 1}, second)
}

func TestDispatch_RedisGuardBlocksResendAfterLogFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failLog = true

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	guard := NewRedisGuard(client, 20*time.Minute)

	first, err := f.dispatcher(guard, f.now.Add(-5*time.Minute)).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Sent)

	second, err := f.dispatcher(guard, f.now).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 2, second.Skipped)
	assert.Len(t, f.sender.Sent(), 2)
}

func TestDispatch_GuardReleasedOnFailure(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	guard := NewRedisGuard(client, 20*time.Minute)

	f.sender.SetFailOnSend(true)
	res, err := f.dispatcher(guard, f.now).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Empty(t, mr.Keys())
}

func TestDispatch_DisabledRuleIgnored(t *testing.T) {
	f := newFixture(t)
	f.store.rules[f.tenant][0].IsEnabled = false

	res, err := f.dispatcher(nil, f.now).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestDispatch_TenantFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	broken := types.NewID()
	f.store.tenants = append([]types.ID{broken}, f.store.tenants...)
	f.store.failRules[broken] = true

	res, err := f.dispatcher(nil, f.now).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], broken.String())
	assert.Contains(t, res.Errors[0], "rules unavailable")
}

func TestDispatch_TenantListFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failTenants = true

	_, err := f.dispatcher(nil, f.now).Dispatch(context.Background())
	require.Error(t, err)
	assert.Empty(t, f.sender.Sent())
}

func dispatchSeconds(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "reminder_dispatch_duration_seconds" {
			return mf.GetMetric()[0].GetHistogram().GetSampleSum()
		}
	}
	return 0
}

func TestDispatch_DurationUsesWallClock(t *testing.T) {
	f := newFixture(t)
	before := dispatchSeconds(t)

	// The fixture clock is months away from the wall clock.
	_, err := f.dispatcher(nil, f.now).Dispatch(context.Background())
	require.NoError(t, err)

	assert.Less(t, dispatchSeconds(t)-before, 60.0)
}

func TestDispatch_MidnightRule(t *testing.T) {
	f := newFixture(t)
	f.store.rules[f.tenant][0].SendHour = 0
	f.store.rules[f.tenant][0].TargetDayOffset = 0

	// 23:50 on the 17th is inside the 00:00 window, and "today" is still the 17th.
	at := time.Date(2026, 2, 17, 23, 50, 0, 0, schedule.JST)
	f.store.addReservation(f.tenant, Target{ReservationID: types.NewID(), PatientName: "高橋", LineUserID: "U9", Date: "2026-02-17", StartTime: "10:00"})

	res, err := f.dispatcher(nil, at).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestDispatch_BeforeHours(t *testing.T) {
	f := newFixture(t)
	f.store.rules[f.tenant] = []Rule{{
		ID:              types.NewID(),
		TenantID:        f.tenant,
		Name:            "2時間前",
		IsEnabled:       true,
		TimingType:      TimingBeforeHours,
		SendHour:        2,
		MessageFormat:   FormatFlex,
		MessageTemplate: "",
	}}

	// 13:00 reservation fires at 11:00 JST on the 18th.
	at := time.Date(2026, 2, 18, 10, 50, 0, 0, schedule.JST)
	res, err := f.dispatcher(nil, at).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1}, res)

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "U2", sent[0].Push.To)
	assert.Equal(t, notification.MessageFlex, sent[0].Push.Messages[0].Type)
}
