package scenario

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/types"
)

type sentText struct {
	PatientID types.ID
	Text      string
}

// recorder implements Messenger, TagWriter and MarkWriter.
type recorder struct {
	mu       sync.Mutex
	texts    []sentText
	tagOps   []string
	marks    []string
	failSend bool

	// gate, when set, holds every send until it is closed.
	gate chan struct{}
}

func (r *recorder) SendText(_ context.Context, _, patientID types.ID, text string) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSend {
		return errors.New("line unavailable")
	}
	r.texts = append(r.texts, sentText{PatientID: patientID, Text: text})
	return nil
}

func (r *recorder) SendTemplate(ctx context.Context, tenantID, patientID types.ID, templateID string) error {
	return r.SendText(ctx, tenantID, patientID, "template:"+templateID)
}

func (r *recorder) AddTag(_ context.Context, _, _ types.ID, tagID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tagOps = append(r.tagOps, "+"+strconv.FormatInt(tagID, 10))
	return nil
}

func (r *recorder) RemoveTag(_ context.Context, _, _ types.ID, tagID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tagOps = append(r.tagOps, "-"+strconv.FormatInt(tagID, 10))
	return nil
}

func (r *recorder) SetMark(_ context.Context, _, _ types.ID, mark string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, mark)
	return nil
}

func (r *recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.texts))
	for _, t := range r.texts {
		out = append(out, t.Text)
	}
	return out
}

// memStore is an in-memory Store and RunnerStore.
type memStore struct {
	mu          sync.Mutex
	tenants     []types.ID
	scenarios   map[types.ID]Scenario
	steps       map[types.ID][]Step
	enrollments map[types.ID]Enrollment
	states      map[types.ID]PatientState
	leases      map[types.ID]time.Time
	claims      int
	failClaim   map[types.ID]bool
	replaced    int
}

func newMemStore() *memStore {
	return &memStore{
		scenarios:   make(map[types.ID]Scenario),
		steps:       make(map[types.ID][]Step),
		enrollments: make(map[types.ID]Enrollment),
		states:      make(map[types.ID]PatientState),
		leases:      make(map[types.ID]time.Time),
		failClaim:   make(map[types.ID]bool),
	}
}

func (m *memStore) ListActiveTenants(context.Context) ([]types.ID, error) {
	return m.tenants, nil
}

func (m *memStore) ListScenarios(_ context.Context, tenantID types.ID) ([]Scenario, error) {
	var out []Scenario
	for _, s := range m.scenarios {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetScenario(_ context.Context, tenantID, id types.ID) (*Scenario, error) {
	s, ok := m.scenarios[id]
	if !ok || s.TenantID != tenantID {
		return nil, apperrors.NotFound("scenario", id.String())
	}
	return &s, nil
}

func (m *memStore) CreateScenario(_ context.Context, s *Scenario) error {
	s.ID = types.NewID()
	m.scenarios[s.ID] = *s
	return nil
}

func (m *memStore) ListSteps(_ context.Context, tenantID, scenarioID types.ID) ([]Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.scenarios[scenarioID]; ok && s.TenantID != tenantID {
		return nil, nil
	}
	return m.steps[scenarioID], nil
}

func (m *memStore) ReplaceSteps(_ context.Context, tenantID, scenarioID types.ID, steps []Step) error {
	s, ok := m.scenarios[scenarioID]
	if !ok || s.TenantID != tenantID {
		return apperrors.NotFound("scenario", scenarioID.String())
	}
	m.steps[scenarioID] = steps
	m.replaced++
	return nil
}

func (m *memStore) ClaimDueEnrollments(_ context.Context, tenantID types.ID, now, leaseUntil time.Time, limit int) ([]Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims++
	if m.failClaim[tenantID] {
		return nil, errors.New("enrollments unavailable")
	}
	var out []Enrollment
	for id, en := range m.enrollments {
		if len(out) == limit {
			break
		}
		if en.TenantID != tenantID || en.Status != EnrollmentActive || en.NextFireAt == nil || en.NextFireAt.After(now) {
			continue
		}
		if lease, ok := m.leases[id]; ok && lease.After(now) {
			continue
		}
		m.leases[id] = leaseUntil
		out = append(out, en)
	}
	return out, nil
}

func (m *memStore) claimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims
}

func (m *memStore) LoadPatientState(_ context.Context, _, patientID types.ID) (PatientState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[patientID], nil
}

func (m *memStore) CreateEnrollment(_ context.Context, en Enrollment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.ScenarioID == en.ScenarioID && e.PatientID == en.PatientID {
			return false, nil
		}
	}
	m.enrollments[en.ID] = en
	return true, nil
}

func (m *memStore) SaveEnrollment(_ context.Context, en Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[en.ID] = en
	delete(m.leases, en.ID)
	return nil
}

func (m *memStore) enrollment(id types.ID) Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enrollments[id]
}
