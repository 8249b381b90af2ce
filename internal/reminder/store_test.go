package reminder

import (
	"context"
	"errors"
	"sync"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/types"
)

// memStore is an in-memory Store and RuleStore for tests.
type memStore struct {
	mu           sync.Mutex
	tenants      []types.ID
	rules        map[types.ID][]Rule
	reservations map[types.ID]map[string][]Target
	logs         map[string]SendLogEntry
	failRules    map[types.ID]bool
	failLog      bool
	failTenants  bool
}

func newMemStore() *memStore {
	return &memStore{
		rules:        make(map[types.ID][]Rule),
		reservations: make(map[types.ID]map[string][]Target),
		logs:         make(map[string]SendLogEntry),
		failRules:    make(map[types.ID]bool),
	}
}

func logKey(ruleID, reservationID types.ID, day string) string {
	return ruleID.String() + "|" + reservationID.String() + "|" + day
}

func (m *memStore) addTenant(id types.ID) { m.tenants = append(m.tenants, id) }

func (m *memStore) addRule(r Rule) {
	m.rules[r.TenantID] = append(m.rules[r.TenantID], r)
}

func (m *memStore) addReservation(tenantID types.ID, t Target) {
	if m.reservations[tenantID] == nil {
		m.reservations[tenantID] = make(map[string][]Target)
	}
	m.reservations[tenantID][t.Date] = append(m.reservations[tenantID][t.Date], t)
}

func (m *memStore) ListActiveTenants(context.Context) ([]types.ID, error) {
	if m.failTenants {
		return nil, errors.New("database unavailable")
	}
	return m.tenants, nil
}

func (m *memStore) ListEnabledRules(_ context.Context, tenantID types.ID) ([]Rule, error) {
	if m.failRules[tenantID] {
		return nil, errors.New("rules unavailable")
	}
	var out []Rule
	for _, r := range m.rules[tenantID] {
		if r.IsEnabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListReservations(_ context.Context, tenantID types.ID, date string) ([]Target, error) {
	return m.reservations[tenantID][date], nil
}

func (m *memStore) HasSent(_ context.Context, _ types.ID, ruleID, reservationID types.ID, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.logs[logKey(ruleID, reservationID, day)]
	return ok, nil
}

func (m *memStore) RecordSent(_ context.Context, e SendLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLog {
		return errors.New("log write failed")
	}
	key := logKey(e.RuleID, e.ReservationID, e.SentDate)
	if _, ok := m.logs[key]; !ok {
		m.logs[key] = e
	}
	return nil
}

func (m *memStore) ListRules(_ context.Context, tenantID types.ID) ([]Rule, error) {
	return m.rules[tenantID], nil
}

func (m *memStore) GetRule(_ context.Context, tenantID, id types.ID) (*Rule, error) {
	for _, r := range m.rules[tenantID] {
		if r.ID == id {
			r := r
			return &r, nil
		}
	}
	return nil, apperrors.NotFound("reminder rule", id.String())
}

func (m *memStore) CreateRule(_ context.Context, rule *Rule) error {
	rule.ID = types.NewID()
	m.addRule(*rule)
	return nil
}

func (m *memStore) UpdateRule(_ context.Context, rule *Rule) error {
	for i, r := range m.rules[rule.TenantID] {
		if r.ID == rule.ID {
			m.rules[rule.TenantID][i] = *rule
			return nil
		}
	}
	return apperrors.NotFound("reminder rule", rule.ID.String())
}

func (m *memStore) DeleteRule(_ context.Context, tenantID, id types.ID) error {
	rules := m.rules[tenantID]
	for i, r := range rules {
		if r.ID == id {
			m.rules[tenantID] = append(rules[:i], rules[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFound("reminder rule", id.String())
}
