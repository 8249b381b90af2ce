package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicops/platform/internal/shared/tenant"
	"github.com/clinicops/platform/internal/shared/types"
)

// Well-known setting keys. The environment variable fallback uses the same name.
const (
	LineChannelAccessToken = "LINE_CHANNEL_ACCESS_TOKEN"
	EHRProvider            = "EHR_PROVIDER"
	EHRCSVDir              = "EHR_CSV_DIR"
	ORCAHost               = "ORCA_HOST"
	ORCAPort               = "ORCA_PORT"
	ORCAUser               = "ORCA_USER"
	ORCAPassword           = "ORCA_PASSWORD"
	ORCAIsWeb              = "ORCA_IS_WEB"
	FHIRBaseURL            = "FHIR_BASE_URL"
	FHIRToken              = "FHIR_TOKEN"
)

// Store reads a single tenant setting. ok is false when the tenant has no
// value for key.
type Store interface {
	Get(ctx context.Context, tenantID types.ID, key string) (value string, ok bool, err error)
}

// Resolver resolves a setting for a tenant, falling back to the process
// environment when the tenant has not set it.
type Resolver struct {
	store  Store
	lookup func(string) (string, bool)
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	tenant types.ID
	key    string
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// NewResolver creates a Resolver caching values for ttl. A zero ttl disables the cache.
func NewResolver(store Store, ttl time.Duration) *Resolver {
	return &Resolver{
		store:  store,
		lookup: os.LookupEnv,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[cacheKey]cacheEntry),
	}
}

// WithEnv replaces the environment lookup. Tests use it.
func (r *Resolver) WithEnv(lookup func(string) (string, bool)) *Resolver {
	r.lookup = lookup
	return r
}

// Resolve returns the tenant's value for key, else the environment's, else "".
func (r *Resolver) Resolve(ctx context.Context, tenantID types.ID, key string) (string, error) {
	ck := cacheKey{tenantID, key}
	if r.ttl > 0 {
		r.mu.Lock()
		e, ok := r.cache[ck]
		r.mu.Unlock()
		if ok && r.now().Before(e.expires) {
			return e.value, nil
		}
	}

	value, found := "", false
	if r.store != nil && !tenantID.IsZero() {
		v, ok, err := r.store.Get(ctx, tenantID, key)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", key, err)
		}
		value, found = v, ok && v != ""
	}
	if !found {
		value, _ = r.lookup(key)
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[ck] = cacheEntry{value: value, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return value, nil
}

// PostgresStore reads tenant_settings.
type PostgresStore struct {
	q tenant.Querier
}

// NewPostgresStore creates a settings store over tenant_settings.
func NewPostgresStore(q tenant.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

// Get returns the tenant's value for key and whether it is set.
func (s *PostgresStore) Get(ctx context.Context, tenantID types.ID, key string) (string, bool, error) {
	var value string
	err := s.q.QueryRow(ctx,
		`SELECT value FROM tenant_settings WHERE tenant_id = $1 AND key = $2`,
		tenantID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// MapStore is an in-memory Store keyed by tenant then setting key.
type MapStore map[types.ID]map[string]string

func (m MapStore) Get(_ context.Context, tenantID types.ID, key string) (string, bool, error) {
	v, ok := m[tenantID][key]
	return v, ok, nil
}
