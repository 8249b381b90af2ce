package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicops/platform/internal/shared/types"
)

// RunnerStore is the persistence the runner needs.
type RunnerStore interface {
	ListActiveTenants(ctx context.Context) ([]types.ID, error)
	ClaimDueEnrollments(ctx context.Context, tenantID types.ID, now, leaseUntil time.Time, limit int) ([]Enrollment, error)
	ListSteps(ctx context.Context, tenantID, scenarioID types.ID) ([]Step, error)
	LoadPatientState(ctx context.Context, tenantID, patientID types.ID) (PatientState, error)
	CreateEnrollment(ctx context.Context, en Enrollment) (bool, error)
	SaveEnrollment(ctx context.Context, en Enrollment) error
}

// RunResult aggregates one RunDue pass.
type RunResult struct {
	Advanced  int      `json:"advanced"`
	Completed int      `json:"completed"`
	Exited    int      `json:"exited"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Add accumulates o into r.
func (r *RunResult) Add(o RunResult) {
	r.Advanced += o.Advanced
	r.Completed += o.Completed
	r.Exited += o.Exited
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// RunnerConfig tunes a Runner. Lease is how long a claimed enrollment is
// hidden from other passes before it can be claimed again.
type RunnerConfig struct {
	Concurrency int
	BatchSize   int
	Lease       time.Duration
	Now         func() time.Time
}

const defaultLease = 10 * time.Minute

// Runner advances every due enrollment of every active tenant.
type Runner struct {
	store       RunnerStore
	engine      *Engine
	logger      zerolog.Logger
	concurrency int
	batchSize   int
	lease       time.Duration
	now         func() time.Time
}

// NewRunner creates a new Runner.
func NewRunner(store RunnerStore, engine *Engine, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	r := &Runner{
		store:       store,
		engine:      engine,
		logger:      logger.With().Str("component", "scenario_runner").Logger(),
		concurrency: cfg.Concurrency,
		batchSize:   cfg.BatchSize,
		lease:       cfg.Lease,
		now:         cfg.Now,
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	if r.batchSize <= 0 {
		r.batchSize = 500
	}
	if r.lease <= 0 {
		r.lease = defaultLease
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Enroll starts a patient on a scenario. An existing enrollment is left as
// it is and reported as not created.
func (r *Runner) Enroll(ctx context.Context, tenantID, scenarioID, patientID types.ID) (bool, error) {
	steps, err := r.store.ListSteps(ctx, tenantID, scenarioID)
	if err != nil {
		return false, fmt.Errorf("load steps: %w", err)
	}
	en, err := r.engine.Start(Compile(scenarioID, steps), Enrollment{
		ID:         types.NewID(),
		TenantID:   tenantID,
		ScenarioID: scenarioID,
		PatientID:  patientID,
	}, r.now())
	if err != nil {
		return false, err
	}
	return r.store.CreateEnrollment(ctx, en)
}

// RunDue advances what is due now. A tenant that cannot be loaded is
// reported in RunResult.Errors; an enrollment that fails is counted and
// retried on the next pass. The error is set only when the tenant list
// cannot be loaded.
func (r *Runner) RunDue(ctx context.Context) (RunResult, error) {
	now := r.now()
	tenants, err := r.store.ListActiveTenants(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("list tenants: %w", err)
	}

	var total RunResult
	for _, tenantID := range tenants {
		res, err := r.runTenant(ctx, tenantID, now)
		total.Add(res)
		if err != nil {
			r.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("tenant scenario run incomplete")
			total.Errors = append(total.Errors, fmt.Sprintf("tenant %s: %v", tenantID, err))
		}
	}

	r.logger.Info().
		Int("tenants", len(tenants)).
		Int("advanced", total.Advanced).
		Int("completed", total.Completed).
		Int("exited", total.Exited).
		Int("failed", total.Failed).
		Int("errors", len(total.Errors)).
		Msg("scenario run finished")

	return total, nil
}

func (r *Runner) runTenant(ctx context.Context, tenantID types.ID, now time.Time) (RunResult, error) {
	// A claimed enrollment is released by SaveEnrollment. One that fails
	// before it is saved stays hidden until the lease runs out.
	due, err := r.store.ClaimDueEnrollments(ctx, tenantID, now, now.Add(r.lease), r.batchSize)
	if err != nil {
		return RunResult{}, fmt.Errorf("claim due enrollments: %w", err)
	}

	programs := make(map[types.ID]*Program)
	for _, en := range due {
		if _, ok := programs[en.ScenarioID]; ok {
			continue
		}
		steps, err := r.store.ListSteps(ctx, tenantID, en.ScenarioID)
		if err != nil {
			return RunResult{}, fmt.Errorf("load scenario %s: %w", en.ScenarioID, err)
		}
		programs[en.ScenarioID] = Compile(en.ScenarioID, steps)
	}

	var (
		mu  sync.Mutex
		res RunResult
		g   errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for _, en := range due {
		en := en
		g.Go(func() error {
			status, err := r.advanceOne(ctx, programs[en.ScenarioID], en, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
			case status == EnrollmentCompleted:
				res.Completed++
			case status == EnrollmentExited:
				res.Exited++
			default:
				res.Advanced++
			}
			return nil
		})
	}
	g.Wait()
	return res, nil
}

func (r *Runner) advanceOne(ctx context.Context, p *Program, en Enrollment, now time.Time) (EnrollmentStatus, error) {
	log := r.logger.With().
		Str("tenant_id", en.TenantID.String()).
		Str("enrollment_id", en.ID.String()).
		Int("step", en.CurrentStep).
		Logger()

	state, err := r.store.LoadPatientState(ctx, en.TenantID, en.PatientID)
	if err != nil {
		log.Error().Err(err).Msg("load patient state failed")
		return "", err
	}

	next, runErr := r.engine.Advance(ctx, p, &state, en, now)
	if runErr != nil {
		log.Warn().Err(runErr).Msg("scenario step failed")
	}
	if err := r.store.SaveEnrollment(ctx, next); err != nil {
		log.Error().Err(err).Msg("save enrollment failed")
		return "", err
	}
	return next.Status, runErr
}
