package scenario

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/clinicops/platform/internal/shared/auth"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/events"
	"github.com/clinicops/platform/internal/shared/types"
)

// Store is what the HTTP handler needs from persistence.
type Store interface {
	ListScenarios(ctx context.Context, tenantID types.ID) ([]Scenario, error)
	GetScenario(ctx context.Context, tenantID, id types.ID) (*Scenario, error)
	CreateScenario(ctx context.Context, s *Scenario) error
	ListSteps(ctx context.Context, tenantID, scenarioID types.ID) ([]Step, error)
	ReplaceSteps(ctx context.Context, tenantID, scenarioID types.ID, steps []Step) error
}

// Handler handles HTTP requests for scenarios
type Handler struct {
	store     Store
	runner    *Runner
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewHandler creates a new scenario handler.
func NewHandler(store Store, runner *Runner, publisher events.Publisher, logger zerolog.Logger) *Handler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Handler{store: store, runner: runner, publisher: publisher, logger: logger}
}

// Routes returns the router mounted under /scenarios.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}/graph", h.getGraph)
	r.Put("/{id}/graph", h.putGraph)
	r.Post("/{id}/enrollments", h.enroll)

	return r
}

// RunRoutes returns the cron trigger router, mounted under /scenario-runs.
func (h *Handler) RunRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.run)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	scenarios, err := h.store.ListScenarios(r.Context(), tenantID)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to list scenarios"))
		return
	}
	if scenarios == nil {
		scenarios = []Scenario{}
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios})
}

type createRequest struct {
	Name        string `json:"name"`
	TriggerType string `json:"trigger_type"`
	IsEnabled   *bool  `json:"is_enabled"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if req.Name == "" {
		apperrors.WriteError(w, apperrors.Validation("invalid scenario", map[string]string{"name": "name is required"}))
		return
	}

	s := &Scenario{TenantID: tenantID, Name: req.Name, TriggerType: req.TriggerType, IsEnabled: true}
	if req.IsEnabled != nil {
		s.IsEnabled = *req.IsEnabled
	}
	if err := h.store.CreateScenario(r.Context(), s); err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to create scenario"))
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, map[string]any{"scenario": s})
}

func (h *Handler) getGraph(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if _, err := h.store.GetScenario(r.Context(), tenantID, id); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	steps, err := h.store.ListSteps(r.Context(), tenantID, id)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to load steps"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"graph": StepsToGraph(steps)})
}

// putGraph replaces the scenario's steps with the compiled graph.
func (h *Handler) putGraph(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	var g Graph
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid graph body"))
		return
	}

	steps, err := GraphToSteps(g)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if err := ValidateSteps(steps); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if err := h.store.ReplaceSteps(r.Context(), tenantID, id, steps); err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to save scenario"))
		return
	}

	if err := h.publisher.Publish(r.Context(), events.NewEvent(events.ScenarioSaved, "scenario", tenantID, map[string]any{
		"scenario_id": id,
		"steps":       len(steps),
	})); err != nil {
		h.logger.Warn().Err(err).Msg("publish scenario.saved failed")
	}

	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"steps": len(steps),
		"graph": StepsToGraph(steps),
	})
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	var req struct {
		PatientID types.ID `json:"patient_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	patientID, err := types.ParseID(req.PatientID.String())
	if err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid patient ID"))
		return
	}
	if _, err := h.store.GetScenario(r.Context(), tenantID, id); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	created, err := h.runner.Enroll(r.Context(), tenantID, id, patientID)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to enroll patient"))
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	apperrors.WriteJSON(w, status, map[string]any{"created": created})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	res, err := h.runner.RunDue(r.Context())
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "scenario run failed"))
		return
	}
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"advanced":  res.Advanced,
		"completed": res.Completed,
		"exited":    res.Exited,
		"failed":    res.Failed,
		"errors":    errs,
	})
}

func tenantAndID(r *http.Request) (types.ID, types.ID, error) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		return "", "", err
	}
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		return "", "", apperrors.BadRequest("invalid scenario ID")
	}
	return tenantID, id, nil
}
