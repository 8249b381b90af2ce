package reminder

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinicops/platform/internal/shared/auth"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/types"
)

// RuleStore is the CRUD surface over reminder rules.
type RuleStore interface {
	ListRules(ctx context.Context, tenantID types.ID) ([]Rule, error)
	GetRule(ctx context.Context, tenantID, id types.ID) (*Rule, error)
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, tenantID, id types.ID) error
}

// Handler handles HTTP requests for reminder rules and the dispatch trigger
type Handler struct {
	rules      RuleStore
	dispatcher *Dispatcher
}

// NewHandler creates a new reminder handler.
func NewHandler(rules RuleStore, dispatcher *Dispatcher) *Handler {
	return &Handler{rules: rules, dispatcher: dispatcher}
}

// Routes returns the rule CRUD router, mounted under /reminder-rules.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.listRules)
	r.Post("/", h.createRule)
	r.Get("/{id}", h.getRule)
	r.Put("/{id}", h.updateRule)
	r.Delete("/{id}", h.deleteRule)

	return r
}

// DispatchRoutes returns the cron trigger router, mounted under /reminders.
func (h *Handler) DispatchRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/dispatch", h.dispatch)
	return r
}

// RuleRequest is the body of create and update.
type RuleRequest struct {
	Name            string        `json:"name"`
	IsEnabled       *bool         `json:"is_enabled"`
	TimingType      TimingType    `json:"timing_type"`
	SendHour        int           `json:"send_hour"`
	SendMinute      int           `json:"send_minute"`
	TargetDayOffset *int          `json:"target_day_offset"`
	MessageFormat   MessageFormat `json:"message_format"`
	MessageTemplate string        `json:"message_template"`
}

func (req RuleRequest) apply(rule *Rule) {
	rule.Name = req.Name
	rule.IsEnabled = true
	if req.IsEnabled != nil {
		rule.IsEnabled = *req.IsEnabled
	}
	rule.TimingType = req.TimingType
	if rule.TimingType == "" {
		rule.TimingType = TimingFixedTime
	}
	rule.SendHour = req.SendHour
	rule.SendMinute = req.SendMinute
	rule.TargetDayOffset = 1
	if req.TargetDayOffset != nil {
		rule.TargetDayOffset = *req.TargetDayOffset
	}
	rule.MessageFormat = req.MessageFormat
	if rule.MessageFormat == "" {
		rule.MessageFormat = FormatText
	}
	rule.MessageTemplate = req.MessageTemplate
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	rules, err := h.rules.ListRules(r.Context(), tenantID)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to list reminder rules"))
		return
	}
	if rules == nil {
		rules = []Rule{}
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	rule, err := h.rules.GetRule(r.Context(), tenantID, id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	rule := &Rule{TenantID: tenantID}
	req.apply(rule)
	if err := ValidateRule(*rule); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	if err := h.rules.CreateRule(r.Context(), rule); err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to create reminder rule"))
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	rule, err := h.rules.GetRule(r.Context(), tenantID, id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	req.apply(rule)
	if err := ValidateRule(*rule); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	if err := h.rules.UpdateRule(r.Context(), rule); err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to update reminder rule"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if err := h.rules.DeleteRule(r.Context(), tenantID, id); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, nil)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.dispatcher.Dispatch(r.Context())
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "reminder dispatch failed"))
		return
	}
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"sent":    res.Sent,
		"failed":  res.Failed,
		"no_uid":  res.NoUID,
		"skipped": res.Skipped,
		"errors":  errs,
	})
}

func tenantAndID(r *http.Request) (types.ID, types.ID, error) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		return "", "", err
	}
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		return "", "", apperrors.BadRequest("invalid rule ID")
	}
	return tenantID, id, nil
}
