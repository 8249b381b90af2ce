package ehrsync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicops/platform/internal/adapters/ehr"
	"github.com/clinicops/platform/internal/shared/auth"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/types"
	"github.com/clinicops/platform/internal/shared/upload"
)

// utf8BOM prefixes CSV downloads so spreadsheet software detects UTF-8.
const utf8BOM = "\ufeff"

// maxBulkPush bounds one bulk push request.
const maxBulkPush = 200

// Handler handles HTTP requests for EHR interchange
type Handler struct {
	service *Service
}

// NewHandler creates a new EHR handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router mounted under /ehr.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/connection", h.testConnection)
	r.Get("/patients/search", h.search)
	r.Post("/patients/push", h.pushPatients)
	r.Post("/patients/{id}/push", h.pushPatient)
	r.Post("/patients/{id}/pull", h.pullPatient)
	r.Post("/kartes/{id}/push", h.pushKarte)

	r.Get("/export/patients", h.exportPatients)
	r.Get("/export/kartes", h.exportKartes)
	r.Post("/import/patients", h.importPatients)
	r.Post("/import/kartes", h.importKartes)

	return r
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	res, err := h.service.TestConnection(r.Context(), tenantID)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"connection": res})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	criteria := ehr.SearchCriteria{
		Name:     q.Get("name"),
		NameKana: q.Get("kana"),
		Birthday: q.Get("birthday"),
		Tel:      q.Get("tel"),
	}
	if v := q.Get("limit"); v != "" {
		if criteria.Limit, err = strconv.Atoi(v); err != nil || criteria.Limit < 0 {
			apperrors.WriteError(w, apperrors.BadRequest("invalid limit"))
			return
		}
	}
	patients, err := h.service.SearchPatients(r.Context(), tenantID, criteria)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"patients": patients})
}

func (h *Handler) pushPatient(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r, "patient")
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	res, err := h.service.PushPatient(r.Context(), tenantID, id)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "patient push failed"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (h *Handler) pushPatients(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	var req struct {
		PatientIDs []string `json:"patient_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.BadRequest("invalid request body"))
		return
	}
	if len(req.PatientIDs) == 0 || len(req.PatientIDs) > maxBulkPush {
		apperrors.WriteError(w, apperrors.Validation("invalid push request",
			map[string]string{"patient_ids": fmt.Sprintf("between 1 and %d ids are required", maxBulkPush)}))
		return
	}
	ids := make([]types.ID, 0, len(req.PatientIDs))
	for _, raw := range req.PatientIDs {
		id, err := types.ParseID(raw)
		if err != nil {
			apperrors.WriteError(w, apperrors.BadRequest(fmt.Sprintf("invalid patient ID %q", raw)))
			return
		}
		ids = append(ids, id)
	}

	outcomes, err := h.service.PushPatients(r.Context(), tenantID, ids)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	pushed := 0
	for _, o := range outcomes {
		if o.OK {
			pushed++
		}
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"results": outcomes,
		"summary": map[string]int{
			"total":  len(outcomes),
			"pushed": pushed,
			"failed": len(outcomes) - pushed,
		},
	})
}

func (h *Handler) pullPatient(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r, "patient")
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	update, err := h.service.PullPatient(r.Context(), tenantID, id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"updated": update})
}

func (h *Handler) pushKarte(w http.ResponseWriter, r *http.Request) {
	tenantID, id, err := tenantAndID(r, "karte")
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	res, err := h.service.PushKarte(r.Context(), tenantID, id)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "karte push failed"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (h *Handler) exportPatients(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	text, err := h.service.ExportPatientsCSV(r.Context(), tenantID)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "patient export failed"))
		return
	}
	writeCSV(w, "patients", text)
}

func (h *Handler) exportKartes(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	text, err := h.service.ExportKartesCSV(r.Context(), tenantID)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "karte export failed"))
		return
	}
	writeCSV(w, "kartes", text)
}

func (h *Handler) importPatients(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	body, err := upload.Read(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	res, err := h.service.ImportPatientsCSV(r.Context(), tenantID, string(body))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (h *Handler) importKartes(w http.ResponseWriter, r *http.Request) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	body, err := upload.Read(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	res, err := h.service.ImportKartesCSV(r.Context(), tenantID, string(body))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{"result": res})
}

func writeCSV(w http.ResponseWriter, kind, text string) {
	name := fmt.Sprintf("%s-%s.csv", kind, time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(utf8BOM + text))
}

func tenantAndID(r *http.Request, resource string) (types.ID, types.ID, error) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		return "", "", err
	}
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		return "", "", apperrors.BadRequest("invalid " + resource + " ID")
	}
	return tenantID, id, nil
}
