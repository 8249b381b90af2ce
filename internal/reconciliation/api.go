package reconciliation

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinicops/platform/internal/shared/auth"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/types"
	"github.com/clinicops/platform/internal/shared/upload"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler handles reconciliation uploads
type Handler struct {
	service *Service
}

// NewHandler creates a new reconciliation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router mounted under /reconciliation.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/bank-transfer/preview", h.preview)
	r.Post("/bank-transfer/apply", h.apply)
	r.Post("/bank-transfer/report", h.report)
	r.Post("/tracking", h.tracking)

	return r
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	tenantID, text, err := bankUpload(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	res, err := h.service.Preview(r.Context(), tenantID, text)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "reconciliation failed"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, resultPayload(res))
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	tenantID, text, err := bankUpload(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	res, err := h.service.Apply(r.Context(), tenantID, text)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "reconciliation failed"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, resultPayload(res))
}

// report returns the preview as an XLSX download.
func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	tenantID, text, err := bankUpload(r)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	res, err := h.service.Preview(r.Context(), tenantID, text)
	if err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "reconciliation failed"))
		return
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, res); err != nil {
		apperrors.WriteError(w, apperrors.Wrap(err, "failed to build report"))
		return
	}
	name := fmt.Sprintf("reconciliation-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) tracking(w http.ResponseWriter, r *http.Request) {
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
	rows, err := ParseTrackingCSV(bytes.NewReader(body))
	if err != nil {
		apperrors.WriteError(w, apperrors.BadRequest(err.Error()))
		return
	}
	res := h.service.ApplyTracking(r.Context(), tenantID, rows)
	apperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"rows": res.Rows,
		"summary": map[string]int{
			"total":   res.Total,
			"updated": res.Updated,
			"failed":  res.Failed,
		},
	})
}

func resultPayload(res Result) map[string]any {
	return map[string]any{
		"matched":   res.Matched,
		"unmatched": res.Unmatched,
		"summary":   res.Summary,
	}
}

func bankUpload(r *http.Request) (types.ID, string, error) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		return "", "", err
	}
	body, err := upload.Read(r)
	if err != nil {
		return "", "", err
	}
	return tenantID, string(body), nil
}
