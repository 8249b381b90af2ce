package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinicops/platform/internal/shared/types"
)

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireRole(RoleAdmin, RoleOffice)(ok)

	tests := []struct {
		name  string
		staff *Staff
		want  int
	}{
		{"office", &Staff{TenantID: types.NewID(), Roles: []string{RoleOffice}}, http.StatusNoContent},
		{"clinician", &Staff{TenantID: types.NewID(), Roles: []string{RoleClinician}}, http.StatusForbidden},
		{"no roles", &Staff{TenantID: types.NewID()}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.staff != nil {
				req = req.WithContext(WithStaff(req.Context(), tt.staff))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestDevTenantIsAdmin(t *testing.T) {
	h := DevTenant(types.NewID())(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
