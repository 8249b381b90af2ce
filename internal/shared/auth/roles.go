package auth

import (
	"net/http"
	"slices"

	apperrors "github.com/clinicops/platform/internal/shared/errors"
)

// Staff roles carried in the token's roles claim.
const (
	RoleAdmin     = "admin"     // clinic owner, settings and integrations
	RoleOffice    = "office"    // reception and billing
	RoleClinician = "clinician" // doctors and nurses
)

// HasAnyRole reports whether the staff member holds one of roles.
func (s *Staff) HasAnyRole(roles ...string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

// RequireRole rejects requests from staff holding none of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			staff := GetStaff(r.Context())
			if staff == nil {
				apperrors.WriteError(w, apperrors.Unauthorized("authentication required"))
				return
			}
			if !staff.HasAnyRole(roles...) {
				apperrors.WriteError(w, apperrors.Forbidden("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
