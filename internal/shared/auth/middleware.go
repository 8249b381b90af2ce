package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicops/platform/internal/shared/config"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
	"github.com/clinicops/platform/internal/shared/types"
)

type contextKey string

const (
	StaffContextKey contextKey = "staff"
)

// Staff is the authenticated clinic staff member behind a request.
type Staff struct {
	ID       types.ID `json:"sub"`
	TenantID types.ID `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Claims extends JWT claims with the tenant the token is scoped to.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Middleware authenticates HS256 bearer tokens. A token without a tenant
// claim is rejected since every API call is tenant-scoped.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperrors.WriteError(w, apperrors.Unauthorized("missing authorization header"))
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				apperrors.WriteError(w, apperrors.Unauthorized("invalid authorization header format"))
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				apperrors.WriteError(w, apperrors.Unauthorized("invalid token"))
				return
			}

			tenantID, err := types.ParseID(claims.TenantID)
			if err != nil {
				apperrors.WriteError(w, apperrors.Unauthorized("token has no tenant"))
				return
			}

			staff := &Staff{
				ID:       types.ID(claims.Subject),
				TenantID: tenantID,
				Roles:    claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(WithStaff(r.Context(), staff)))
		})
	}
}

// DevTenant injects a fixed tenant when auth is disabled outside production.
// The X-Tenant-ID header overrides it.
func DevTenant(defaultTenant types.ID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := defaultTenant
			if h := r.Header.Get("X-Tenant-ID"); h != "" {
				if id, err := types.ParseID(h); err == nil {
					tenantID = id
				}
			}
			staff := &Staff{ID: "dev", TenantID: tenantID, Roles: []string{"admin"}}
			next.ServeHTTP(w, r.WithContext(WithStaff(r.Context(), staff)))
		})
	}
}

// CronSecret guards trigger endpoints called by an external scheduler.
func CronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Cron-Secret")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				apperrors.WriteError(w, apperrors.Unauthorized("invalid cron secret"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithStaff returns ctx carrying staff.
func WithStaff(ctx context.Context, staff *Staff) context.Context {
	return context.WithValue(ctx, StaffContextKey, staff)
}

// GetStaff extracts the staff member from request context
func GetStaff(ctx context.Context) *Staff {
	staff, ok := ctx.Value(StaffContextKey).(*Staff)
	if !ok {
		return nil
	}
	return staff
}

// TenantID returns the tenant of the request, or an unauthorized error.
func TenantID(ctx context.Context) (types.ID, error) {
	staff := GetStaff(ctx)
	if staff == nil || staff.TenantID.IsZero() {
		return "", apperrors.Unauthorized("authentication required")
	}
	return staff.TenantID, nil
}

// IssueToken signs a tenant-scoped token. Used by the CLI and tests.
func IssueToken(secret string, staffID, tenantID types.ID, roles ...string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: staffID.String()},
		TenantID:         tenantID.String(),
		Roles:            roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
