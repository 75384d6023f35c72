package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/httputil"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/logger"
)

type contextKeyType string

const claimsKey contextKeyType = "claims"

// Claims represents the verified access credential attached to a request.
type Claims struct {
	Email                  string
	EmailVerified          bool
	Role                   string
	Roles                  []string
	ImpersonatorEmail      string
	ImpersonationSessionID string
}

// HasRole reports whether any role in the credential equals role, ignoring case.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	if strings.EqualFold(c.Role, role) {
		return true
	}
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// TokenValidator verifies a raw credential and returns its claims.
type TokenValidator func(token string) (*Claims, error)

// ExtractToken returns the bearer token from the Authorization header, falling
// back to the named cookie. It returns "" when neither is present.
func ExtractToken(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

// Auth validates the access credential and injects its claims into context.
// Every failure yields the same 401 body so callers cannot tell expired from malformed.
func Auth(validate TokenValidator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractToken(r, cookieName)
			if raw == "" {
				writeAuthError(w)
				return
			}

			claims, err := validate(raw)
			if err != nil || claims == nil {
				writeAuthError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// OptionalAuth attaches claims when a valid credential is present and otherwise
// passes the request through untouched.
func OptionalAuth(validate TokenValidator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := ExtractToken(r, cookieName); raw != "" {
				if claims, err := validate(raw); err == nil && claims != nil {
					r = r.WithContext(withClaims(r.Context(), claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	ctx = logger.WithUserEmail(ctx, claims.Email)
	l := logger.FromContext(ctx).With(slog.String("user_email", claims.Email))
	if claims.ImpersonatorEmail != "" {
		ctx = logger.WithImpersonator(ctx, claims.ImpersonatorEmail)
		l = l.With(slog.String("impersonator_email", claims.ImpersonatorEmail))
	}
	return logger.NewContext(ctx, l)
}

// RequireRole rejects requests whose credential carries none of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeAuthError(w)
				return
			}
			for _, role := range roles {
				if claims.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteDetail(w, http.StatusForbidden, "FORBIDDEN", "Admin access required")
		})
	}
}

// ClaimsFromContext returns the claims stored by Auth, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey).(*Claims); ok {
		return c
	}
	return nil
}

// ContextWithClaims attaches already verified claims to ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func writeAuthError(w http.ResponseWriter) {
	httputil.WriteDetail(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
}
