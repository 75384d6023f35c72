package http

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/service"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/middleware"
)

// CookieConfig describes the session cookie carrying the access credential.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// setSessionCookie stores the access credential in an httpOnly cookie.
func setSessionCookie(w http.ResponseWriter, cfg CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clientInfo(r *http.Request) domain.ClientInfo {
	return domain.ClientInfo{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// caller returns the verified identity of the request. Routes using it sit
// behind middleware.Auth, so claims are always present.
func caller(r *http.Request) service.Caller {
	c := middleware.ClaimsFromContext(r.Context())
	if c == nil {
		return service.Caller{}
	}
	return service.Caller{
		Email:                  c.Email,
		Roles:                  c.Roles,
		ImpersonatorEmail:      c.ImpersonatorEmail,
		ImpersonationSessionID: c.ImpersonationSessionID,
	}
}

// pathParam returns a URL parameter with percent-escapes decoded, so that
// emails such as a%40b.com arrive as a@b.com.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
