package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

var (
	defaultCORSMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"}
)

// CORSConfig configures CORS. A "*" origin, or Environment "development",
// admits every origin. With AllowCredentials the request Origin is echoed
// back instead of "*", which browsers reject on credentialed responses.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string // default GET, POST, PUT, PATCH, DELETE, OPTIONS
	AllowedHeaders   []string // default Accept, Authorization, Content-Type, X-Correlation-ID
	ExposedHeaders   []string
	MaxAge           int // seconds; default 3600
	AllowCredentials bool
	Environment      string
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: defaultCORSMethods,
		AllowedHeaders: defaultCORSHeaders,
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         3600,
		Environment:    "development",
	}
}

type corsPolicy struct {
	anyOrigin   bool
	origins     []string
	credentials bool
	static      http.Header
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	methods := orDefault(cfg.AllowedMethods, defaultCORSMethods)
	headers := orDefault(cfg.AllowedHeaders, defaultCORSHeaders)
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 3600
	}

	static := http.Header{}
	static.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	static.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	static.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
	if len(cfg.ExposedHeaders) > 0 {
		static.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
	}
	if cfg.AllowCredentials {
		static.Set("Access-Control-Allow-Credentials", "true")
	}

	return corsPolicy{
		anyOrigin:   cfg.Environment == "development" || slices.Contains(cfg.AllowedOrigins, "*"),
		origins:     cfg.AllowedOrigins,
		credentials: cfg.AllowCredentials,
		static:      static,
	}
}

func orDefault(list, fallback []string) []string {
	if len(list) == 0 {
		return fallback
	}
	return list
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when the origin is not admitted. echoed is true when the value depends
// on the request and caches must vary on Origin.
func (p corsPolicy) allowOrigin(origin string) (value string, echoed bool) {
	switch {
	case p.anyOrigin && p.credentials && origin != "":
		return origin, true
	case p.anyOrigin:
		return "*", false
	case origin != "" && slices.Contains(p.origins, origin):
		return origin, true
	default:
		return "", false
	}
}

// CORS applies cfg to every response and answers preflight requests with 204.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if value, echoed := policy.allowOrigin(r.Header.Get("Origin")); value != "" {
				h.Set("Access-Control-Allow-Origin", value)
				if echoed {
					h.Add("Vary", "Origin")
				}
			}
			for k, v := range policy.static {
				h.Set(k, v[0])
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
