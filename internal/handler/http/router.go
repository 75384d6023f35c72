package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/acl"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/config"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/domain"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/service"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/health"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/middleware"
)

const serviceName = "auth-core"

var errInvalidToken = errors.New("invalid or expired token")

// Dependencies are the services and settings the router is built from.
type Dependencies struct {
	Auth           *service.AuthService
	Directory      *service.DirectoryService
	Permissions    *service.PermissionService
	Engine         *acl.Engine
	Health         *health.Handler
	RateLimiter    *middleware.RateLimiter
	TrustedProxies middleware.TrustedProxies
	Features       config.Features
	Cookie         CookieConfig
	CORS           middleware.CORSConfig
	MountPrefix    string
	PprofCIDRs     []string
	Pprof          bool
	Logger         *slog.Logger
}

// NewRouter creates a chi router with every auth route mounted under deps.MountPrefix.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Global middleware
	r.Use(middleware.RealIP(deps.TrustedProxies))
	r.Use(middleware.CORS(deps.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if deps.Pprof {
		middleware.RegisterPprof(r, deps.PprofCIDRs, logger)
	}

	// Token validator that bridges access credentials to request claims.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, ok := deps.Auth.Validate(token)
		if !ok {
			return nil, errInvalidToken
		}
		return &middleware.Claims{
			Email:                  claims.Email,
			EmailVerified:          claims.EmailVerified,
			Role:                   claims.Role,
			Roles:                  claims.Roles,
			ImpersonatorEmail:      claims.ImpersonatorEmail,
			ImpersonationSessionID: claims.ImpersonationSessionID,
		}, nil
	}
	requireAuth := middleware.Auth(tokenValidator, deps.Cookie.Name)
	requireAdmin := middleware.RequireRole(domain.RoleAdmin)

	authHandler := NewAuthHandler(deps.Auth, deps.Directory, deps.Features, deps.Cookie, logger)
	directoryHandler := NewDirectoryHandler(deps.Directory, deps.Auth, logger)
	permissionHandler := NewPermissionHandler(deps.Permissions, logger)
	checkHandler := NewCheckHandler(deps.Engine, logger)

	r.Route(deps.MountPrefix, func(r chi.Router) {
		r.Get("/healthz", deps.Health.LivenessHandler())
		r.Get("/health", deps.Health.ReadinessHandler())
		r.With(middleware.CacheControl(60)).Get("/config", authHandler.Config)
		r.With(middleware.CacheControl(60)).Get("/features", authHandler.Features)
		r.Post("/validate", authHandler.Validate)

		// Credential endpoints (public, rate limited, never cached)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Use(deps.RateLimiter.Handler)

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Get("/verification-status", authHandler.VerificationStatus)
			r.Post("/resend-verification", authHandler.ResendVerification)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
			r.Post("/magic-link/request", authHandler.RequestMagicLink)
			r.Post("/magic-link/verify", authHandler.VerifyMagicLink)

			r.With(middleware.OptionalAuth(tokenValidator, deps.Cookie.Name)).Post("/logout", authHandler.Logout)
		})

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Use(requireAuth)

			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/me", authHandler.Me)
			r.Get("/me/groups", authHandler.MyGroups)
			r.Get("/sessions", authHandler.Sessions)
			r.Delete("/sessions/{id}", authHandler.RevokeSession)
			r.Post("/impersonate/end", authHandler.EndImpersonation)

			r.Get("/permissions/actions/check/*", checkHandler.CheckAction)
			r.Get("/permissions/pages/check/*", checkHandler.CheckPage)
			r.Post("/permissions/pages/check-batch", checkHandler.CheckPages)
			r.Get("/permissions/metrics/check/*", checkHandler.CheckMetric)
			r.Post("/permissions/metrics/check-batch", checkHandler.CheckMetrics)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Use(requireAuth)
			r.Use(requireAdmin)

			r.Post("/impersonate/start", authHandler.StartImpersonation)

			r.Get("/users", directoryHandler.ListUsers)
			r.Post("/users", directoryHandler.CreateUser)
			r.Get("/users/{email}", directoryHandler.GetUser)
			r.Put("/users/{email}", directoryHandler.UpdateUser)
			r.Delete("/users/{email}", directoryHandler.DeleteUser)
			r.Get("/directory/users", directoryHandler.Directory)

			r.Route("/admin", func(r chi.Router) {
				r.Route("/users/{email}", func(r chi.Router) {
					r.Post("/resend-verification", directoryHandler.ResendVerification)
					r.Post("/verify", directoryHandler.Verify)
					r.Post("/reset-password", directoryHandler.SendPasswordReset)
					r.Get("/groups", directoryHandler.UserGroups)
					r.Get("/sessions", directoryHandler.UserSessions)
				})

				r.Get("/groups", directoryHandler.ListGroups)
				r.Post("/groups", directoryHandler.CreateGroup)
				r.Route("/groups/{id}", func(r chi.Router) {
					r.Get("/", directoryHandler.GetGroup)
					r.Put("/", directoryHandler.UpdateGroup)
					r.Delete("/", directoryHandler.DeleteGroup)
					r.Get("/users", directoryHandler.ListMembers)
					r.Post("/users", directoryHandler.AddMember)
					r.Delete("/users/{email}", directoryHandler.RemoveMember)
				})

				r.Get("/impersonation/sessions", directoryHandler.ImpersonationSessions)

				r.Route("/permissions", func(r chi.Router) {
					r.Get("/sets", permissionHandler.ListSets)
					r.Post("/sets", permissionHandler.CreateSet)
					r.Route("/sets/{id}", func(r chi.Router) {
						r.Get("/", permissionHandler.GetSet)
						r.Put("/", permissionHandler.UpdateSet)
						r.Patch("/", permissionHandler.UpdateSet)
						r.Delete("/", permissionHandler.DeleteSet)
						r.Get("/assignments", permissionHandler.ListAssignments)
						r.Post("/assignments", permissionHandler.AddAssignment)
						r.Delete("/assignments/{assignmentID}", permissionHandler.DeleteAssignment)
						r.Get("/{kind}", permissionHandler.ListGrants)
						r.Post("/{kind}", permissionHandler.AddGrant)
						r.Delete("/{kind}/{grantID}", permissionHandler.DeleteGrant)
					})

					r.Get("/actions", permissionHandler.ListActions)
					r.Post("/actions", permissionHandler.CreateAction)
					r.Delete("/actions/{key}", permissionHandler.DeleteAction)

					r.Get("/{scope}/{principal}/{resource}", permissionHandler.ListRules)
					r.Put("/{scope}/{principal}/{resource}", permissionHandler.PutRule)
					r.Delete("/{scope}/{principal}/{resource}", permissionHandler.DeleteRule)
				})
			})
		})
	})

	return r
}
