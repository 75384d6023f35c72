package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	pkgconfig "github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/config"
)

const (
	// StorageDriverPostgres persists state in PostgreSQL.
	StorageDriverPostgres = "postgres"
	// StorageDriverMemory keeps state in process; development and tests only.
	StorageDriverMemory = "memory"

	minProductionSecretLen = 32
)

// Config holds all configuration for the auth core service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"auth-core"`

	// HTTP server
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	MountPrefix     string        `env:"HTTP_MOUNT_PREFIX" envDefault:"/api/auth"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"auth"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"auth_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"auth_core"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	DBMaxConns           int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns           int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetime    time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	SlowQueryThresholdMS int           `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka; an empty broker list disables the audit producer.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic   string   `env:"AUDIT_TOPIC" envDefault:"auth.audit"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Reverse proxies allowed to set X-Forwarded-For; empty trusts none.
	TrustedProxyCIDRs []string `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`

	// Profiling
	PprofEnabled      bool     `env:"PPROF_ENABLED" envDefault:"false"`
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// Credentials
	JWTSecret       string        `env:"AUTH_JWT_SECRET"`
	JWTIssuer       string        `env:"AUTH_JWT_ISSUER" envDefault:"hit-auth-core"`
	AccessTokenTTL  time.Duration `env:"AUTH_ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"AUTH_REFRESH_TOKEN_TTL" envDefault:"720h"`
	CookieName      string        `env:"AUTH_COOKIE_NAME" envDefault:"hit_token"`

	BootstrapAdminEmail    string `env:"AUTH_BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `env:"AUTH_BOOTSTRAP_ADMIN_PASSWORD"`

	// Feature flags
	AllowSignup       bool     `env:"AUTH_ALLOW_SIGNUP" envDefault:"true"`
	PasswordLogin     bool     `env:"AUTH_PASSWORD_LOGIN" envDefault:"true"`
	PasswordReset     bool     `env:"AUTH_PASSWORD_RESET" envDefault:"true"`
	MagicLink         bool     `env:"AUTH_MAGIC_LINK" envDefault:"false"`
	EmailVerification bool     `env:"AUTH_EMAIL_VERIFICATION" envDefault:"true"`
	TwoFactor         bool     `env:"AUTH_TWO_FACTOR" envDefault:"false"`
	OAuthProviders    []string `env:"AUTH_OAUTH_PROVIDERS" envSeparator:","`
	UserGroups        bool     `env:"AUTH_USER_GROUPS" envDefault:"true"`
	AvailableRoles    []string `env:"AUTH_AVAILABLE_ROLES" envDefault:"admin,user" envSeparator:","`
	Impersonation     bool     `env:"AUTH_IMPERSONATION" envDefault:"true"`

	ResendCooldown time.Duration `env:"AUTH_RESEND_COOLDOWN" envDefault:"60s"`
	RateLimitRPS   float64       `env:"AUTH_RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int           `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`

	ActionCatalogFile string `env:"AUTH_ACTION_CATALOG_FILE"`

	// Mail
	MailWebhookURL string `env:"MAIL_WEBHOOK_URL"`
	MailFrom       string `env:"MAIL_FROM" envDefault:"no-reply@localhost"`
	AppBaseURL     string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks ranges and, outside development, secret strength.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.MountPrefix != "" && !strings.HasPrefix(c.MountPrefix, "/") {
		return fmt.Errorf("HTTP_MOUNT_PREFIX must start with /, got %q", c.MountPrefix)
	}
	switch c.StorageDriver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("AUTH_ACCESS_TOKEN_TTL must be positive, got %s", c.AccessTokenTTL)
	}
	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("AUTH_REFRESH_TOKEN_TTL must be positive, got %s", c.RefreshTokenTTL)
	}
	if c.CookieName == "" {
		return fmt.Errorf("AUTH_COOKIE_NAME must not be empty")
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		return fmt.Errorf("AUTH_BOOTSTRAP_ADMIN_EMAIL and AUTH_BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	// In non-development environments, require an explicitly set, strong secret.
	if !c.IsDevelopment() {
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < minProductionSecretLen {
			return fmt.Errorf("AUTH_JWT_SECRET must be at least %d characters long, got %d", minProductionSecretLen, len(c.JWTSecret))
		}
		if c.StorageDriver == StorageDriverMemory {
			return fmt.Errorf("STORAGE_DRIVER=memory is only allowed in development")
		}
		if slices.Contains(c.CORSAllowedOrigins, "*") {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS must list explicit origins in %q mode; credentialed requests would be echoed for any origin", c.Environment)
		}
	}
	return nil
}

// PostgresDSN returns a postgres:// URL with credentials escaped.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPass),
		Host:     net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:     "/" + c.PostgresDB,
		RawQuery: url.Values{"sslmode": {c.PostgresSSL}}.Encode(),
	}
	return u.String()
}

// SlowQueryThreshold returns the slow-query log threshold; zero disables it.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMS) * time.Millisecond
}

// Features is the public feature-flag document served at /config and /features.
type Features struct {
	AllowSignup       bool     `json:"allow_signup"`
	PasswordLogin     bool     `json:"password_login"`
	PasswordReset     bool     `json:"password_reset"`
	MagicLinkLogin    bool     `json:"magic_link_login"`
	EmailVerification bool     `json:"email_verification"`
	TwoFactorAuth     bool     `json:"two_factor_auth"`
	OAuthProviders    []string `json:"oauth_providers"`
	UserGroups        bool     `json:"user_groups"`
	AvailableRoles    []string `json:"available_roles"`
	Impersonation     bool     `json:"admin_impersonation"`
}

// Features derives the feature flags from the loaded configuration.
func (c *Config) Features() Features {
	providers := trimmed(c.OAuthProviders)
	roles := trimmed(c.AvailableRoles)
	if len(roles) == 0 {
		roles = []string{"admin", "user"}
	}
	return Features{
		AllowSignup:       c.AllowSignup,
		PasswordLogin:     c.PasswordLogin,
		PasswordReset:     c.PasswordReset,
		MagicLinkLogin:    c.MagicLink,
		EmailVerification: c.EmailVerification,
		TwoFactorAuth:     c.TwoFactor,
		OAuthProviders:    providers,
		UserGroups:        c.UserGroups,
		AvailableRoles:    roles,
		Impersonation:     c.Impersonation,
	}
}

func trimmed(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
