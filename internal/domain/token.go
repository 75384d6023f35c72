package domain

import "time"

// TokenKind identifies a one-time token family. Each kind lives in its own table.
type TokenKind string

const (
	TokenEmailVerification TokenKind = "email_verification"
	TokenPasswordReset     TokenKind = "password_reset"
	TokenMagicLink         TokenKind = "magic_link"
)

// TTL returns how long a freshly issued token of this kind stays redeemable.
func (k TokenKind) TTL() time.Duration {
	switch k {
	case TokenEmailVerification:
		return 24 * time.Hour
	case TokenPasswordReset:
		return 2 * time.Hour
	case TokenMagicLink:
		return 30 * time.Minute
	default:
		return 0
	}
}

// Valid reports whether k is a known kind.
func (k TokenKind) Valid() bool {
	return k.TTL() > 0
}

// MaxCodeAttempts is how many wrong verification codes burn the token.
const MaxCodeAttempts = 5

// OneTimeToken is a stored single-use token. Only hashes are persisted.
type OneTimeToken struct {
	ID             string
	Kind           TokenKind
	Email          string
	TokenHash      string
	CodeHash       *string
	FailedAttempts int
	ExpiresAt      time.Time
	UsedAt         *time.Time
	CreatedAt      time.Time
}

// RefreshToken is a stored refresh credential.
type RefreshToken struct {
	ID        string     `json:"id"`
	UserEmail string     `json:"user_email"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Active reports whether the token can still be rotated at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// TokenPair is the response body of every credential-minting endpoint.
type TokenPair struct {
	Token         string `json:"token"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	ExpiresIn     int    `json:"expires_in"`
}

// ClientInfo is the request metadata recorded with sessions.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}
