package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSigningSecretMissing is returned when no signing secret is configured.
var ErrSigningSecretMissing = errors.New("access token signing secret is not configured")

// Claims is the payload of an access credential.
type Claims struct {
	Email                  string   `json:"email"`
	EmailVerified          bool     `json:"email_verified"`
	Role                   string   `json:"role"`
	Roles                  []string `json:"roles"`
	ImpersonatorEmail      string   `json:"impersonator_email,omitempty"`
	ImpersonationSessionID string   `json:"impersonation_session_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies access credentials.
type TokenCodec interface {
	Sign(claims *Claims) (string, error)
	Verify(token string) (*Claims, error)
	TTL() time.Duration
}

// JWTCodec is the HS256 TokenCodec.
type JWTCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTCodec creates a codec. An empty secret is accepted here; every Sign
// and Verify then fails with ErrSigningSecretMissing.
func NewJWTCodec(secret, issuer string, ttl time.Duration) *JWTCodec {
	return &JWTCodec{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (c *JWTCodec) WithClock(now func() time.Time) *JWTCodec {
	c.now = now
	return c
}

// TTL returns the lifetime given to newly signed credentials.
func (c *JWTCodec) TTL() time.Duration {
	return c.ttl
}

// Sign fills in sub, iat, exp and iss and returns the signed credential.
func (c *JWTCodec) Sign(claims *Claims) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrSigningSecretMissing
	}

	now := c.now().UTC()
	claims.Subject = claims.Email
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a credential. It rejects non-HMAC algorithms,
// bad signatures and expired or malformed tokens.
func (c *JWTCodec) Verify(tokenString string) (*Claims, error) {
	if len(c.secret) == 0 {
		return nil, ErrSigningSecretMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid access token claims")
	}
	if claims.Email == "" {
		claims.Email = claims.Subject
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("access token has no subject")
	}
	return claims, nil
}
