package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. They are written into every encoded hash so they
// can be raised later without invalidating stored passwords.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptSalt   = 16
	scryptKeyLen = 32
	scryptPrefix = "scrypt"
)

var b64 = base64.RawStdEncoding

// HashPassword derives a scrypt key from plaintext with a fresh random salt
// and returns it encoded as scrypt$N$r$p$salt$key.
func HashPassword(plaintext string) (string, error) {
	salt := make([]byte, scryptSalt)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(plaintext), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	return fmt.Sprintf("%s$%d$%d$%d$%s$%s",
		scryptPrefix, scryptN, scryptR, scryptP, b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether plaintext matches the encoded hash. Any
// parse failure returns false.
func VerifyPassword(plaintext, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != scryptPrefix {
		return false
	}

	n, errN := strconv.Atoi(parts[1])
	r, errR := strconv.Atoi(parts[2])
	p, errP := strconv.Atoi(parts[3])
	if errN != nil || errR != nil || errP != nil {
		return false
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := b64.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}

	got, err := scrypt.Key([]byte(plaintext), salt, n, r, p, len(want))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}
