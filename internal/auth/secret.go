// ABOUTME: Shared-secret check for bot-to-backend ingress calls
// ABOUTME: Accepts either a plain secret or a bcrypt hash of it in configuration

package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// SecretChecker validates the backend_secret field of ingress requests
type SecretChecker struct {
	plain  []byte
	hashed []byte
}

// NewSecretChecker builds a checker. A configured value that looks like a
// bcrypt hash ($2a$, $2b$, $2y$) is compared with bcrypt, anything else in
// constant time. An empty configured secret rejects everything.
func NewSecretChecker(configured string) *SecretChecker {
	if isBcryptHash(configured) {
		return &SecretChecker{hashed: []byte(configured)}
	}
	return &SecretChecker{plain: []byte(configured)}
}

// Check reports whether candidate matches the configured secret
func (c *SecretChecker) Check(candidate string) bool {
	if candidate == "" {
		return false
	}
	if c.hashed != nil {
		return bcrypt.CompareHashAndPassword(c.hashed, []byte(candidate)) == nil
	}
	if len(c.plain) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(c.plain, []byte(candidate)) == 1
}

// HashSecret returns a bcrypt hash suitable for auth.backend_secret
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 &&
		(strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}
