// ABOUTME: Maps verified token claims to a local user, creating user and profile on first sight
// ABOUTME: Also derives demo identities from the client address and institution postfix

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/2389/parley/internal/store"
)

// UserStore is the subset of store.Store identity resolution needs
type UserStore interface {
	GetUserBySubID(ctx context.Context, subID string) (*store.User, error)
	EnsureUser(ctx context.Context, user *store.User) (*store.User, error)
}

// Resolver turns claims into a local user
type Resolver struct {
	users  UserStore
	logger *slog.Logger
}

// NewResolver creates a Resolver backed by users
func NewResolver(users UserStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{users: users, logger: logger.With("component", "auth")}
}

// Resolve returns the user whose profile carries claims.Subject, creating the
// user and profile from the claims when none exists yet.
func (r *Resolver) Resolve(ctx context.Context, claims *Claims) (*store.User, error) {
	user, err := r.users.GetUserBySubID(ctx, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up subject: %w", err)
	}

	username, err := UsernameFromClaims(claims)
	if err != nil {
		return nil, err
	}
	first, last := SplitName(claims.PreferredUsername)

	user, err = r.users.EnsureUser(ctx, &store.User{
		Username:  username,
		FirstName: first,
		LastName:  last,
		Email:     claims.Email,
		SubID:     claims.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("creating user for subject: %w", err)
	}

	r.logger.Info("created user from token claims", "username", user.Username)
	return user, nil
}

// UsernameFromClaims picks the first uid, qualified with the email domain when
// the uid carries no institution part of its own.
func UsernameFromClaims(claims *Claims) (string, error) {
	uid := ""
	if len(claims.UIDs) > 0 {
		uid = strings.TrimSpace(claims.UIDs[0])
	}
	if uid == "" {
		return "", fmt.Errorf("%w: uids", ErrMissingClaim)
	}
	if strings.Contains(uid, "@") {
		return uid, nil
	}
	at := strings.Index(claims.Email, "@")
	if at < 0 {
		return "", fmt.Errorf("%w: email", ErrMissingClaim)
	}
	return uid + claims.Email[at:], nil
}

// SplitName splits a display name into first and last name.
// "Last, First" and "First Middle Last" are both understood.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}

	if strings.Contains(full, ",") {
		parts := strings.Split(full, ",")
		rest := make([]string, 0, len(parts)-1)
		for _, p := range parts[1:] {
			rest = append(rest, strings.TrimSpace(p))
		}
		return strings.Join(rest, ", "), strings.TrimSpace(parts[0])
	}

	first, last, _ = strings.Cut(full, " ")
	return first, strings.TrimSpace(last)
}

// DemoUsername derives an identity for the unauthenticated demo endpoints:
// the client address followed by the institution's postfix.
func DemoUsername(r *http.Request, postfix string) string {
	return ClientIP(r) + postfix
}

// ClientIP returns the first X-Forwarded-For entry, falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsAnonymousIdentity reports whether username is an address-derived demo
// identity: nothing but digits, dots, commas and spaces once the institution
// postfix is removed.
func IsAnonymousIdentity(username string) bool {
	local, _, _ := strings.Cut(username, "@")
	if local == "" {
		return false
	}
	for _, c := range local {
		switch {
		case c >= '0' && c <= '9', c == '.', c == ',', c == ' ':
		default:
			return false
		}
	}
	return true
}
