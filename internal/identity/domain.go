// Package identity resolves inbound credentials into principals and guards
// the two API tiers: end users authenticated by bearer tokens and downstream
// agents authenticated by a shared key.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Principal is an authenticated caller.
type Principal interface {
	principal()
}

// EndUser is an authenticated end user. UserHash keys all persisted state;
// RawID is the original subject string and is only used for email enrichment.
type EndUser struct {
	UserHash string
	RawID    string
}

func (EndUser) principal() {}

// Agent is a trusted downstream service principal with read access to every
// mapping.
type Agent struct{}

func (Agent) principal() {}

// HashSubject computes the lowercase hex SHA-256 digest of a subject
// identifier. Raw identities are never used as storage keys.
func HashSubject(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])
}

// NewEndUser builds an EndUser principal from a verified subject.
func NewEndUser(subject string) EndUser {
	return EndUser{UserHash: HashSubject(subject), RawID: subject}
}

type contextKey struct{}

// ContextWithPrincipal stores the principal in the request context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext retrieves the principal stored by the auth middleware.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(contextKey{}).(Principal)
	return p
}

// EndUserFromContext retrieves the end-user principal, if present.
func EndUserFromContext(ctx context.Context) (EndUser, bool) {
	u, ok := ctx.Value(contextKey{}).(EndUser)
	return u, ok
}
