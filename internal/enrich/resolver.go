// Package enrich augments mapping responses with user emails fetched from an
// external identity provider. Enrichment is best effort: every failure
// degrades to an absent email, never to a request failure.
package enrich

import "context"

// Resolver turns a subject identifier into an email address. An empty string
// means the subject has no known email.
type Resolver interface {
	Email(ctx context.Context, subject string) (string, error)
}

// Noop is the resolver used when the identity provider is not configured.
type Noop struct{}

// Email always reports no email.
func (Noop) Email(context.Context, string) (string, error) {
	return "", nil
}
