package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// negativeTTL caches "no email" results briefly so unknown subjects do not
// hammer the provider on every aggregation.
const negativeTTL = 5 * time.Minute

// noEmailMarker is stored for subjects the provider reports without an email.
const noEmailMarker = "\x00none"

// Cached is a redis read-through wrapper around another resolver. Lookup
// failures fall through to the inner resolver; cache write failures are
// ignored.
type Cached struct {
	inner  Resolver
	client *redis.Client
	ttl    time.Duration
}

// NewCached wraps a resolver with a redis cache.
func NewCached(inner Resolver, client *redis.Client, ttl time.Duration) *Cached {
	return &Cached{inner: inner, client: client, ttl: ttl}
}

func cacheKey(subject string) string {
	// Subjects are external identifiers; key on their digest so raw IDs never
	// land in redis.
	sum := sha256.Sum256([]byte(subject))
	return "enrich:email:" + hex.EncodeToString(sum[:])
}

// Email resolves through the cache, populating it on miss.
func (c *Cached) Email(ctx context.Context, subject string) (string, error) {
	key := cacheKey(subject)

	if c.client != nil {
		cached, err := c.client.Get(ctx, key).Result()
		if err == nil {
			if cached == noEmailMarker {
				return "", nil
			}
			return cached, nil
		}
		if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	email, err := c.inner.Email(ctx, subject)
	if err != nil {
		return "", err
	}

	if c.client != nil {
		value, ttl := email, c.ttl
		if email == "" {
			value, ttl = noEmailMarker, negativeTTL
		}
		_ = c.client.Set(ctx, key, value, ttl).Err()
	}
	return email, nil
}
