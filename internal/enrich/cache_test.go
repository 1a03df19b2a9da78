package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingResolver struct {
	email string
	err   error
	calls int
}

func (r *countingResolver) Email(_ context.Context, _ string) (string, error) {
	r.calls++
	return r.email, r.err
}

func testCache(t *testing.T, inner Resolver) (*Cached, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCached(inner, client, time.Hour), mr
}

func TestCachedPopulatesOnMiss(t *testing.T) {
	inner := &countingResolver{email: "user@example.com"}
	cache, _ := testCache(t, inner)

	for i := 0; i < 3; i++ {
		email, err := cache.Email(context.Background(), "user-123")
		if err != nil {
			t.Fatalf("Email returned error: %v", err)
		}
		if email != "user@example.com" {
			t.Fatalf("unexpected email %q", email)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected one provider call got %d", inner.calls)
	}
}

func TestCachedKeysAreHashed(t *testing.T) {
	inner := &countingResolver{email: "user@example.com"}
	cache, mr := testCache(t, inner)

	if _, err := cache.Email(context.Background(), "user-123"); err != nil {
		t.Fatalf("Email returned error: %v", err)
	}
	for _, key := range mr.Keys() {
		if key == "enrich:email:user-123" {
			t.Fatalf("raw subject must not appear as a cache key")
		}
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one cache entry got %v", mr.Keys())
	}
}

func TestCachedNegativeResult(t *testing.T) {
	inner := &countingResolver{email: ""}
	cache, _ := testCache(t, inner)

	for i := 0; i < 2; i++ {
		email, err := cache.Email(context.Background(), "user-123")
		if err != nil {
			t.Fatalf("Email returned error: %v", err)
		}
		if email != "" {
			t.Fatalf("expected empty email got %q", email)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected the empty result to be cached, got %d provider calls", inner.calls)
	}
}

func TestCachedProviderErrorNotCached(t *testing.T) {
	inner := &countingResolver{err: errors.New("provider down")}
	cache, mr := testCache(t, inner)

	if _, err := cache.Email(context.Background(), "user-123"); err == nil {
		t.Fatalf("expected provider error to propagate")
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected failures to be uncached, found keys %v", mr.Keys())
	}

	inner.err = nil
	inner.email = "user@example.com"
	email, err := cache.Email(context.Background(), "user-123")
	if err != nil || email != "user@example.com" {
		t.Fatalf("expected recovery after provider error, got %q err=%v", email, err)
	}
}

func TestCachedSurvivesRedisOutage(t *testing.T) {
	inner := &countingResolver{email: "user@example.com"}
	cache, mr := testCache(t, inner)
	mr.Close()

	email, err := cache.Email(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("expected fallthrough to the provider, got %v", err)
	}
	if email != "user@example.com" {
		t.Fatalf("unexpected email %q", email)
	}
}

func TestNoopResolver(t *testing.T) {
	email, err := Noop{}.Email(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("Noop returned error: %v", err)
	}
	if email != "" {
		t.Fatalf("expected empty email got %q", email)
	}
}
