package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

func jwksFor(kid string, pub *rsa.PublicKey) map[string]any {
	e := big.NewInt(int64(pub.E))
	return map[string]any{
		"keys": []map[string]string{{
			"kid": kid,
			"kty": "RSA",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(e.Bytes()),
		}},
	}
}

func TestKeySetResolvesKey(t *testing.T) {
	key := generateKey(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksFor("kid-1", &key.PublicKey))
	}))
	defer server.Close()

	keys := NewKeySet(server.URL, server.Client())
	pub, err := keys.Key(context.Background(), "kid-1")
	if err != nil {
		t.Fatalf("Key returned error: %v", err)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 {
		t.Fatalf("resolved key does not match the published one")
	}
}

func TestKeySetUnknownKid(t *testing.T) {
	key := generateKey(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksFor("kid-1", &key.PublicKey))
	}))
	defer server.Close()

	keys := NewKeySet(server.URL, server.Client())
	if _, err := keys.Key(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown key id")
	}
}

func TestKeySetCachesDocument(t *testing.T) {
	key := generateKey(t)
	var fetches atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(jwksFor("kid-1", &key.PublicKey))
	}))
	defer server.Close()

	keys := NewKeySet(server.URL, server.Client())
	for i := 0; i < 3; i++ {
		if _, err := keys.Key(context.Background(), "kid-1"); err != nil {
			t.Fatalf("Key returned error: %v", err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected one fetch got %d", got)
	}
}

func TestKeySetServesCachedKeyOnRefetchFailure(t *testing.T) {
	key := generateKey(t)
	var healthy atomic.Bool
	healthy.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(jwksFor("kid-1", &key.PublicKey))
	}))
	defer server.Close()

	keys := NewKeySet(server.URL, server.Client())
	if _, err := keys.Key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("initial fetch failed: %v", err)
	}

	// Force staleness and break the endpoint.
	keys.mu.Lock()
	keys.fetched = keys.fetched.Add(-2 * jwksRefreshInterval)
	keys.mu.Unlock()
	healthy.Store(false)

	if _, err := keys.Key(context.Background(), "kid-1"); err != nil {
		t.Fatalf("expected cached key to be served, got %v", err)
	}
}

func TestKeySetEndpointError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	keys := NewKeySet(server.URL, server.Client())
	if _, err := keys.Key(context.Background(), "kid-1"); err == nil {
		t.Fatalf("expected error when the jwks endpoint fails")
	}
}
