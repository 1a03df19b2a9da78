package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlab/gateway/internal/asn"
	"github.com/peerlab/gateway/internal/platform/httpx"
	"github.com/peerlab/gateway/internal/prefix"
)

type stubMappings struct {
	rows []asn.Mapping
	err  error
}

func (s *stubMappings) Get(_ context.Context, userHash string) (*asn.Mapping, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, m := range s.rows {
		if m.UserHash == userHash {
			copied := m
			return &copied, nil
		}
	}
	return nil, httpx.ErrNotFound
}

func (s *stubMappings) All(_ context.Context) ([]asn.Mapping, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

type stubLeases struct {
	byUser map[string][]prefix.Lease
	err    error
}

func (s *stubLeases) ActiveFor(_ context.Context, userHash string) ([]prefix.Lease, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byUser[userHash], nil
}

type stubResolver struct {
	mu     sync.Mutex
	emails map[string]string
	err    error
	calls  int
}

func (s *stubResolver) Email(_ context.Context, subject string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.emails[subject], nil
}

func strptr(s string) *string { return &s }

func TestAllAggregatesLeasesAndEmails(t *testing.T) {
	mappings := &stubMappings{rows: []asn.Mapping{
		{UserHash: "hash-a", RawID: strptr("user-a"), ASN: 65000},
		{UserHash: "hash-b", ASN: 65001},
	}}
	leases := &stubLeases{byUser: map[string][]prefix.Lease{
		"hash-a": {{Prefix: "2001:db8:1000::/48"}, {Prefix: "2001:db8:1001::/48"}},
	}}
	resolver := &stubResolver{emails: map[string]string{"user-a": "a@example.com"}}

	svc := NewService(mappings, leases, resolver, time.Second, nil)
	views, err := svc.All(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)

	a := views[0]
	assert.Equal(t, "hash-a", a.UserHash)
	assert.Equal(t, int32(65000), a.ASN)
	assert.Equal(t, []string{"2001:db8:1000::/48", "2001:db8:1001::/48"}, a.Prefixes)
	require.NotNil(t, a.Email)
	assert.Equal(t, "a@example.com", *a.Email)

	b := views[1]
	assert.Nil(t, b.Email, "users without a raw id carry no email")
	assert.Empty(t, b.Prefixes)

	// Users with no raw id never reach the provider.
	assert.Equal(t, 1, resolver.calls)
}

func TestAllDegradesOnEnrichmentFailure(t *testing.T) {
	mappings := &stubMappings{rows: []asn.Mapping{
		{UserHash: "hash-a", RawID: strptr("user-a"), ASN: 65000},
	}}
	resolver := &stubResolver{err: errors.New("provider down")}

	svc := NewService(mappings, &stubLeases{}, resolver, time.Second, nil)
	views, err := svc.All(context.Background())
	require.NoError(t, err, "enrichment failure must not fail the listing")
	assert.Nil(t, views[0].Email)
}

func TestAllPropagatesStoreErrors(t *testing.T) {
	svc := NewService(&stubMappings{err: errors.New("db down")}, &stubLeases{}, nil, time.Second, nil)
	_, err := svc.All(context.Background())
	require.Error(t, err)
}

func TestForReturnsSingleView(t *testing.T) {
	mappings := &stubMappings{rows: []asn.Mapping{
		{UserHash: "hash-a", RawID: strptr("user-a"), ASN: 65000},
	}}
	leases := &stubLeases{byUser: map[string][]prefix.Lease{
		"hash-a": {{Prefix: "2001:db8:1000::/48"}},
	}}
	resolver := &stubResolver{emails: map[string]string{"user-a": "a@example.com"}}

	svc := NewService(mappings, leases, resolver, time.Second, nil)
	view, err := svc.For(context.Background(), "hash-a")
	require.NoError(t, err)
	assert.Equal(t, int32(65000), view.ASN)
	assert.Equal(t, []string{"2001:db8:1000::/48"}, view.Prefixes)
	require.NotNil(t, view.Email)
	assert.Equal(t, "a@example.com", *view.Email)
}

func TestForUnknownUser(t *testing.T) {
	svc := NewService(&stubMappings{}, &stubLeases{}, nil, time.Second, nil)
	_, err := svc.For(context.Background(), "missing")
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestForEmptyEmailStaysNil(t *testing.T) {
	mappings := &stubMappings{rows: []asn.Mapping{
		{UserHash: "hash-a", RawID: strptr("user-a"), ASN: 65000},
	}}
	svc := NewService(mappings, &stubLeases{}, &stubResolver{}, time.Second, nil)

	view, err := svc.For(context.Background(), "hash-a")
	require.NoError(t, err)
	assert.Nil(t, view.Email)
}
