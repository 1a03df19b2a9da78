package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/peerlab/gateway/internal/asn"
	"github.com/peerlab/gateway/internal/enrich"
	"github.com/peerlab/gateway/internal/prefix"
)

// enrichConcurrency bounds the provider fan-out during aggregation.
const enrichConcurrency = 4

// MappingSource lists persisted ASN mappings.
type MappingSource interface {
	Get(ctx context.Context, userHash string) (*asn.Mapping, error)
	All(ctx context.Context) ([]asn.Mapping, error)
}

// LeaseSource lists a user's active leases.
type LeaseSource interface {
	ActiveFor(ctx context.Context, userHash string) ([]prefix.Lease, error)
}

// Service builds aggregated mapping views. It owns no state; everything is
// derived from the store per call.
type Service struct {
	mappings      MappingSource
	leases        LeaseSource
	resolver      enrich.Resolver
	enrichTimeout time.Duration
	logger        *slog.Logger
}

// NewService constructs the aggregation service.
func NewService(mappings MappingSource, leases LeaseSource, resolver enrich.Resolver, enrichTimeout time.Duration, logger *slog.Logger) *Service {
	if resolver == nil {
		resolver = enrich.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		mappings:      mappings,
		leases:        leases,
		resolver:      resolver,
		enrichTimeout: enrichTimeout,
		logger:        logger,
	}
}

// All returns the aggregated view for every user with an ASN mapping. Email
// enrichment runs concurrently with bounded parallelism; enrichment failures
// leave the email absent and never fail the call.
func (s *Service) All(ctx context.Context) ([]UserMapping, error) {
	rows, err := s.mappings.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("mapping: list mappings: %w", err)
	}

	result := make([]UserMapping, len(rows))
	for i, row := range rows {
		leases, err := s.leases.ActiveFor(ctx, row.UserHash)
		if err != nil {
			return nil, fmt.Errorf("mapping: leases for %s: %w", row.UserHash, err)
		}
		result[i] = s.assemble(row, leases)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i := range result {
		rawID := result[i].RawID
		if rawID == "" {
			continue
		}
		m := &result[i]
		g.Go(func() error {
			m.Email = s.lookupEmail(gctx, rawID)
			return nil
		})
	}
	// Workers only record results; the group never carries an error.
	_ = g.Wait()

	return result, nil
}

// For returns the aggregated view for one user. httpx.ErrNotFound propagates
// from the mapping source when the user has no ASN row, regardless of any
// leases held under the hash.
func (s *Service) For(ctx context.Context, userHash string) (*UserMapping, error) {
	row, err := s.mappings.Get(ctx, userHash)
	if err != nil {
		return nil, err
	}
	leases, err := s.leases.ActiveFor(ctx, userHash)
	if err != nil {
		return nil, fmt.Errorf("mapping: leases for %s: %w", userHash, err)
	}

	view := s.assemble(*row, leases)
	if view.RawID != "" {
		view.Email = s.lookupEmail(ctx, view.RawID)
	}
	return &view, nil
}

func (s *Service) assemble(row asn.Mapping, leases []prefix.Lease) UserMapping {
	prefixes := make([]string, len(leases))
	for i, l := range leases {
		prefixes[i] = l.Prefix
	}
	view := UserMapping{
		UserHash: row.UserHash,
		ASN:      row.ASN,
		Prefixes: prefixes,
	}
	if row.RawID != nil {
		view.RawID = *row.RawID
	}
	return view
}

// lookupEmail resolves a subject's email within the enrichment timeout. Any
// failure degrades to nil.
func (s *Service) lookupEmail(ctx context.Context, subject string) *string {
	timeout := s.enrichTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	email, err := s.resolver.Email(ctx, subject)
	if err != nil {
		s.logger.Warn("email enrichment failed", slog.Any("error", err))
		return nil
	}
	if email == "" {
		return nil
	}
	return &email
}
