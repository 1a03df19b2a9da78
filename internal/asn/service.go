package asn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/peerlab/gateway/internal/platform/httpx"
)

// allocAttempts bounds the retry loop for allocation races. Each attempt
// rescans the pool, so a lost race costs one extra round trip.
const allocAttempts = 3

// Service implements ASN allocation against the store. Pool occupancy is
// re-derived from the database on every allocation; the service keeps no
// local state because multiple gateway instances run concurrently.
type Service struct {
	repo   Repository
	pool   Pool
	logger *slog.Logger
}

// NewService constructs the allocator.
func NewService(repo Repository, pool Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pool: pool, logger: logger}
}

// Pool returns the configured ASN range.
func (s *Service) Pool() Pool {
	return s.pool
}

// GetOrAssign returns the user's ASN mapping, allocating the smallest unused
// ASN in the pool on first call. The returned bool is true when a new row was
// written. Any caller-supplied ASN preference is ignored; assignment is
// always automatic.
func (s *Service) GetOrAssign(ctx context.Context, userHash string, rawID *string) (*Mapping, bool, error) {
	existing, err := s.repo.Get(ctx, userHash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, httpx.ErrNotFound) {
		return nil, false, fmt.Errorf("asn: check existing mapping: %w", err)
	}

	for attempt := 1; attempt <= allocAttempts; attempt++ {
		var created *Mapping
		err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			assigned, err := repo.AssignedInRange(ctx, s.pool.Start, s.pool.End)
			if err != nil {
				return fmt.Errorf("asn: scan assigned: %w", err)
			}
			candidate, ok := s.pool.FirstFree(assigned)
			if !ok {
				return httpx.ErrExhausted
			}
			created, err = repo.Insert(ctx, userHash, rawID, candidate)
			return err
		})
		if err == nil {
			s.logger.Info("assigned asn",
				slog.String("user_hash", userHash),
				slog.Int("asn", int(created.ASN)))
			return created, true, nil
		}
		if errors.Is(err, httpx.ErrExhausted) {
			s.logger.Warn("asn pool exhausted", slog.Int("size", int(s.pool.Size())))
			return nil, false, httpx.ErrExhausted
		}
		if errors.Is(err, ErrDuplicate) {
			// A concurrent allocator won the race. It may have been a request
			// for the same user, in which case its row is what we want.
			if winner, gerr := s.repo.Get(ctx, userHash); gerr == nil {
				return winner, false, nil
			}
			s.logger.Debug("allocation conflict, retrying", slog.Int("attempt", attempt))
			continue
		}
		return nil, false, fmt.Errorf("asn: allocate: %w", err)
	}

	return nil, false, fmt.Errorf("asn: allocation contended after %d attempts: %w", allocAttempts, httpx.ErrUnavailable)
}

// GetInfo fetches the mapping for a user without side effects. Returns
// httpx.ErrNotFound when the user has no ASN.
func (s *Service) GetInfo(ctx context.Context, userHash string) (*Mapping, error) {
	return s.repo.Get(ctx, userHash)
}
