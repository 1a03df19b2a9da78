package prefix

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peerlab/gateway/internal/platform/httpx"
)

const (
	// MinDurationHours and MaxDurationHours bound a lease request.
	MinDurationHours = 1
	MaxDurationHours = 24
)

// Service implements the prefix lease lifecycle. Availability is re-derived
// from the store on every request; expired leases release their prefix
// implicitly.
type Service struct {
	repo   Repository
	pool   Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the lease manager.
func NewService(repo Repository, pool Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pool: pool, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Pool returns the configured prefix pool.
func (s *Service) Pool() Pool {
	return s.pool
}

// Lease grants the first free prefix in pool order to the user for the given
// duration. Selection is deterministic; concurrent requests that contend on
// the same prefix skip to the next free candidate.
func (s *Service) Lease(ctx context.Context, userHash string, durationHours int) (*Lease, error) {
	if durationHours < MinDurationHours || durationHours > MaxDurationHours {
		return nil, fmt.Errorf("%w: duration must be between %d and %d hours",
			httpx.ErrValidation, MinDurationHours, MaxDurationHours)
	}

	active, err := s.repo.ActivePrefixes(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefix: scan active leases: %w", err)
	}

	candidates := s.pool.FreeCandidates(active)
	if len(candidates) == 0 {
		s.logger.Warn("prefix pool exhausted", slog.Int("size", s.pool.Len()))
		return nil, httpx.ErrExhausted
	}

	start := s.now()
	end := start.Add(time.Duration(durationHours) * time.Hour)

	for _, candidate := range candidates {
		lease, ok, err := s.repo.LeaseIfFree(ctx, userHash, candidate, start, end)
		if err != nil {
			return nil, fmt.Errorf("prefix: lease %s: %w", candidate, err)
		}
		if !ok {
			// Lost the race for this prefix; the next candidate is still the
			// first free one in pool order from this request's point of view.
			continue
		}
		s.logger.Info("leased prefix",
			slog.String("user_hash", userHash),
			slog.String("prefix", lease.Prefix),
			slog.Time("end_time", lease.EndTime))
		return lease, nil
	}

	s.logger.Warn("prefix pool exhausted under contention", slog.Int("candidates", len(candidates)))
	return nil, httpx.ErrExhausted
}

// ActiveFor returns the user's active leases ordered by start time.
func (s *Service) ActiveFor(ctx context.Context, userHash string) ([]Lease, error) {
	return s.repo.ActiveFor(ctx, userHash)
}

// CountActive returns the number of active leases across all users.
func (s *Service) CountActive(ctx context.Context) (int64, error) {
	return s.repo.CountActive(ctx)
}
