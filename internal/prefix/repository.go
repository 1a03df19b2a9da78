package prefix

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerlab/gateway/internal/platform/db"
)

// Repository defines persistence operations for prefix leases.
type Repository interface {
	ActiveFor(ctx context.Context, userHash string) ([]Lease, error)
	ActivePrefixes(ctx context.Context) ([]string, error)
	CountActive(ctx context.Context) (int64, error)
	LeaseIfFree(ctx context.Context, userHash, prefix string, start, end time.Time) (*Lease, bool, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const leaseColumns = `id, user_hash, prefix::text, start_time, end_time, created_at, updated_at`

// ActiveFor returns the user's active leases in creation order.
func (r *repository) ActiveFor(ctx context.Context, userHash string) ([]Lease, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leaseColumns+`
		FROM prefix_leases
		WHERE user_hash = $1 AND end_time > NOW()
		ORDER BY start_time`, userHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeases(rows)
}

// ActivePrefixes returns every prefix with at least one unexpired lease,
// across all users.
func (r *repository) ActivePrefixes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT prefix::text
		FROM prefix_leases
		WHERE end_time > NOW()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefixes []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, rows.Err()
}

// CountActive returns the number of currently active leases.
func (r *repository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM prefix_leases WHERE end_time > NOW()`).Scan(&count)
	return count, err
}

// LeaseIfFree inserts a lease for the prefix if it is still free at insert
// time. A per-prefix advisory lock serializes allocators across gateway
// instances; when the lock is contended or the prefix turned out busy, the
// call reports ok=false so the caller can move to the next candidate.
func (r *repository) LeaseIfFree(ctx context.Context, userHash, prefix string, start, end time.Time) (*Lease, bool, error) {
	var lease *Lease
	acquired := false

	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, prefix).Scan(&locked); err != nil {
			return err
		}
		if !locked {
			return nil
		}

		var activeCount int64
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM prefix_leases
			WHERE prefix = $1::cidr AND end_time > NOW()`, prefix).Scan(&activeCount); err != nil {
			return err
		}
		if activeCount > 0 {
			return nil
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO prefix_leases (user_hash, prefix, start_time, end_time)
			VALUES ($1, $2::cidr, $3, $4)
			RETURNING `+leaseColumns, userHash, prefix, start, end)
		var l Lease
		if err := row.Scan(&l.ID, &l.UserHash, &l.Prefix, &l.StartTime, &l.EndTime, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return err
		}
		lease = &l
		acquired = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return lease, acquired, nil
}

func collectLeases(rows pgx.Rows) ([]Lease, error) {
	var leases []Lease
	for rows.Next() {
		var l Lease
		if err := rows.Scan(&l.ID, &l.UserHash, &l.Prefix, &l.StartTime, &l.EndTime, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}
