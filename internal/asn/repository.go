package asn

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peerlab/gateway/internal/platform/db"
	"github.com/peerlab/gateway/internal/platform/httpx"
)

// ErrDuplicate indicates a uniqueness conflict on insert: either the user
// hash or the ASN value was taken by a concurrent allocator. Resolved by
// retrying, never surfaced to callers.
var ErrDuplicate = errors.New("asn: duplicate mapping")

// Repository defines persistence operations for ASN mappings.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, userHash string) (*Mapping, error)
	AssignedInRange(ctx context.Context, start, end int32) ([]int32, error)
	Insert(ctx context.Context, userHash string, rawID *string, asn int32) (*Mapping, error)
	All(ctx context.Context) ([]Mapping, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const mappingColumns = `id, user_hash, user_id, asn, created_at, updated_at`

func scanMapping(row pgx.Row) (*Mapping, error) {
	var m Mapping
	if err := row.Scan(&m.ID, &m.UserHash, &m.RawID, &m.ASN, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// Get fetches the mapping for a user hash.
func (r *repository) Get(ctx context.Context, userHash string) (*Mapping, error) {
	row := r.db.QueryRow(ctx, `SELECT `+mappingColumns+` FROM user_asn_mappings WHERE user_hash = $1`, userHash)
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// AssignedInRange returns the assigned ASNs inside [start, end], ascending.
func (r *repository) AssignedInRange(ctx context.Context, start, end int32) ([]int32, error) {
	rows, err := r.db.Query(ctx, `SELECT asn FROM user_asn_mappings WHERE asn BETWEEN $1 AND $2 ORDER BY asn`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assigned []int32
	for rows.Next() {
		var asn int32
		if err := rows.Scan(&asn); err != nil {
			return nil, err
		}
		assigned = append(assigned, asn)
	}
	return assigned, rows.Err()
}

// Insert writes a new mapping row. Uniqueness conflicts on user_hash or asn
// map to ErrDuplicate.
func (r *repository) Insert(ctx context.Context, userHash string, rawID *string, asn int32) (*Mapping, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO user_asn_mappings (user_hash, user_id, asn)
		VALUES ($1, $2, $3)
		RETURNING `+mappingColumns, userHash, rawID, asn)
	m, err := scanMapping(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// All returns every mapping, oldest first.
func (r *repository) All(ctx context.Context) ([]Mapping, error) {
	rows, err := r.db.Query(ctx, `SELECT `+mappingColumns+` FROM user_asn_mappings ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []Mapping
	for rows.Next() {
		var m Mapping
		if err := rows.Scan(&m.ID, &m.UserHash, &m.RawID, &m.ASN, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}
