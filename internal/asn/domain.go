// Package asn assigns Autonomous System Numbers to end users from a fixed
// contiguous pool. Assignment is first-free, idempotent per user, and
// serialized through the database.
package asn

import (
	"time"

	"github.com/google/uuid"
)

// Mapping binds a user hash to its assigned ASN. A mapping is written once on
// first allocation and never reassigned.
type Mapping struct {
	ID        uuid.UUID
	UserHash  string
	RawID     *string
	ASN       int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pool is the contiguous inclusive ASN range available for assignment.
type Pool struct {
	Start int32
	End   int32
}

// NewPool constructs a pool over [start, end].
func NewPool(start, end int32) Pool {
	return Pool{Start: start, End: end}
}

// Size returns the pool cardinality.
func (p Pool) Size() int32 {
	return p.End - p.Start + 1
}

// Contains reports whether the ASN falls inside the pool range.
func (p Pool) Contains(asn int32) bool {
	return asn >= p.Start && asn <= p.End
}

// FirstFree returns the smallest ASN in the range not present in assigned.
// The assigned slice must be sorted ascending, which the repository query
// guarantees.
func (p Pool) FirstFree(assigned []int32) (int32, bool) {
	candidate := p.Start
	for _, used := range assigned {
		if used < candidate {
			continue
		}
		if used > candidate {
			break
		}
		candidate++
	}
	if candidate > p.End {
		return 0, false
	}
	return candidate, true
}
