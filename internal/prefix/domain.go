// Package prefix manages time-bounded, exclusive leases of IPv6 /48 prefixes
// drawn from a fixed pool loaded at startup.
package prefix

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Lease is a time-bounded grant of a prefix to a user. Rows are immutable:
// expiry is computed from EndTime, never written back.
type Lease struct {
	ID        uuid.UUID
	UserHash  string
	Prefix    string
	StartTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the lease is active at the given instant.
func (l Lease) Active(now time.Time) bool {
	return now.Before(l.EndTime)
}

// Pool is the ordered set of /48 prefixes available for leasing. Order is the
// file order, which makes selection deterministic.
type Pool struct {
	prefixes []string
}

// NewPool builds a pool from already-validated prefixes, preserving order.
func NewPool(prefixes []string) Pool {
	return Pool{prefixes: prefixes}
}

// LoadPool reads a prefix pool file: one /48 per line, blank lines and lines
// starting with '#' ignored. Malformed or non-/48 entries are skipped with a
// warning rather than failing startup.
func LoadPool(path string, logger *slog.Logger) (Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return Pool{}, fmt.Errorf("prefix: open pool file: %w", err)
	}
	defer f.Close()

	var prefixes []string
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := netip.ParsePrefix(line)
		if err != nil {
			logger.Warn("skipping malformed prefix",
				slog.Int("line", lineNum), slog.String("entry", line), slog.Any("error", err))
			continue
		}
		if !p.Addr().Is6() || p.Addr().Is4In6() || p.Bits() != 48 {
			logger.Warn("skipping non-/48 prefix",
				slog.Int("line", lineNum), slog.String("entry", line))
			continue
		}
		prefixes = append(prefixes, p.Masked().String())
	}
	if err := scanner.Err(); err != nil {
		return Pool{}, fmt.Errorf("prefix: read pool file: %w", err)
	}

	logger.Info("loaded prefix pool", slog.Int("prefixes", len(prefixes)), slog.String("file", path))
	return Pool{prefixes: prefixes}, nil
}

// Len returns the number of prefixes in the pool.
func (p Pool) Len() int {
	return len(p.prefixes)
}

// Prefixes returns the pool contents in configured order.
func (p Pool) Prefixes() []string {
	return p.prefixes
}

// FreeCandidates returns, in pool order, the prefixes absent from the active
// set.
func (p Pool) FreeCandidates(active []string) []string {
	busy := make(map[string]struct{}, len(active))
	for _, a := range active {
		busy[a] = struct{}{}
	}
	var free []string
	for _, candidate := range p.prefixes {
		if _, ok := busy[candidate]; !ok {
			free = append(free, candidate)
		}
	}
	return free
}
