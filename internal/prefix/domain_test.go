package prefix

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writePoolFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefixes.txt")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write pool file: %v", err)
	}
	return path
}

func TestLoadPoolSkipsCommentsAndBlanks(t *testing.T) {
	path := writePoolFile(t, `# leased pool
2001:db8:1000::/48

# second block
2001:db8:1001::/48
`)
	pool, err := LoadPool(path, nil)
	if err != nil {
		t.Fatalf("LoadPool returned error: %v", err)
	}
	want := []string{"2001:db8:1000::/48", "2001:db8:1001::/48"}
	if !reflect.DeepEqual(pool.Prefixes(), want) {
		t.Fatalf("expected %v got %v", want, pool.Prefixes())
	}
}

func TestLoadPoolSkipsInvalidEntries(t *testing.T) {
	path := writePoolFile(t, `2001:db8:1000::/48
not-a-prefix
2001:db8::/32
2001:db8:2000::/64
192.0.2.0/24
2001:db8:1001::/48
`)
	pool, err := LoadPool(path, nil)
	if err != nil {
		t.Fatalf("LoadPool returned error: %v", err)
	}
	if pool.Len() != 2 {
		t.Fatalf("expected 2 valid prefixes got %d: %v", pool.Len(), pool.Prefixes())
	}
}

func TestLoadPoolNormalizesToNetworkAddress(t *testing.T) {
	path := writePoolFile(t, "2001:db8:1000::beef/48\n")
	pool, err := LoadPool(path, nil)
	if err != nil {
		t.Fatalf("LoadPool returned error: %v", err)
	}
	if pool.Len() != 1 || pool.Prefixes()[0] != "2001:db8:1000::/48" {
		t.Fatalf("expected masked prefix, got %v", pool.Prefixes())
	}
}

func TestLoadPoolMissingFile(t *testing.T) {
	if _, err := LoadPool(filepath.Join(t.TempDir(), "nope.txt"), nil); err == nil {
		t.Fatalf("expected error for missing pool file")
	}
}

func TestFreeCandidatesPreservesOrder(t *testing.T) {
	pool := NewPool([]string{"a::/48", "b::/48", "c::/48", "d::/48"})
	free := pool.FreeCandidates([]string{"b::/48", "d::/48"})
	want := []string{"a::/48", "c::/48"}
	if !reflect.DeepEqual(free, want) {
		t.Fatalf("expected %v got %v", want, free)
	}
}

func TestFreeCandidatesAllBusy(t *testing.T) {
	pool := NewPool([]string{"a::/48"})
	if free := pool.FreeCandidates([]string{"a::/48"}); len(free) != 0 {
		t.Fatalf("expected no candidates got %v", free)
	}
}

func TestLeaseActive(t *testing.T) {
	now := time.Now()
	lease := Lease{StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	if !lease.Active(now) {
		t.Fatalf("expected lease to be active before end time")
	}
	if lease.Active(now.Add(2 * time.Hour)) {
		t.Fatalf("expected lease to be inactive after end time")
	}
	if lease.Active(lease.EndTime) {
		t.Fatalf("expected lease to be inactive exactly at end time")
	}
}
