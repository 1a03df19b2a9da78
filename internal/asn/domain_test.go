package asn

import "testing"

func TestPoolSize(t *testing.T) {
	pool := NewPool(65000, 65999)
	if pool.Size() != 1000 {
		t.Fatalf("expected size 1000 got %d", pool.Size())
	}
	single := NewPool(65000, 65000)
	if single.Size() != 1 {
		t.Fatalf("expected size 1 got %d", single.Size())
	}
}

func TestPoolContains(t *testing.T) {
	pool := NewPool(65000, 65999)
	if !pool.Contains(65000) || !pool.Contains(65999) {
		t.Fatalf("expected pool to contain its bounds")
	}
	if pool.Contains(64999) || pool.Contains(66000) {
		t.Fatalf("expected pool to exclude values outside the range")
	}
}

func TestFirstFreeEmptyPool(t *testing.T) {
	pool := NewPool(65000, 65999)
	got, ok := pool.FirstFree(nil)
	if !ok || got != 65000 {
		t.Fatalf("expected 65000 got %d ok=%v", got, ok)
	}
}

func TestFirstFreeSkipsAssigned(t *testing.T) {
	pool := NewPool(65000, 65999)
	got, ok := pool.FirstFree([]int32{65000, 65001, 65003})
	if !ok || got != 65002 {
		t.Fatalf("expected 65002 got %d ok=%v", got, ok)
	}
}

func TestFirstFreeIgnoresOutOfRange(t *testing.T) {
	pool := NewPool(65000, 65002)
	got, ok := pool.FirstFree([]int32{64998, 64999, 65000})
	if !ok || got != 65001 {
		t.Fatalf("expected 65001 got %d ok=%v", got, ok)
	}
}

func TestFirstFreeExhausted(t *testing.T) {
	pool := NewPool(65000, 65002)
	if _, ok := pool.FirstFree([]int32{65000, 65001, 65002}); ok {
		t.Fatalf("expected exhaustion for a fully assigned pool")
	}
}

func TestFirstFreeAfterGapFill(t *testing.T) {
	pool := NewPool(65000, 65003)
	got, ok := pool.FirstFree([]int32{65000, 65002, 65003})
	if !ok || got != 65001 {
		t.Fatalf("expected the gap 65001 got %d ok=%v", got, ok)
	}
}
