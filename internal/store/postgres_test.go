package store

import "testing"

// LIMIT 0 returns no rows in PostgreSQL, so the zero value must translate to
// LIMIT NULL for the "no limit" convention to hold against the real store.
func TestLimitOrNull(t *testing.T) {
	if got := limitOrNull(0); got != nil {
		t.Fatalf("limitOrNull(0) = %d, want nil", *got)
	}
	if got := limitOrNull(-5); got != nil {
		t.Fatalf("limitOrNull(-5) = %d, want nil", *got)
	}
	got := limitOrNull(25)
	if got == nil || *got != 25 {
		t.Fatalf("limitOrNull(25) = %v, want 25", got)
	}
}
