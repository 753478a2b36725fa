package lro

import (
	"testing"
	"time"
)

func TestRememberLookup(t *testing.T) {
	c := NewCache(0, 0)
	c.Remember("projects/999/locations/x/operations/OP1", "proj-999")

	got, ok := c.Lookup("projects/999/locations/x/operations/OP1")
	if !ok || got != "proj-999" {
		t.Fatalf("Lookup = (%q, %v), want (proj-999, true)", got, ok)
	}
}

func TestLookupMiss(t *testing.T) {
	c := NewCache(0, 0)
	if _, ok := c.Lookup("unknown-op"); ok {
		t.Fatal("expected miss for unknown operation name")
	}
}

// TestPinningAcrossMultipleLookups covers invariant 3: for any operation
// name remembered against credential C, every subsequent lookup in the same
// process returns C.
func TestPinningAcrossMultipleLookups(t *testing.T) {
	c := NewCache(0, 0)
	c.Remember("op-a", "proj-a")
	for i := 0; i < 5; i++ {
		got, ok := c.Lookup("op-a")
		if !ok || got != "proj-a" {
			t.Fatalf("lookup %d = (%q, %v), want (proj-a, true)", i, got, ok)
		}
	}
}

func TestRememberOverwritesLastWriterWins(t *testing.T) {
	c := NewCache(0, 0)
	c.Remember("op-a", "proj-a")
	c.Remember("op-a", "proj-b")

	got, ok := c.Lookup("op-a")
	if !ok || got != "proj-b" {
		t.Fatalf("Lookup = (%q, %v), want (proj-b, true)", got, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestFIFOEvictionAtCapacity(t *testing.T) {
	c := NewCache(2, 0)
	c.Remember("op-1", "proj-1")
	c.Remember("op-2", "proj-2")
	c.Remember("op-3", "proj-3")

	if _, ok := c.Lookup("op-1"); ok {
		t.Fatal("expected op-1 to be evicted (oldest, capacity exceeded)")
	}
	if _, ok := c.Lookup("op-2"); !ok {
		t.Fatal("expected op-2 to still be present")
	}
	if _, ok := c.Lookup("op-3"); !ok {
		t.Fatal("expected op-3 to still be present")
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	c := NewCache(0, 10*time.Millisecond)
	c.Remember("op-a", "proj-a")
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Lookup("op-a"); ok {
		t.Fatal("expected entry to expire after ttl")
	}
}

func TestIgnoresEmptyKeys(t *testing.T) {
	c := NewCache(0, 0)
	c.Remember("", "proj-a")
	c.Remember("op-a", "")
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0 (empty op name / project id ignored)", c.Len())
	}
}
