package swap

import (
	"testing"

	"merlon/mem"
)

func TestAllocateDeallocate(t *testing.T) {
	s := New(4)
	a, err := s.Allocate(0)
	if err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := s.Allocate(0)
	if err != 0 || b == a {
		t.Fatalf("expected distinct slots, got %d and %d", a, b)
	}
	if s.NumberInUse(0) != 2 {
		t.Fatalf("expected 2 in use, got %d", s.NumberInUse(0))
	}
	s.Deallocate(0, a)
	if s.NumberInUse(0) != 1 {
		t.Fatalf("expected 1 in use after free, got %d", s.NumberInUse(0))
	}
	c, err := s.Allocate(0)
	if err != 0 || c != a {
		t.Fatalf("expected freed slot %d to be reused, got %d", a, c)
	}
}

func TestOutOfSwapReturnsENOSPC(t *testing.T) {
	s := New(1)
	if _, err := s.Allocate(0); err != 0 {
		t.Fatalf("unexpected error on first allocate: %v", err)
	}
	if _, err := s.Allocate(0); err == 0 {
		t.Fatal("expected ENOSPC once swap is exhausted")
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	s := New(2)
	idx, _ := s.Allocate(0)

	var pg mem.Pg_t
	pg[0] = 0x1234
	pg[511] = 0x5678
	s.WriteOut(idx, &pg)

	var back mem.Pg_t
	s.ReadIn(idx, &back)
	if back[0] != 0x1234 || back[511] != 0x5678 {
		t.Fatalf("roundtrip mismatch: %v", back)
	}
}
