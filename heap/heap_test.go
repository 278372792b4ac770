package heap

import (
	"testing"

	"merlon/irql"
)

func TestAllocExhaustsQuota(t *testing.T) {
	irql.ResetForTests()
	q := NewQuota(10)
	b, ok := Alloc(0, q, 6)
	if !ok || len(b) != 6 {
		t.Fatal("expected first alloc to succeed")
	}
	if _, ok := Alloc(0, q, 6); ok {
		t.Fatal("expected second alloc to exceed quota")
	}
	Free(q, 6)
	if _, ok := Alloc(0, q, 6); !ok {
		t.Fatal("expected alloc to succeed after free")
	}
}

func TestAllocAboveStandardPanics(t *testing.T) {
	irql.ResetForTests()
	irql.Raise(0, irql.Scheduler)
	defer irql.Lower(0, irql.Standard)
	q := NewQuota(100)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic allocating above PageFault")
		}
	}()
	Alloc(0, q, 1)
}
