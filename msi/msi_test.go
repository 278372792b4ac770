package msi

import "testing"

func TestAllocFreeExhaustion(t *testing.T) {
	m := New([]Msivec_t{1, 2})
	v1, ok := m.Alloc()
	if !ok {
		t.Fatal("expected alloc")
	}
	v2, ok := m.Alloc()
	if !ok {
		t.Fatal("expected alloc")
	}
	if _, ok := m.Alloc(); ok {
		t.Fatal("expected exhaustion")
	}
	m.Free(v1)
	m.Free(v2)
	if _, ok := m.Alloc(); !ok {
		t.Fatal("expected alloc after free")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	m := New([]Msivec_t{1})
	v, _ := m.Alloc()
	m.Free(v)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	m.Free(v)
}
