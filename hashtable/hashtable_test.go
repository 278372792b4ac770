package hashtable

import "testing"

func TestSetGetDel(t *testing.T) {
	ht := MkHash(8)
	if _, ok := ht.Set(1, "one"); !ok {
		t.Fatal("expected fresh insert")
	}
	if _, ok := ht.Set(1, "uno"); ok {
		t.Fatal("expected duplicate insert to report existing value")
	}
	v, ok := ht.Get(1)
	if !ok || v != "one" {
		t.Fatalf("got %v, %v", v, ok)
	}
	ht.Del(1)
	if _, ok := ht.Get(1); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestSizeAndElems(t *testing.T) {
	ht := MkHash(4)
	ht.Set(1, "a")
	ht.Set(2, "b")
	ht.Set(3, "c")
	if ht.Size() != 3 {
		t.Fatalf("size = %d", ht.Size())
	}
	if len(ht.Elems()) != 3 {
		t.Fatal("elems mismatch")
	}
}
