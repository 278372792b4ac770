package vm

import (
	"testing"

	"merlon/heap"
	"merlon/mem"
)

func mkas() *Vm_t {
	phys := mem.New(64)
	q := heap.NewQuota(1 << 20)
	return New(phys, q, 0)
}

func TestAnonReadFaultsZeroPage(t *testing.T) {
	as := mkas()
	as.Vmadd_anon(int(USERMIN), mem.PGSIZE, mem.PTE_W)

	as.Lock_pmap()
	b, err := as.Userdmap8_inner(int(USERMIN), false)
	as.Unlock_pmap()
	if err != 0 {
		t.Fatalf("unexpected fault error: %v", err)
	}
	for _, v := range b {
		if v != 0 {
			t.Fatalf("expected zero-filled page, got %v", v)
		}
	}
}

func TestAnonWriteThenReadback(t *testing.T) {
	as := mkas()
	as.Vmadd_anon(int(USERMIN), mem.PGSIZE, mem.PTE_W)

	if err := as.Userwriten(int(USERMIN), 4, 0xdeadbeef&0x7fffffff); err != 0 {
		t.Fatalf("write failed: %v", err)
	}
	v, err := as.Userreadn(int(USERMIN), 4)
	if err != 0 {
		t.Fatalf("read failed: %v", err)
	}
	if v != 0xdeadbeef&0x7fffffff {
		t.Fatalf("expected roundtrip value, got %x", v)
	}
}

func TestWriteFaultOnReadOnlyRegionFails(t *testing.T) {
	as := mkas()
	as.Vmadd_anon(int(USERMIN), mem.PGSIZE, 0)

	if err := as.Userwriten(int(USERMIN), 4, 1); err == 0 {
		t.Fatal("expected fault on write to read-only region")
	}
}

func TestUserbufRoundtrip(t *testing.T) {
	as := mkas()
	as.Vmadd_anon(int(USERMIN), 2*mem.PGSIZE, mem.PTE_W)

	src := []byte("hello, userspace memory crossing a page boundary!!")
	ub := MkUserbuf(as, int(USERMIN)+mem.PGSIZE-10, len(src))
	n, err := ub.Uiowrite(src)
	if err != 0 || n != len(src) {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	ub2 := MkUserbuf(as, int(USERMIN)+mem.PGSIZE-10, len(src))
	dst := make([]byte, len(src))
	n, err = ub2.Uioread(dst)
	if err != 0 || n != len(src) {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	if string(dst) != string(src) {
		t.Fatalf("roundtrip mismatch: got %q", dst)
	}
}

func TestFakeubufRoundtrip(t *testing.T) {
	buf := make([]byte, 16)
	fb := MkFakeubuf(buf)
	n, err := fb.Uiowrite([]byte("abcdef"))
	if err != 0 || n != 6 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if fb.Remain() != 10 {
		t.Fatalf("expected 10 remaining, got %d", fb.Remain())
	}
}

func TestUnusedvaSkipsExistingRegions(t *testing.T) {
	as := mkas()
	as.Vmadd_anon(int(USERMIN), mem.PGSIZE, mem.PTE_W)

	as.Lock_pmap()
	got := as.Unusedva_inner(int(USERMIN), mem.PGSIZE)
	as.Unlock_pmap()
	want := int(USERMIN) + mem.PGSIZE
	if got != want {
		t.Fatalf("expected %x, got %x", want, got)
	}
}
