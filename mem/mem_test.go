package mem

import "testing"

func TestAllocFreeRoundtrip(t *testing.T) {
	phys := New(16)
	pg, pa, ok := phys.Refpg_new(0)
	if !ok {
		t.Fatal("alloc failed")
	}
	if phys.Refcnt(pa) != 0 {
		t.Fatalf("fresh page refcnt = %d, want 0", phys.Refcnt(pa))
	}
	phys.Refup(pa)
	if phys.Refcnt(pa) != 1 {
		t.Fatal("refup")
	}
	phys.Refup(pa)
	pg[0] = 42
	got := phys.Dmap(pa)
	if got[0] != 42 {
		t.Fatal("dmap should alias the same backing bytes")
	}
	if phys.Dmap_v2p(got) != pa {
		t.Fatal("dmap_v2p should invert dmap")
	}
	if freed := phys.Refdown(pa); freed {
		t.Fatal("should not free yet, still referenced")
	}
	if freed := phys.Refdown(pa); !freed {
		t.Fatal("should free at refcnt 0")
	}
}

func TestExhaustion(t *testing.T) {
	phys := New(2)
	_, pa1, ok1 := phys.Refpg_new(0)
	_, pa2, ok2 := phys.Refpg_new(0)
	_, _, ok3 := phys.Refpg_new(0)
	if !ok1 || !ok2 {
		t.Fatal("expected first two allocations to succeed")
	}
	if ok3 {
		t.Fatal("expected third allocation to fail, arena only has 2 pages")
	}
	select {
	case <-phys.OOM:
	default:
		t.Fatal("expected an OOM notification")
	}
	phys.Refup(pa1)
	phys.Refup(pa2)
	phys.Refdown(pa1)
	phys.Refdown(pa2)
}

func TestZeroed(t *testing.T) {
	phys := New(4)
	pg, pa, _ := phys.Refpg_new_nozero(0)
	pg[0] = 7
	phys.Refup(pa)
	phys.Refdown(pa)
	pg2, _, _ := phys.Refpg_new(0)
	if pg2[0] != 0 {
		t.Fatal("Refpg_new should zero the page")
	}
}
