package tinfo

import (
	"testing"

	"merlon/defs"
)

func TestAddGetRemove(t *testing.T) {
	ti := NewThreadinfo()
	tn := ti.Add(1)
	if !tn.Alive {
		t.Fatal("expected fresh note to be alive")
	}
	if ti.Get(1) != tn {
		t.Fatal("expected Get to return the same note")
	}
	ti.Remove(1)
	if ti.Get(1) != nil {
		t.Fatal("expected note to be gone after Remove")
	}
}

func TestDoomAndKill(t *testing.T) {
	ti := NewThreadinfo()
	tn := ti.Add(2)
	if tn.Doomed() {
		t.Fatal("expected fresh note not doomed")
	}
	tn.Doom()
	if !tn.Doomed() {
		t.Fatal("expected note doomed after Doom")
	}
	tn.Kill(9)
	select {
	case <-tn.Killnaps.Killch:
	default:
		t.Fatal("expected kill to post on Killch")
	}
}

func TestEach(t *testing.T) {
	ti := NewThreadinfo()
	ti.Add(1)
	ti.Add(2)
	seen := map[int]bool{}
	ti.Each(func(tid defs.Tid_t, tn *Tnote_t) {
		seen[int(tid)] = true
	})
	if len(seen) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(seen))
	}
}
