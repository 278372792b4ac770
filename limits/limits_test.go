package limits

import "testing"

func TestTakenGiven(t *testing.T) {
	var s Sysatomic_t = 2
	if !s.Take() {
		t.Fatal("expected take to succeed")
	}
	if !s.Take() {
		t.Fatal("expected take to succeed")
	}
	if s.Take() {
		t.Fatal("expected take to fail once exhausted")
	}
	s.Give()
	if !s.Take() {
		t.Fatal("expected take to succeed after give")
	}
}
