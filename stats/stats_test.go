package stats

import "testing"

type sample struct {
	Faults Counter_t
	Waited Cycles_t
}

func TestCounterAndProfile(t *testing.T) {
	var s sample
	s.Faults.Inc()
	s.Faults.Inc()
	start := Now()
	s.Waited.Add(start)

	str := Stats2String(s)
	if str == "" {
		t.Fatal("expected non-empty dump")
	}

	p := Profile("merlon", s)
	if len(p.Sample) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(p.Sample))
	}
	if p.Sample[0].Value[0] != 2 {
		t.Fatalf("expected faults=2, got %d", p.Sample[0].Value[0])
	}
}
