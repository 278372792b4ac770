package caller

import "testing"

func TestDistinctCaller(t *testing.T) {
	dc := Distinct_caller_t{Enabled: true}
	novel, trace := dc.Distinct()
	if !novel || trace == "" {
		t.Fatal("first call from this path should be novel")
	}
	novel2, _ := dc.Distinct()
	if novel2 {
		t.Fatal("second call from the same path should not be novel")
	}
	if dc.Len() != 1 {
		t.Fatalf("expected 1 distinct path, got %d", dc.Len())
	}
}

func TestDisabled(t *testing.T) {
	dc := Distinct_caller_t{Enabled: false}
	novel, _ := dc.Distinct()
	if novel {
		t.Fatal("disabled tracker should never report novel")
	}
}
