package util

import "testing"

func TestRoundupRounddown(t *testing.T) {
	if Roundup(13, 8) != 16 {
		t.Fatal("roundup")
	}
	if Rounddown(13, 8) != 8 {
		t.Fatal("rounddown")
	}
	if Roundup(16, 8) != 16 {
		t.Fatal("roundup exact")
	}
}

func TestMinMax(t *testing.T) {
	if Min(3, 5) != 3 || Max(3, 5) != 5 {
		t.Fatal("min/max")
	}
}

func TestReadnWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 8, 0, 0x1122334455667788)
	if Readn(buf, 8, 0) != 0x1122334455667788 {
		t.Fatal("8 byte roundtrip")
	}
	Writen(buf, 4, 8, 42)
	if Readn(buf, 4, 8) != 42 {
		t.Fatal("4 byte roundtrip")
	}
}
