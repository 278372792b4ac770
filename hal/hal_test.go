package hal

import "testing"

func TestRegisterFire(t *testing.T) {
	c := New()
	fired := false
	c.Register(5, func(vector int, context any) { fired = true }, nil)
	if !c.Fire(5) {
		t.Fatal("expected fire to dispatch")
	}
	if !fired {
		t.Fatal("expected handler to run")
	}
}

func TestMaskSuppressesFire(t *testing.T) {
	c := New()
	fired := false
	c.Register(5, func(vector int, context any) { fired = true }, nil)
	c.Mask(5)
	if c.Fire(5) {
		t.Fatal("expected masked vector not to fire")
	}
	if fired {
		t.Fatal("handler should not have run")
	}
}

func TestRegisterMSI(t *testing.T) {
	c := New()
	v, ok := c.RegisterMSI(func(vector int, context any) {}, nil)
	if !ok || v < 56 || v > 63 {
		t.Fatalf("unexpected msi vector %d ok=%v", v, ok)
	}
}

func TestPanicDump(t *testing.T) {
	// 0x90 is NOP, 0xc3 is RET: decodable x86 bytes.
	s := PanicDump(0x1000, []byte{0x90, 0xc3}, "divide by zero")
	if s == "" {
		t.Fatal("expected non-empty dump")
	}
}
