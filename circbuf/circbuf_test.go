package circbuf

import (
	"testing"

	"merlon/defs"
	"merlon/mem"
)

type fakeIO struct {
	buf []byte
}

func (f *fakeIO) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, f.buf)
	f.buf = f.buf[n:]
	return n, 0
}
func (f *fakeIO) Uiowrite(src []uint8) (int, defs.Err_t) {
	f.buf = append(f.buf, src...)
	return len(src), 0
}
func (f *fakeIO) Remain() int   { return len(f.buf) }
func (f *fakeIO) Totalsz() int  { return len(f.buf) }

func TestCopyinCopyout(t *testing.T) {
	phys := mem.New(4)
	var cb Circbuf_t
	if err := cb.Cb_init(64, 0, phys); err != 0 {
		t.Fatal(err)
	}
	src := &fakeIO{buf: []byte("hello world")}
	n, err := cb.Copyin(src)
	if err != 0 || n != len("hello world") {
		t.Fatalf("copyin: n=%d err=%v", n, err)
	}
	dst := &fakeIO{}
	n, err = cb.Copyout(dst)
	if err != 0 || n != len("hello world") {
		t.Fatalf("copyout: n=%d err=%v", n, err)
	}
	if string(dst.buf) != "hello world" {
		t.Fatalf("got %q", dst.buf)
	}
	if !cb.Empty() {
		t.Fatal("expected empty after full drain")
	}
}

func TestWraparound(t *testing.T) {
	phys := mem.New(4)
	var cb Circbuf_t
	cb.Cb_init(8, 0, phys)
	cb.Copyin(&fakeIO{buf: []byte("123456")})
	cb.Copyout(&fakeIO{})
	n, _ := cb.Copyin(&fakeIO{buf: []byte("abcdef")})
	if n != 6 {
		t.Fatalf("expected wraparound write of 6, got %d", n)
	}
	dst := &fakeIO{}
	cb.Copyout(dst)
	if string(dst.buf) != "abcdef" {
		t.Fatalf("got %q", dst.buf)
	}
}
