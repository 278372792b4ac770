package fd

import (
	"testing"

	"merlon/defs"
	"merlon/fdops"
	"merlon/ustr"
)

type stubFops struct {
	fdops.Fdops_i
	reopens int
	closed  bool
}

func (s *stubFops) Reopen() defs.Err_t { s.reopens++; return 0 }
func (s *stubFops) Close() defs.Err_t  { s.closed = true; return 0 }

func TestCopyfdReopens(t *testing.T) {
	f := &stubFops{}
	fd := &Fd_t{Fops: f, Perms: FD_READ}
	nfd, err := Copyfd(fd)
	if err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.reopens != 1 {
		t.Fatalf("expected Reopen called once, got %d", f.reopens)
	}
	if nfd.Perms != FD_READ {
		t.Fatal("expected permissions copied")
	}
}

func TestClosePanic(t *testing.T) {
	f := &stubFops{}
	fd := &Fd_t{Fops: f}
	Close_panic(fd)
	if !f.closed {
		t.Fatal("expected underlying Close called")
	}
}

func TestCwdFullpathAndCanonical(t *testing.T) {
	cwd := MkRootCwd(nil)
	cwd.Path = ustr.MkUstrSlice([]byte("/home/user"))

	rel := ustr.MkUstrSlice([]byte("../other"))
	full := cwd.Canonicalpath(rel)
	if full.String() != "/home/other" {
		t.Fatalf("expected /home/other, got %q", full.String())
	}
}
