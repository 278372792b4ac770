package vfs

import (
	"testing"

	"merlon/defs"
	"merlon/sema"
	"merlon/stat"
	"merlon/ustr"
)

func TestMountTableAddLookupRemove(t *testing.T) {
	mt := NewMountTable()
	null := NewNull()
	if err := mt.AddMount("null", null); err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mt.AddMount("null", null); err != defs.EEXIST {
		t.Fatalf("expected EEXIST on duplicate mount, got %v", err)
	}
	v, err := mt.Lookup(ustr.MkUstrSlice([]byte("/null")))
	if err != 0 || v != Vnode_i(null) {
		t.Fatalf("expected lookup to find the mounted null device, err=%v", err)
	}
	if err := mt.RemoveMount("null"); err != 0 {
		t.Fatalf("unexpected error removing mount: %v", err)
	}
	if _, err := mt.Lookup(ustr.MkUstrSlice([]byte("/null"))); err == 0 {
		t.Fatal("expected lookup to fail after unmount")
	}
}

func TestOpenfileRefcounting(t *testing.T) {
	of := CreateOpenFile(NewNull(), true, true)
	of.Reference()
	if of.Close() != 0 {
		t.Fatal("unexpected error on first close")
	}
	if of.Close() != 0 {
		t.Fatal("unexpected error on second (final) close")
	}
}

func TestNullDeviceDiscardsWrites(t *testing.T) {
	n := NewNull()
	var st stat.Stat_t
	if err := n.Fstat(&st); err != 0 {
		t.Fatalf("unexpected stat error: %v", err)
	}
	if st.Mode()&sIFCHR == 0 {
		t.Fatal("expected char device mode bit set")
	}
}

func TestPipeBreakStopsWrites(t *testing.T) {
	mbox := sema.NewMailbox(nil, nil, PipeSize)
	p := NewPipe(mbox, 0)
	p.Break()
	if _, err := p.Write(nil); err != defs.EPIPE {
		t.Fatalf("expected EPIPE on write to broken pipe, got %v", err)
	}
	if n, err := p.Read(nil); err != 0 || n != 0 {
		t.Fatalf("expected EOF read on broken pipe, got n=%d err=%v", n, err)
	}
}
