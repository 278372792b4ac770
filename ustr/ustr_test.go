package ustr

import "testing"

func TestBasics(t *testing.T) {
	root := MkUstrRoot()
	if !root.IsAbsolute() {
		t.Fatal("root should be absolute")
	}
	dot := MkUstrDot()
	if !dot.Isdot() {
		t.Fatal("dot")
	}
	if !DotDot.Isdotdot() {
		t.Fatal("dotdot")
	}
	p := root.ExtendStr("bin")
	if p.String() != "//bin" {
		t.Fatalf("got %q", p.String())
	}
	p2 := p.ExtendStr("ls")
	if p2.String() != "//bin/ls" {
		t.Fatalf("got %q", p2.String())
	}
}

func TestMkUstrSlice(t *testing.T) {
	buf := []uint8{'a', 'b', 0, 'c'}
	s := MkUstrSlice(buf)
	if s.String() != "ab" {
		t.Fatalf("got %q", s.String())
	}
}

func TestEq(t *testing.T) {
	a := Ustr("foo")
	b := Ustr("foo")
	c := Ustr("bar")
	if !a.Eq(b) {
		t.Fatal("want equal")
	}
	if a.Eq(c) {
		t.Fatal("want unequal")
	}
}
