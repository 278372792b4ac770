package vm

import (
	"merlon/defs"
)

// Userbuf_t is a contiguous user-memory range treated as an
// fdops.Userio_i, crossing page boundaries transparently via the owning
// address space's fault handler. Adapted from the teacher's Userbuf_t.
type Userbuf_t struct {
	userva int
	len    int
	off    int
	as     *Vm_t
}

func (ub *Userbuf_t) ub_init(as *Vm_t, uva, len int) {
	ub.as = as
	ub.userva = uva
	ub.len = len
	ub.off = 0
}

func MkUserbuf(as *Vm_t, uva, len int) *Userbuf_t {
	ub := &Userbuf_t{}
	ub.ub_init(as, uva, len)
	return ub
}

func (ub *Userbuf_t) Remain() int   { return ub.len - ub.off }
func (ub *Userbuf_t) Totalsz() int  { return ub.len }

func (ub *Userbuf_t) _tx(buf []uint8, write bool) (int, defs.Err_t) {
	if !ub.as.Heap.Reserve(1) {
		return 0, defs.ENOHEAP
	}
	defer ub.as.Heap.Release(1)

	did := 0
	for did < len(buf) && ub.Remain() != 0 {
		va := ub.userva + ub.off
		span, err := ub.as._userdmap8(va, write)
		if err != 0 {
			return did, err
		}
		max := len(buf) - did
		if max > len(span) {
			max = len(span)
		}
		var c int
		if write {
			c = copy(span[:max], buf[did:did+max])
		} else {
			c = copy(buf[did:did+max], span[:max])
		}
		ub.off += c
		did += c
	}
	return did, 0
}

func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t)  { return ub._tx(dst, false) }
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return ub._tx(src, true) }

// _iove_t is one entry of a scatter-gather iovec array: a user VA and its
// length.
type _iove_t struct {
	uva uint
	sz  int
}

// Useriovec_t is a user-supplied iovec array treated as a single
// fdops.Userio_i, reading/writing each segment in turn. Capped at 10
// segments, matching the teacher's Iov_init.
type Useriovec_t struct {
	iovs []_iove_t
	tsz  int
	as   *Vm_t
}

const maxIovecs = 10

// Iov_init reads an array of n {uva, sz} pairs (two machine words each)
// starting at iovbase out of user memory.
func (iov *Useriovec_t) Iov_init(as *Vm_t, iovbase uint, n int) defs.Err_t {
	if n > maxIovecs {
		return defs.EINVAL
	}
	iov.as = as
	iov.iovs = make([]_iove_t, n)
	iov.tsz = 0
	for i := 0; i < n; i++ {
		entry := int(iovbase) + i*16
		uva, err := as.Userreadn(entry, 8)
		if err != 0 {
			return err
		}
		sz, err := as.Userreadn(entry+8, 8)
		if err != 0 {
			return err
		}
		if sz < 0 {
			return defs.EINVAL
		}
		iov.iovs[i] = _iove_t{uva: uint(uva), sz: sz}
		iov.tsz += sz
	}
	return 0
}

func (iov *Useriovec_t) Remain() int {
	r := 0
	for _, e := range iov.iovs {
		r += e.sz
	}
	return r
}

func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) _tx(buf []uint8, write bool) (int, defs.Err_t) {
	did := 0
	for len(iov.iovs) > 0 && did < len(buf) {
		cur := &iov.iovs[0]
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
			continue
		}
		ub := MkUserbuf(iov.as, int(cur.uva), cur.sz)
		var n int
		var err defs.Err_t
		if write {
			n, err = ub.Uiowrite(buf[did:])
		} else {
			n, err = ub.Uioread(buf[did:])
		}
		cur.uva += uint(n)
		cur.sz -= n
		did += n
		if err != 0 {
			return did, err
		}
		if n == 0 {
			break
		}
	}
	return did, 0
}

func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t)  { return iov._tx(dst, false) }
func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) { return iov._tx(src, true) }

// Fakeubuf_t masquerades a plain kernel byte slice as a Userio_i, used
// when kernel code needs to hand a Userio_i-shaped buffer to code that
// only knows how to talk to one (e.g. building a kernel-internal pipe
// read/write without a backing address space).
type Fakeubuf_t struct {
	fbuf []uint8
	off  int
	len  int
}

func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.fbuf = buf
	fb.off = 0
	fb.len = len(buf)
}

func MkFakeubuf(buf []uint8) *Fakeubuf_t {
	fb := &Fakeubuf_t{}
	fb.Fake_init(buf)
	return fb
}

func (fb *Fakeubuf_t) Remain() int  { return fb.len - fb.off }
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) _tx(buf []uint8, write bool) (int, defs.Err_t) {
	var c int
	if write {
		c = copy(fb.fbuf[fb.off:], buf)
	} else {
		c = copy(buf, fb.fbuf[fb.off:])
	}
	fb.off += c
	return c, 0
}

func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t)  { return fb._tx(dst, false) }
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb._tx(src, true) }
