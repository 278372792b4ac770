// Package circbuf implements a circular byte buffer backed by a single
// physical page, the same one-page ring the teacher's circbuf.go uses.
// It backs sema.Mailbox (and therefore pipes) and is not itself
// thread-safe — callers serialize access with their own lock, the way
// the teacher's single-daemon comment says.
package circbuf

import (
	"merlon/defs"
	"merlon/fdops"
	"merlon/mem"
)

// Circbuf_t is a fixed-capacity ring buffer lazily backed by one physical
// page.
type Circbuf_t struct {
	pages mem.Page_i
	cpu   int
	Buf   []uint8
	bufsz int
	head  int
	tail  int
	p_pg  mem.Pa_t
}

func (cb *Circbuf_t) Bufsz() int { return cb.bufsz }

// Cb_init lazily allocates a backing page on first use; sz must fit in a
// single page.
func (cb *Circbuf_t) Cb_init(sz int, cpu int, m mem.Page_i) defs.Err_t {
	if sz <= 0 || sz > mem.PGSIZE {
		panic("circbuf: bad size")
	}
	cb.pages = m
	cb.cpu = cpu
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
	return 0
}

func (cb *Circbuf_t) cbEnsure() defs.Err_t {
	if cb.Buf != nil {
		return 0
	}
	if cb.bufsz == 0 {
		panic("circbuf: not initialized")
	}
	pg, p_pg, ok := cb.pages.Refpg_new_nozero(cb.cpu)
	if !ok {
		return -defs.ENOMEM
	}
	cb.pages.Refup(p_pg)
	bpg := mem.Pg2bytes(pg)[:cb.bufsz]
	cb.p_pg = p_pg
	cb.Buf = bpg
	cb.head, cb.tail = 0, 0
	return 0
}

// Release drops the backing page's reference; the buffer re-allocates
// lazily on next use.
func (cb *Circbuf_t) Release() {
	if cb.Buf == nil {
		return
	}
	cb.pages.Refdown(cb.p_pg)
	cb.p_pg = 0
	cb.Buf = nil
	cb.head, cb.tail = 0, 0
}

func (cb *Circbuf_t) Full() bool  { return cb.head-cb.tail == cb.bufsz }
func (cb *Circbuf_t) Empty() bool { return cb.head == cb.tail }
func (cb *Circbuf_t) Left() int   { return cb.bufsz - (cb.head - cb.tail) }
func (cb *Circbuf_t) Used() int   { return cb.head - cb.tail }

// Copyin reads from src into the ring, filling as much as there is room
// for.
func (cb *Circbuf_t) Copyin(src fdops.Userio_i) (int, defs.Err_t) {
	if err := cb.cbEnsure(); err != 0 {
		return 0, err
	}
	if cb.Full() {
		return 0, 0
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if ti <= hi {
		dst := cb.Buf[hi:]
		wrote, err := src.Uioread(dst)
		if err != 0 {
			return 0, err
		}
		if wrote != len(dst) {
			cb.head += wrote
			return wrote, 0
		}
		c += wrote
		hi = (cb.head + wrote) % cb.bufsz
	}
	if hi > ti {
		panic("circbuf: inconsistent head/tail")
	}
	dst := cb.Buf[hi:ti]
	wrote, err := src.Uioread(dst)
	c += wrote
	cb.head += c
	if err != 0 {
		return c, err
	}
	return c, 0
}

// Copyout writes the entire buffered contents to dst.
func (cb *Circbuf_t) Copyout(dst fdops.Userio_i) (int, defs.Err_t) {
	return cb.CopyoutN(dst, 0)
}

// CopyoutN writes up to max bytes (0 = unbounded) of the buffer to dst.
func (cb *Circbuf_t) CopyoutN(dst fdops.Userio_i, max int) (int, defs.Err_t) {
	if err := cb.cbEnsure(); err != 0 {
		return 0, err
	}
	if cb.Empty() {
		return 0, 0
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if hi <= ti {
		src := cb.Buf[ti:]
		if max != 0 && max < len(src) {
			src = src[:max]
		}
		wrote, err := dst.Uiowrite(src)
		if err != 0 {
			return 0, err
		}
		if wrote != len(src) || wrote == max {
			cb.tail += wrote
			return wrote, 0
		}
		c += wrote
		if max != 0 {
			max -= c
		}
		ti = (cb.tail + wrote) % cb.bufsz
	}
	if ti > hi {
		panic("circbuf: inconsistent head/tail")
	}
	src := cb.Buf[ti:hi]
	if max != 0 && max < len(src) {
		src = src[:max]
	}
	wrote, err := dst.Uiowrite(src)
	if err != 0 {
		return 0, err
	}
	c += wrote
	cb.tail += c
	return c, 0
}
