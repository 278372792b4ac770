package fs

import (
	"testing"

	"merlon/mem"
)

func TestSuperblockFields(t *testing.T) {
	var data mem.Bytepg_t
	sb := &Superblock_t{Data: &data}
	sb.SetLoglen(7)
	sb.SetFreeblock(1024)
	sb.SetLastblock(9999)
	if sb.Loglen() != 7 || sb.Freeblock() != 1024 || sb.Lastblock() != 9999 {
		t.Fatalf("roundtrip mismatch: %d %d %d", sb.Loglen(), sb.Freeblock(), sb.Lastblock())
	}
}

type fakeMem struct {
	pages map[mem.Pa_t]*mem.Bytepg_t
	next  mem.Pa_t
}

func newFakeMem() *fakeMem { return &fakeMem{pages: make(map[mem.Pa_t]*mem.Bytepg_t)} }

func (f *fakeMem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	f.next += mem.Pa_t(mem.PGSIZE)
	pg := &mem.Bytepg_t{}
	f.pages[f.next] = pg
	return f.next, pg, true
}
func (f *fakeMem) Free(p mem.Pa_t)  { delete(f.pages, p) }
func (f *fakeMem) Refup(mem.Pa_t)   {}

type fakeDisk struct{ reads, writes int }

func (d *fakeDisk) Start(req *Bdev_req_t) bool {
	req.Blks.Apply(func(b *Bdev_block_t) {
		if req.Cmd == BDEV_READ {
			d.reads++
		} else {
			d.writes++
		}
	})
	return false
}
func (d *fakeDisk) Stats() string { return "fake" }

func TestCacheGetCachesAndRelseFrees(t *testing.T) {
	fm := newFakeMem()
	fd := &fakeDisk{}
	c := NewCache(fm, fd)

	b1 := c.Get(5)
	b2 := c.Get(5)
	if b1 != b2 {
		t.Fatal("expected same cached block on second Get")
	}
	if fd.reads != 1 {
		t.Fatalf("expected exactly 1 disk read, got %d", fd.reads)
	}

	b1.Done("")
	b2.Done("")
	if len(fm.pages) != 0 {
		t.Fatal("expected backing page freed after last reference dropped")
	}
}
