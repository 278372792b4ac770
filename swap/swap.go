// Package swap is the swapfile: a bitmap allocator over a backing store
// evicted pages are written to and read back from, freeing their
// physical frames under memory pressure. Grounded on
// original_source/kernel/mem/swapfile.c (AllocateSwapfileIndex/
// DeallocateSwapfileIndex's bitmap scan, guarded by a single IRQL-Scheduler
// spinlock exactly as that file does).
package swap

import (
	"merlon/defs"
	"merlon/irql"
	"merlon/mem"
	"merlon/spinlock"
)

// Swapfile is a fixed number of page-sized slots on a simulated backing
// store (a byte arena standing in for swapfile.c's "swap:/" open file),
// each slot tracked present/free by a bitmap exactly like GetBitmapEntry/
// SetBitmapEntry.
type Swapfile struct {
	lock   *spinlock.Spinlock
	bitmap []byte
	store  []byte
	nslots int
	inUse  int
}

// New creates a swapfile able to hold nslots pages.
func New(nslots int) *Swapfile {
	return &Swapfile{
		lock:   spinlock.New("swapfile", irql.Scheduler),
		bitmap: make([]byte, (nslots+7)/8),
		store:  make([]byte, nslots*mem.PGSIZE),
		nslots: nslots,
	}
}

func (s *Swapfile) getBit(i int) bool { return s.bitmap[i/8]&(1<<uint(i%8)) != 0 }
func (s *Swapfile) setBit(i int, v bool) {
	if v {
		s.bitmap[i/8] |= 1 << uint(i%8)
	} else {
		s.bitmap[i/8] &^= 1 << uint(i%8)
	}
}

// Allocate reserves the lowest-numbered free slot, the way
// AllocateSwapfileIndex linear-scans the bitmap. Returns ENOSPC instead
// of panicking (swapfile.c panics with PANIC_OUT_OF_SWAPFILE) since
// running out of swap is a recoverable condition for this core's callers
// to react to (e.g. refuse the eviction, keep the page resident).
func (s *Swapfile) Allocate(cpu int) (int, defs.Err_t) {
	prior := s.lock.Acquire(cpu)
	defer s.lock.Release(cpu, prior)

	for i := 0; i < s.nslots; i++ {
		if !s.getBit(i) {
			s.setBit(i, true)
			s.inUse++
			return i, 0
		}
	}
	return 0, defs.ENOSPC
}

// Deallocate frees slot index, making it available for reuse.
func (s *Swapfile) Deallocate(cpu int, index int) {
	prior := s.lock.Acquire(cpu)
	defer s.lock.Release(cpu, prior)
	if !s.getBit(index) {
		panic("swap: double free of swap slot")
	}
	s.setBit(index, false)
	s.inUse--
}

// NumberInUse reports how many slots are currently allocated.
func (s *Swapfile) NumberInUse(cpu int) int {
	prior := s.lock.Acquire(cpu)
	defer s.lock.Release(cpu, prior)
	return s.inUse
}

// WriteOut copies pg's contents to swap slot index, the eviction half of
// paging a frame out.
func (s *Swapfile) WriteOut(index int, pg *mem.Pg_t) {
	bpg := mem.Pg2bytes(pg)
	copy(s.store[index*mem.PGSIZE:(index+1)*mem.PGSIZE], bpg[:])
}

// ReadIn copies swap slot index's contents into pg, the page-in half of
// resolving a fault on a swapped-out page.
func (s *Swapfile) ReadIn(index int, pg *mem.Pg_t) {
	bpg := mem.Pg2bytes(pg)
	copy(bpg[:], s.store[index*mem.PGSIZE:(index+1)*mem.PGSIZE])
}
