// Package mem is the physical frame allocator (component B): a flat array
// of simulated physical pages with per-page reference counts, served from
// per-CPU free lists that fall back to one global list under a mutex.
// Grounded on the teacher's mem/mem.go; the direct-map trick there
// (Dmap/Dmap_v2p, runtime.Get_phys) relies on a patched runtime mapping
// real physical memory into the address space, which a hosted Go process
// doesn't have. Here "physical memory" is a single Go-allocated byte
// arena and Pa_t is a byte offset into it — Dmap/Dmap_v2p become ordinary
// slice-offset arithmetic instead of reading a privileged direct-map
// region, but the free-list/refcount algorithm is otherwise unchanged.
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"merlon/util"
)

const PGSHIFT uint = 12
const PGSIZE int = 1 << PGSHIFT

const PGOFFSET Pa_t = 0xfff
const PGMASK Pa_t = ^(PGOFFSET)

const (
	PTE_P    Pa_t = 1 << 0
	PTE_W    Pa_t = 1 << 1
	PTE_U    Pa_t = 1 << 2
	PTE_PCD  Pa_t = 1 << 4
	PTE_PS   Pa_t = 1 << 7
	PTE_G    Pa_t = 1 << 8
	PTE_ADDR Pa_t = PGMASK
)

// Pa_t is a "physical address": an offset into the simulated physical
// arena, not a real hardware address.
type Pa_t uintptr

// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

// Pg_t is a page viewed as 512 machine words, matching a page-table page.
type Pg_t [512]int

// Pmap_t is a page-table page: 512 page-table entries.
type Pmap_t [512]Pa_t

func Pg2bytes(pg *Pg_t) *Bytepg_t { return (*Bytepg_t)(unsafe.Pointer(pg)) }
func Bytepg2pg(pg *Bytepg_t) *Pg_t { return (*Pg_t)(unsafe.Pointer(pg)) }
func pg2pmap(pg *Pg_t) *Pmap_t     { return (*Pmap_t)(unsafe.Pointer(pg)) }

// Page_i abstracts physical page allocation for consumers (circbuf, vm)
// that only need to allocate/refcount pages, not the whole allocator. cpu
// picks which per-CPU free list an allocation is served from first.
type Page_i interface {
	Refpg_new(cpu int) (*Pg_t, Pa_t, bool)
	Refpg_new_nozero(cpu int) (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

type physpg_t struct {
	refcnt  int32
	nexti   uint32
	cpumask uint64 // bit n set if cpu n has this page (a pmap) loaded
}

const maxCPU = 2

type pcpufree_t struct {
	sync.Mutex
	freei   uint32
	freelen int32
	pmaps   uint32
	pmaplen int32
}

func (pc *pcpufree_t) init() {
	pc.freei = ^uint32(0)
	pc.pmaps = ^uint32(0)
}

// Physmem_t is the physical frame allocator. arena backs every page this
// allocator hands out; Dmap/Dmap_v2p translate between Pa_t offsets and
// pointers into arena.
type Physmem_t struct {
	arena  []byte
	pgs    []physpg_t
	freei  uint32
	freelen int32
	pmaps  uint32
	pmaplen int32
	sync.Mutex
	percpu [maxCPU]pcpufree_t

	// Low-memory notification, folded in from the teacher's sibling
	// oommsg package: a failed Refpg_new/Refpg_new_nozero posts an
	// OomRequest here without blocking (dropped if one is already pending)
	// and returns failure to its caller. Nothing waits on Resume and the
	// allocation is not retried.
	OOM chan OomRequest
}

type OomRequest struct {
	Need   int
	Resume chan bool
}

var Zeropg = &Pg_t{}

// New allocates npages of simulated physical memory.
func New(npages int) *Physmem_t {
	phys := &Physmem_t{
		arena: make([]byte, npages*PGSIZE),
		pgs:   make([]physpg_t, npages),
		OOM:   make(chan OomRequest, 1),
	}
	phys.freei = 0
	phys.freelen = int32(npages)
	phys.pmaps = ^uint32(0)
	for i := range phys.pgs {
		phys.pgs[i].refcnt = 0
		if i == npages-1 {
			phys.pgs[i].nexti = ^uint32(0)
		} else {
			phys.pgs[i].nexti = uint32(i + 1)
		}
	}
	for i := range phys.percpu {
		phys.percpu[i].init()
	}
	fmt.Printf("Reserved %v pages (%vMB)\n", npages, npages*PGSIZE>>20)
	return phys
}

func (phys *Physmem_t) refaddr(idx uint32) *int32 {
	return &phys.pgs[idx].refcnt
}

func (phys *Physmem_t) idxOf(p Pa_t) uint32 {
	return uint32(p >> PGSHIFT)
}

func (phys *Physmem_t) Refcnt(p Pa_t) int {
	return int(atomic.LoadInt32(phys.refaddr(phys.idxOf(p))))
}

func (phys *Physmem_t) Refup(p Pa_t) {
	c := atomic.AddInt32(phys.refaddr(phys.idxOf(p)), 1)
	if c <= 0 {
		panic("mem: refup produced non-positive refcount")
	}
}

func (phys *Physmem_t) refdec(p Pa_t) (zero bool, idx uint32) {
	idx = phys.idxOf(p)
	c := atomic.AddInt32(phys.refaddr(idx), -1)
	if c < 0 {
		panic("mem: refdown below zero")
	}
	return c == 0, idx
}

// Refdown drops p's refcount and returns true if it hit zero and was
// returned to a free list.
func (phys *Physmem_t) Refdown(p Pa_t) bool {
	return phys.put(p, false)
}

func cpuFreeList(cpu int, ispmap bool, mine *pcpufree_t) (*uint32, *int32, int) {
	if ispmap {
		return &mine.pmaps, &mine.pmaplen, 20
	}
	return &mine.freei, &mine.freelen, 100
}

func (phys *Physmem_t) pcpuPut(cpu int, idx uint32, ispmap bool) bool {
	mine := &phys.percpu[cpu]
	fl, cnt, cap := cpuFreeList(cpu, ispmap, mine)
	mine.Lock()
	defer mine.Unlock()
	if *cnt >= int32(cap) {
		return false
	}
	phys.pgs[idx].nexti = *fl
	*fl = idx
	*cnt++
	return true
}

func (phys *Physmem_t) pcpuNew(cpu int, ispmap bool) (*Pg_t, Pa_t, bool) {
	mine := &phys.percpu[cpu]
	fl, cnt, _ := cpuFreeList(cpu, ispmap, mine)
	return phys.newFrom(fl, mine, cnt)
}

func (phys *Physmem_t) newFrom(fl *uint32, lock sync.Locker, cnt *int32) (*Pg_t, Pa_t, bool) {
	lock.Lock()
	ff := *fl
	var p Pa_t
	var ok bool
	if ff != ^uint32(0) {
		p = Pa_t(ff) << PGSHIFT
		*fl = phys.pgs[ff].nexti
		*cnt--
		if *cnt < 0 {
			panic("mem: free count went negative")
		}
		ok = true
	}
	lock.Unlock()
	if !ok {
		return nil, 0, false
	}
	return phys.Dmap(p), p, true
}

func (phys *Physmem_t) refpgNew(cpu int) (*Pg_t, Pa_t, bool) {
	if pg, p, ok := phys.pcpuNew(cpu, false); ok {
		return pg, p, ok
	}
	return phys.newFrom(&phys.freei, phys, &phys.freelen)
}

// Refpg_new allocates a zeroed page.
func (phys *Physmem_t) Refpg_new(cpu int) (*Pg_t, Pa_t, bool) {
	pg, p, ok := phys.refpgNew(cpu)
	if !ok {
		phys.notifyOOM(1)
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p, true
}

// Refpg_new_nozero allocates a page without zeroing it first.
func (phys *Physmem_t) Refpg_new_nozero(cpu int) (*Pg_t, Pa_t, bool) {
	pg, p, ok := phys.refpgNew(cpu)
	if !ok {
		phys.notifyOOM(1)
	}
	return pg, p, ok
}

// Pmap_new allocates a page-table page, preferring the pmap free lists
// before falling back to ordinary pages.
func (phys *Physmem_t) Pmap_new(cpu int) (*Pmap_t, Pa_t, bool) {
	a, b, ok := phys.pcpuNew(cpu, true)
	if !ok {
		a, b, ok = phys.newFrom(&phys.pmaps, phys, &phys.pmaplen)
	}
	if !ok {
		a, b, ok = phys.Refpg_new(cpu)
	}
	if !ok {
		return nil, 0, false
	}
	return pg2pmap(a), b, true
}

// put returns p to the global free list once its refcount hits zero.
// Freed pages always go back to the global list rather than a per-CPU
// one: Refdown has no CPU context (it mirrors the teacher's Page_i
// interface), so there is no "this CPU" to prefer. Per-CPU lists are only
// an allocation-side fast path, refilled lazily by pcpuPut's caller when
// one exists.
func (phys *Physmem_t) put(p Pa_t, ispmap bool) bool {
	zero, idx := phys.refdec(p)
	if !zero {
		return false
	}
	fl, cnt := &phys.freei, &phys.freelen
	if ispmap {
		fl, cnt = &phys.pmaps, &phys.pmaplen
	}
	phys.Lock()
	phys.pgs[idx].nexti = *fl
	*fl = idx
	*cnt++
	phys.Unlock()
	return true
}

// Dec_pmap drops a page-table page's refcount, returning it to the global
// pmap free list once the count reaches zero.
func (phys *Physmem_t) Dec_pmap(p Pa_t) {
	phys.put(p, true)
}

// Dmap returns a pointer into the simulated arena for the page containing
// p, aliasing the same bytes every caller sees (it does not copy).
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	off := util.Rounddown(int(p), PGSIZE)
	if off < 0 || off+PGSIZE > len(phys.arena) {
		panic("mem: address outside arena")
	}
	return (*Pg_t)(unsafe.Pointer(&phys.arena[off]))
}

// Dmap_v2p is the inverse of Dmap.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	base := uintptr(unsafe.Pointer(&phys.arena[0]))
	va := uintptr(unsafe.Pointer(v))
	if va < base || va >= base+uintptr(len(phys.arena)) {
		panic("mem: pointer outside arena")
	}
	return Pa_t(va - base)
}

// Dmap8 returns the byte slice for p's page, starting at p's own offset
// within that page.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

// Pgcount reports free-list lengths: the global free/pmap counts and one
// entry per CPU that has pages cached locally.
func (phys *Physmem_t) Pgcount() (global, globalPmap int, perCPU, perCPUPmap []int) {
	phys.Lock()
	global = int(phys.freelen)
	globalPmap = int(phys.pmaplen)
	phys.Unlock()
	for i := range phys.percpu {
		pc := &phys.percpu[i]
		pc.Lock()
		if pc.freelen != 0 || pc.pmaplen != 0 {
			perCPU = append(perCPU, int(pc.freelen))
			perCPUPmap = append(perCPUPmap, int(pc.pmaplen))
		}
		pc.Unlock()
	}
	return
}

func (phys *Physmem_t) notifyOOM(need int) {
	select {
	case phys.OOM <- OomRequest{Need: need, Resume: make(chan bool, 1)}:
	default:
	}
}

// Total reports the number of pages this allocator was created with.
func (phys *Physmem_t) Total() int { return len(phys.pgs) }
