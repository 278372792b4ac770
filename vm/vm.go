// Package vm implements a process address space: the region list
// (Vmregion_t/Vminfo_t), the page-fault handler that resolves copy-on-write
// and file-backed faults, and the user-memory access helpers (Userbuf_t,
// Useriovec_t, Fakeubuf_t) syscalls use to cross the user/kernel boundary.
// Adapted from the teacher's vm/as.go and vm/userbuf.go.
//
// The teacher's Pmap_t is a real multi-level x86 page table, walked by
// real hardware on every memory access; nothing in this hosted simulation
// ever walks it except this package's own fault handler, so a flat
// va->pte map gives the identical lookup/insert semantics without
// fabricating page-table levels whose only reader is the code that wrote
// them. PTE_COW/PTE_WASCOW/PTE_D/PTE_A are software-only bits with no
// hardware meaning even on the teacher's real x86 target; they're kept
// here, at the same names, since the fault handler's logic depends on
// them exactly as written.
package vm

import (
	"sync"
	"time"

	"merlon/defs"
	"merlon/fdops"
	"merlon/heap"
	"merlon/mem"
	"merlon/ustr"
	"merlon/util"
)

const (
	PTE_COW     mem.Pa_t = 1 << 9
	PTE_WASCOW  mem.Pa_t = 1 << 10
	PTE_D       mem.Pa_t = 1 << 6
	PTE_A       mem.Pa_t = 1 << 5
)

// USERMIN is the lowest virtual address user mappings may occupy; below it
// is reserved the way the teacher reserves low kernel-only VAS.
const USERMIN uintptr = 1 << 20

type mtype_t int

const (
	VANON mtype_t = iota
	VFILE
	VSANON
)

// Mfile_t is a shared file mapping's backing state: its ops, unpin hook,
// and how many page-table entries still map it.
type Mfile_t struct {
	mfops    fdops.Fdops_i
	unpin    func(*Vm_t, int, mem.Pa_t)
	mapcount int
}

type vfile_t struct {
	foff   int
	mfile  *Mfile_t
	shared bool
}

// Vminfo_t describes one mapped region: a contiguous run of pgn..pgn+pglen
// virtual pages, a backing type, and the permissions the fault handler
// should install.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint
	file  vfile_t
}

func (vmi *Vminfo_t) covers(va uintptr) bool {
	pgn := va >> mem.PGSHIFT
	return pgn >= vmi.Pgn && pgn < vmi.Pgn+uintptr(vmi.Pglen)
}

// Filepage resolves the physical page backing va in a file-backed region.
// This core has no page cache of its own yet; a file-backed region always
// faults in a private zeroed page, which is the fallback the teacher's own
// Filepage takes when a block isn't cached.
func (vmi *Vminfo_t) Filepage(cpu int, phys *mem.Physmem_t) (*mem.Pg_t, mem.Pa_t, defs.Err_t) {
	pg, p, ok := phys.Refpg_new(cpu)
	if !ok {
		return nil, 0, defs.ENOMEM
	}
	return pg, p, 0
}

// Vmregion_t is the list of a process's mapped regions, in insertion
// order.
type Vmregion_t struct {
	regions []*Vminfo_t
}

func (r *Vmregion_t) insert(vmi *Vminfo_t) { r.regions = append(r.regions, vmi) }

// Lookup returns the region covering va, if any.
func (r *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	for _, vmi := range r.regions {
		if vmi.covers(va) {
			return vmi, true
		}
	}
	return nil, false
}

func (r *Vmregion_t) Clear() { r.regions = nil }

// removeRange drops every region fully contained in [start, end), the
// coarse-grained counterpart to Clear used by Unmapvirt.
func (r *Vmregion_t) removeRange(start, end uintptr) {
	kept := r.regions[:0]
	for _, vmi := range r.regions {
		lo := vmi.Pgn << mem.PGSHIFT
		hi := lo + uintptr(vmi.Pglen)<<mem.PGSHIFT
		if lo >= start && hi <= end {
			continue
		}
		kept = append(kept, vmi)
	}
	r.regions = kept
}

// empty finds the lowest unused range of at least l bytes at or above
// startva, the way the teacher's Unusedva_inner does.
func (r *Vmregion_t) empty(startva, l uintptr) (uintptr, uintptr) {
	cand := startva
	for {
		overlap := false
		for _, vmi := range r.regions {
			lo := vmi.Pgn << mem.PGSHIFT
			hi := lo + uintptr(vmi.Pglen)<<mem.PGSHIFT
			if cand < hi && cand+l > lo {
				cand = hi
				overlap = true
			}
		}
		if !overlap {
			return cand, l
		}
	}
}

// Vm_t is a process address space: its region list and software page
// table. The mutex serializes every pmap/region mutation, including page
// fault resolution, matching the teacher's Lock_pmap/Unlock_pmap pairing.
type Vm_t struct {
	sync.Mutex
	Vmregion Vmregion_t

	ptes      map[uintptr]mem.Pa_t
	pgfltaken bool

	Phys   *mem.Physmem_t
	Heap   *heap.Quota
	cpu    int
	zeroPa mem.Pa_t
	hasZero bool
}

func New(phys *mem.Physmem_t, q *heap.Quota, cpu int) *Vm_t {
	return &Vm_t{ptes: make(map[uintptr]mem.Pa_t), Phys: phys, Heap: q, cpu: cpu}
}

// zeropage lazily allocates the physical page this address space maps,
// refcounted up, for every not-yet-written anonymous mapping. Real
// kernels keep one such page system-wide; this core keeps one per
// address space rather than threading a global through every call site.
func (as *Vm_t) zeropage() (mem.Pa_t, defs.Err_t) {
	if !as.hasZero {
		_, p, ok := as.Phys.Refpg_new(as.cpu)
		if !ok {
			return 0, defs.ENOMEM
		}
		as.zeroPa = p
		as.hasZero = true
	}
	return as.zeroPa, 0
}

func (as *Vm_t) Lock_pmap()   { as.Lock(); as.pgfltaken = true }
func (as *Vm_t) Unlock_pmap() { as.pgfltaken = false; as.Unlock() }

func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vm: pgfl lock must be held")
	}
}

func pageOf(va uintptr) uintptr { return va &^ uintptr(mem.PGOFFSET) }

func (as *Vm_t) pteFor(va uintptr) (mem.Pa_t, bool) {
	pte, ok := as.ptes[pageOf(va)]
	return pte, ok
}

func (as *Vm_t) setPte(va uintptr, pte mem.Pa_t) { as.ptes[pageOf(va)] = pte }

// Userdmap8_inner maps the user address at va, faulting it in if
// necessary, and returns the byte slice starting at va within its page.
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	uva := uintptr(va)
	voff := uva & uintptr(mem.PGOFFSET)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, defs.EFAULT
	}

	pte, present := as.pteFor(uva)
	ecode := mem.PTE_U
	needfault := true
	if k2u {
		ecode |= mem.PTE_W
		iscow := pte&PTE_COW != 0
		if present && pte&mem.PTE_P != 0 && !iscow {
			needfault = false
		}
	} else if present && pte&mem.PTE_P != 0 {
		needfault = false
	}

	if needfault {
		if err := as.pgfault(vmi, uva, ecode); err != 0 {
			return nil, err
		}
		pte, _ = as.pteFor(uva)
	}

	pg := as.Phys.Dmap(pte & mem.PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.Userdmap8_inner(va, k2u)
}

func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) { return as._userdmap8(va, false) }

// Userreadn/Userwriten read or write a little-endian n<=8 byte integer at a
// user address, crossing page boundaries as needed.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.userreadn_inner(va, n)
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("vm: large n")
	}
	var ret int
	for i := 0; i < n; i++ {
		src, err := as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		ret |= int(src[0]) << (8 * uint(i))
	}
	return ret, 0
}

func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("vm: large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for i := 0; i < n; i++ {
		dst, err := as.Userdmap8_inner(va+i, true)
		if err != 0 {
			return err
		}
		dst[0] = uint8(val >> (8 * uint(i)))
	}
	return 0
}

// Userstr copies a NUL-terminated string from user memory, up to lenmax
// bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	s := ustr.MkUstr()
	i := 0
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			return nil, defs.ENAMETOOLONG
		}
	}
}

func (as *Vm_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, time.Time{}, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, time.Time{}, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, time.Time{}, defs.EINVAL
	}
	tot := time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond
	return tot, time.Unix(int64(secs), int64(nsecs)), 0
}

func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(src) {
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		cnt += n
	}
	return 0
}

func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(dst) {
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		n := copy(dst[cnt:], src)
		cnt += n
	}
	return 0
}

// pgfault resolves a fault at faultaddr in vmi, installing a page and
// updating the software pte. Grounded on the teacher's Sys_pgfault: the
// COW-claim fast path (a once-mapped anon page can just be marked
// writable instead of copied), the zero/file-backed first-touch path, and
// the copy-on-write path are all preserved.
func (as *Vm_t) pgfault(vmi *Vminfo_t, faultaddr uintptr, ecode mem.Pa_t) defs.Err_t {
	isguard := vmi.Perms == 0
	iswrite := ecode&mem.PTE_W != 0
	writeok := vmi.Perms&uint(mem.PTE_W) != 0
	if isguard || (iswrite && !writeok) {
		return defs.EFAULT
	}
	if vmi.Mtype == VSANON {
		panic("vm: shared anon pages should always be mapped")
	}

	pte, present := as.pteFor(faultaddr)
	if (iswrite && pte&PTE_WASCOW != 0) || (!iswrite && present && pte&mem.PTE_P != 0) {
		return 0 // raced with another fault on the same page
	}

	var p_pg mem.Pa_t
	perms := mem.PTE_U | mem.PTE_P

	if vmi.Mtype == VFILE && vmi.file.shared {
		_, pg, err := vmi.Filepage(as.cpu, as.Phys)
		if err != 0 {
			return err
		}
		p_pg = pg
		if vmi.Perms&uint(mem.PTE_W) != 0 {
			perms |= mem.PTE_W
		}
	} else if iswrite {
		cow := pte&PTE_COW != 0
		var pgsrc *mem.Pg_t
		if cow {
			phys := pte & mem.PTE_ADDR
			if vmi.Mtype == VANON && as.Phys.Refcnt(phys) == 1 {
				tmp := pte &^ PTE_COW
				tmp |= mem.PTE_W | PTE_WASCOW
				as.setPte(faultaddr, tmp)
				return 0
			}
			pgsrc = as.Phys.Dmap(phys)
		} else {
			switch vmi.Mtype {
			case VANON:
				pgsrc = mem.Zeropg
			case VFILE:
				pg, p, err := vmi.Filepage(as.cpu, as.Phys)
				if err != 0 {
					return err
				}
				pgsrc = pg
				defer as.Phys.Refdown(p)
			}
		}
		pg, p, ok := as.Phys.Refpg_new_nozero(as.cpu)
		if !ok {
			return defs.ENOMEM
		}
		*pg = *pgsrc
		p_pg = p
		perms |= mem.PTE_W | PTE_WASCOW
	} else {
		switch vmi.Mtype {
		case VANON:
			p, err := as.zeropage()
			if err != 0 {
				return err
			}
			p_pg = p
		case VFILE:
			_, p, err := vmi.Filepage(as.cpu, as.Phys)
			if err != 0 {
				return err
			}
			p_pg = p
		}
		if vmi.Perms&uint(mem.PTE_W) != 0 {
			perms |= PTE_COW
		}
	}
	if perms&mem.PTE_W != 0 {
		perms |= PTE_D
	}
	perms |= PTE_A

	as.Phys.Refup(p_pg)
	as.setPte(faultaddr, p_pg|perms|mem.PTE_P)
	return 0
}

// Pgfault is pgfault's entry point from a thread's own fault, acquiring
// the lock the inner handler assumes is already held.
func (as *Vm_t) Pgfault(tid defs.Tid_t, fa uintptr, ecode mem.Pa_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		return defs.EFAULT
	}
	return as.pgfault(vmi, fa, ecode)
}

// Page_insert maps p directly at va with the given permissions, bumping
// its refcount, for code that already has a physical page in hand (exec
// loading ELF segment contents) rather than waiting for a fault.
func (as *Vm_t) Page_insert(va int, p mem.Pa_t, perms mem.Pa_t) {
	as.Lockassert_pmap()
	uva := uintptr(va)
	if old, ok := as.pteFor(uva); ok && old&mem.PTE_P != 0 {
		as.Phys.Refdown(old & mem.PTE_ADDR)
	}
	as.Phys.Refup(p)
	as.setPte(uva, p|perms|mem.PTE_P)
}

// Page_remove unmaps va, dropping the backing page's refcount.
func (as *Vm_t) Page_remove(va int) bool {
	as.Lockassert_pmap()
	uva := uintptr(va)
	pte, ok := as.pteFor(uva)
	if !ok || pte&mem.PTE_P == 0 {
		return false
	}
	as.Phys.Refdown(pte & mem.PTE_ADDR)
	delete(as.ptes, pageOf(uva))
	return true
}

// Uvmfree releases every mapping in this address space.
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for va, pte := range as.ptes {
		if pte&mem.PTE_P != 0 {
			as.Phys.Refdown(pte & mem.PTE_ADDR)
		}
		delete(as.ptes, va)
	}
	as.Vmregion.Clear()
}

func (as *Vm_t) Vmadd_anon(start, length int, perms mem.Pa_t) {
	as.Lock()
	defer as.Unlock()
	as.Vmregion.insert(as.mkvmi(VANON, start, length, perms, 0, nil))
}

func (as *Vm_t) Vmadd_file(start, length int, perms mem.Pa_t, fops fdops.Fdops_i, foff int) {
	as.Lock()
	defer as.Unlock()
	as.Vmregion.insert(as.mkvmi(VFILE, start, length, perms, foff, fops))
}

func (as *Vm_t) Vmadd_shareanon(start, length int, perms mem.Pa_t) {
	as.Lock()
	defer as.Unlock()
	as.Vmregion.insert(as.mkvmi(VSANON, start, length, perms, 0, nil))
}

func (as *Vm_t) mkvmi(mt mtype_t, start, length int, perms mem.Pa_t, foff int, fops fdops.Fdops_i) *Vminfo_t {
	if length <= 0 {
		panic("vm: bad region length")
	}
	if mem.Pa_t(start|length)&mem.PGOFFSET != 0 {
		panic("vm: start and length must be page-aligned")
	}
	vmi := &Vminfo_t{
		Mtype: mt,
		Pgn:   uintptr(start) >> mem.PGSHIFT,
		Pglen: util.Roundup(length, mem.PGSIZE) >> mem.PGSHIFT,
		Perms: uint(perms),
	}
	if mt == VFILE {
		vmi.file = vfile_t{foff: foff, mfile: &Mfile_t{mfops: fops}, shared: fops != nil}
	}
	return vmi
}

// Fork clones as into a new address space for a child process: every
// region is duplicated, and every present, writable page (whatever its
// region type) is switched to copy-on-write in both the parent and the child instead of
// being copied immediately, matching the teacher's Vm_t.Fork/mkcow split
// (spec.md's fork(2) is specified as "logically copies the address
// space", not "physically copies every page up front").
func (as *Vm_t) Fork() *Vm_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	child := New(as.Phys, as.Heap, as.cpu)
	child.zeroPa = as.zeroPa
	child.hasZero = as.hasZero
	if as.hasZero {
		as.Phys.Refup(as.zeroPa)
	}

	for _, vmi := range as.Vmregion.regions {
		cp := *vmi
		child.Vmregion.insert(&cp)
	}

	for va, pte := range as.ptes {
		if pte&mem.PTE_P == 0 {
			child.setPte(va, pte)
			continue
		}
		if pte&mem.PTE_W != 0 && pte&PTE_COW == 0 {
			pte = (pte &^ mem.PTE_W) | PTE_COW
			as.ptes[va] = pte
		}
		as.Phys.Refup(pte & mem.PTE_ADDR)
		child.setPte(va, pte)
	}
	return child
}

// ExecReset wipes every usermode mapping, the way prepexec's
// WipeUsermodePages resets an address space in place for a fresh exec
// image rather than allocating a whole new Vm_t, so the process keeps its
// pid/fd table across the exec.
func (as *Vm_t) ExecReset() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for va, pte := range as.ptes {
		if pte&mem.PTE_P != 0 {
			as.Phys.Refdown(pte & mem.PTE_ADDR)
		}
		delete(as.ptes, va)
	}
	as.Vmregion.Clear()
	as.hasZero = false
	as.zeroPa = 0
}

// Unmapvirt removes every page-table entry covering [va, va+length) and
// drops whichever regions that range fully contains, matching
// UnmapVirt's munmap(2)-style forget-this-range semantics.
func (as *Vm_t) Unmapvirt(va, length int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	start := util.Rounddown(va, mem.PGSIZE)
	end := util.Roundup(va+length, mem.PGSIZE)
	for a := start; a < end; a += mem.PGSIZE {
		as.Page_remove(a)
	}
	as.Vmregion.removeRange(uintptr(start), uintptr(end))
	return 0
}

// Mprotect rewrites the writable bit of every present page in
// [va, va+length), matching SetVirtPermissions's per-page permission walk.
func (as *Vm_t) Mprotect(va, length int, writable bool) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	start := util.Rounddown(va, mem.PGSIZE)
	end := util.Roundup(va+length, mem.PGSIZE)
	for a := start; a < end; a += mem.PGSIZE {
		pte, ok := as.pteFor(uintptr(a))
		if !ok || pte&mem.PTE_P == 0 {
			continue
		}
		if writable {
			pte |= mem.PTE_W
		} else {
			pte &^= mem.PTE_W
		}
		as.setPte(uintptr(a), pte)
	}
	return 0
}

// Unusedva_inner finds the lowest unused address range of at least length
// bytes at or above startva.
func (as *Vm_t) Unusedva_inner(startva, length int) int {
	as.Lockassert_pmap()
	sva := uintptr(util.Rounddown(startva, mem.PGSIZE))
	if sva < USERMIN {
		sva = USERMIN
	}
	ret, _ := as.Vmregion.empty(sva, uintptr(length))
	return int(ret)
}
