// Package heap is the kernel heap: a quota-gated allocator. Real kernel
// code above PageFault IRQL must never allocate (no page faults are
// serviceable), so every allocation path first asks a Reservation whether
// there is budget, mirroring the res/bounds quota-check pattern the
// teacher's vm package calls into (vm/as.go, vm/userbuf.go) but whose
// packages are themselves empty in the retrieved source — this
// reconstructs that pattern from its call sites.
package heap

import (
	"sync"

	"merlon/irql"
)

// Bound names a call site that may need heap quota, used only for
// attributing exhaustion in diagnostics (mirrors the teacher's
// bounds.Bounds enum of call-site identifiers).
type Bound int

const (
	BoundUserbufTx Bound = iota
	BoundIovecInit
	BoundGeneric
)

// Quota tracks how many bytes of kernel heap a reservation is allowed to
// use before further allocation requests are rejected with ENOHEAP.
type Quota struct {
	mu        sync.Mutex
	limit     int64
	allocated int64
}

func NewQuota(limitBytes int64) *Quota {
	return &Quota{limit: limitBytes}
}

// Reserve asks for n bytes of budget without blocking; it never blocks
// the caller waiting on memory to free up — that's Resadd's whole point,
// since callers may be running above Standard IRQL where blocking isn't
// legal. It returns false if the quota is exhausted.
func (q *Quota) Reserve(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.allocated+int64(n) > q.limit {
		return false
	}
	q.allocated += int64(n)
	return true
}

// Release returns n bytes of budget.
func (q *Quota) Release(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.allocated -= int64(n)
	if q.allocated < 0 {
		panic("heap: quota released more than reserved")
	}
}

func (q *Quota) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allocated
}

// Alloc allocates n bytes against q, panicking if called above PageFault
// IRQL (the heap is off-limits there, matching spec.md's IRQL rules) and
// returning (nil, false) if the quota is exhausted.
func Alloc(cpu int, q *Quota, n int) ([]byte, bool) {
	irql.AssertMax(cpu, irql.PageFault)
	if !q.Reserve(n) {
		return nil, false
	}
	return make([]byte, n), true
}

// Free returns n bytes to q. The slice itself is left for the garbage
// collector; this only accounts the quota back.
func Free(q *Quota, n int) {
	q.Release(n)
}
