// Package spinlock implements IRQL-bound spinlocks: every lock is created
// with a minimum IRQL, acquiring it raises the caller to that level (so a
// lower-priority interrupt can't preempt the holder and deadlock against
// it), and releasing it lowers back to whatever the caller held before.
// Grounded on original_source's AcquireSpinlock/ReleaseSpinlock family and
// the teacher's pattern of embedding sync.Mutex directly into structs
// (vm.Vm_t, fs.Bdev_block_t).
package spinlock

import (
	"fmt"
	"sync"
	"sync/atomic"

	"merlon/irql"
)

// Spinlock is a mutex with an associated minimum IRQL. Re-entrant
// acquisition by the same CPU is a fatal programming error, matching
// spec.md's "re-entrant acquisition on the same CPU is fatal" invariant.
type Spinlock struct {
	name    string
	minIrql irql.Level
	mu      sync.Mutex
	held    int32 // 1 while locked, used only to detect self-deadlock
	holder  int32 // cpu index of the holder, -1 when unheld
}

func New(name string, minIrql irql.Level) *Spinlock {
	return &Spinlock{name: name, minIrql: minIrql, holder: -1}
}

// Acquire raises cpu to the lock's minimum IRQL (or higher, if the caller
// is already above it) and takes the lock, returning the prior IRQL to
// pass to Release.
func (s *Spinlock) Acquire(cpu int) irql.Level {
	target := s.minIrql
	if cur := irql.Get(cpu); cur > target {
		target = cur
	}
	prior := irql.Raise(cpu, target)
	s.lockSelfCheck(cpu)
	return prior
}

// AcquireDirect is for callers already known to be at or above the lock's
// IRQL (e.g. a second lock taken inside a handler already raised for the
// first); it takes the lock without touching IRQL.
func (s *Spinlock) AcquireDirect(cpu int) {
	irql.AssertMin(cpu, s.minIrql)
	s.lockSelfCheck(cpu)
}

func (s *Spinlock) lockSelfCheck(cpu int) {
	if atomic.LoadInt32(&s.held) == 1 && atomic.LoadInt32(&s.holder) == int32(cpu) {
		panic(fmt.Sprintf("spinlock %q: re-entrant acquire by cpu %d", s.name, cpu))
	}
	s.mu.Lock()
	atomic.StoreInt32(&s.held, 1)
	atomic.StoreInt32(&s.holder, int32(cpu))
}

// Release unlocks and lowers cpu's IRQL back to prior (the value Acquire
// returned).
func (s *Spinlock) Release(cpu int, prior irql.Level) {
	s.unlockSelfCheck(cpu)
	irql.Lower(cpu, prior)
}

// ReleaseDirect unlocks without touching IRQL, the counterpart of
// AcquireDirect.
func (s *Spinlock) ReleaseDirect(cpu int) {
	s.unlockSelfCheck(cpu)
}

func (s *Spinlock) unlockSelfCheck(cpu int) {
	if atomic.LoadInt32(&s.holder) != int32(cpu) {
		panic(fmt.Sprintf("spinlock %q: release by non-holder cpu %d", s.name, cpu))
	}
	atomic.StoreInt32(&s.held, 0)
	atomic.StoreInt32(&s.holder, -1)
	s.mu.Unlock()
}

// AssertHeld panics if the lock is not currently held by any CPU; used the
// way the C original's AssertSchedulerLockHeld asserts internal invariants.
func (s *Spinlock) AssertHeld() {
	if atomic.LoadInt32(&s.held) != 1 {
		panic(fmt.Sprintf("spinlock %q: expected held", s.name))
	}
}

func (s *Spinlock) MinIrql() irql.Level { return s.minIrql }
func (s *Spinlock) Name() string        { return s.name }
