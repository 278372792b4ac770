// Package irql implements the software priority-level ladder every other
// kernel package is built on: raising the IRQL masks lower-priority work,
// lowering it runs whatever was deferred while it was masked. Grounded on
// original_source/kernel/include/irql.h.
package irql

import "fmt"

// Level is the kernel's software interrupt priority. Thread context can
// only be switched at Standard; code running above Standard must not
// block or touch the heap.
type Level int

const (
	Standard  Level = 0
	PageFault Level = 1
	Scheduler Level = 2
	// Driver IRQLs occupy the range [DriverBase, DriverMax]; a spinlock or
	// interrupt handler picks a level in this range based on priority
	// relative to other drivers.
	DriverBase Level = 3
	DriverMax  Level = 39
	Timer      Level = 40
	High       Level = 41
)

func (l Level) String() string {
	switch {
	case l == Standard:
		return "standard"
	case l == PageFault:
		return "page_fault"
	case l == Scheduler:
		return "scheduler"
	case l >= DriverBase && l <= DriverMax:
		return fmt.Sprintf("driver(%d)", int(l-DriverBase))
	case l == Timer:
		return "timer"
	case l == High:
		return "high"
	default:
		return fmt.Sprintf("invalid(%d)", int(l))
	}
}

// perCPU holds one cpu's current IRQL plus the work deferred while it was
// raised. cpu 0 is the bootstrap processor; cpu 1 is the single optional
// secondary spec.md allows.
type perCPU struct {
	cur      Level
	deferred []deferredWork
	postponeSchedule bool
}

type deferredWork struct {
	level   Level
	handler func(any)
	context any
}

const maxCPU = 2

var cpus [maxCPU]perCPU

// checkCPU panics unless cpu is a valid simulated CPU index. The core has no
// real SMP; callers that model per-CPU state pass their own index
// (0 or 1) explicitly rather than relying on goroutine-local storage,
// which stock Go has no supported way to emulate.
func checkCPU(cpu int) {
	if cpu < 0 || cpu >= maxCPU {
		panic("irql: bad cpu index")
	}
}

// Get returns cpu's current IRQL.
func Get(cpu int) Level {
	checkCPU(cpu)
	return cpus[cpu].cur
}

// Raise raises cpu's IRQL to level, which must be >= the current level,
// and returns the prior level so the caller can restore it with Lower.
// Raising to a lower level is a programming error and panics, matching
// the C original's MAX_IRQL assertion; raising to the current level is
// allowed.
func Raise(cpu int, level Level) Level {
	checkCPU(cpu)
	c := &cpus[cpu]
	if level < c.cur {
		panic(fmt.Sprintf("irql: raise %v below current %v", level, c.cur))
	}
	prior := c.cur
	c.cur = level
	return prior
}

// Lower lowers cpu's IRQL to level, which must be <= the current level.
// Lowering runs any deferred work whose level has now been reached, and —
// if the IRQL reaches Standard and a scheduler switch was postponed while
// it was raised — returns true. Lower does not perform the switch itself,
// and no caller in this core acts on the true return (spinlock.Release
// discards it).
func Lower(cpu int, level Level) (switchNow bool) {
	checkCPU(cpu)
	c := &cpus[cpu]
	if level > c.cur {
		panic(fmt.Sprintf("irql: lower %v above current %v", level, c.cur))
	}
	c.cur = level
	runDeferred(cpu)
	if level == Standard && c.postponeSchedule {
		c.postponeSchedule = false
		return true
	}
	return false
}

func runDeferred(cpu int) {
	c := &cpus[cpu]
	for {
		ran := false
		for i := 0; i < len(c.deferred); i++ {
			dw := c.deferred[i]
			if dw.level >= c.cur {
				c.deferred = append(c.deferred[:i], c.deferred[i+1:]...)
				dw.handler(dw.context)
				ran = true
				break
			}
		}
		if !ran {
			return
		}
	}
}

// DeferUntil runs handler(context) at level: immediately if cpu is
// already exactly at level, queued to run the next time cpu's IRQL
// falls to level if it's currently above it. level must not be above
// cpu's current IRQL — there is no way to wait for an IRQL raise, only
// a lower, so that is a programming error and panics.
func DeferUntil(cpu int, level Level, handler func(any), context any) {
	checkCPU(cpu)
	c := &cpus[cpu]
	switch {
	case level == c.cur:
		handler(context)
	case level > c.cur:
		panic(fmt.Sprintf("irql: deferUntil %v above current %v", level, c.cur))
	default:
		c.deferred = append(c.deferred, deferredWork{level, handler, context})
	}
}

// NumberDeferred reports how many handlers are waiting on cpu, used by the
// timer package to rate-limit how aggressively it posts deferred wakeups.
func NumberDeferred(cpu int) int {
	checkCPU(cpu)
	return len(cpus[cpu].deferred)
}

// PostponeSchedule marks that a scheduler switch was requested while cpu
// was above Standard; it fires the next time Lower reaches Standard.
func PostponeSchedule(cpu int) {
	checkCPU(cpu)
	cpus[cpu].postponeSchedule = true
}

// AssertMax, AssertMin and AssertExact panic unless cpu's IRQL satisfies
// the given bound; used at the
// top of IRQL-sensitive functions the way the C original's MAX_IRQL/
// MIN_IRQL/EXACT_IRQL macros do.
func AssertMax(cpu int, level Level) {
	if Get(cpu) > level {
		panic(fmt.Sprintf("irql: expected at most %v, have %v", level, Get(cpu)))
	}
}

func AssertMin(cpu int, level Level) {
	if Get(cpu) < level {
		panic(fmt.Sprintf("irql: expected at least %v, have %v", level, Get(cpu)))
	}
}

func AssertExact(cpu int, level Level) {
	if Get(cpu) != level {
		panic(fmt.Sprintf("irql: expected exactly %v, have %v", level, Get(cpu)))
	}
}

// ResetForTests restores cpu 0/1 to Standard with no deferred work. Only
// exported for use by other packages' tests that need a clean IRQL between
// cases; real kernel code never calls this.
func ResetForTests() {
	for i := range cpus {
		cpus[i] = perCPU{}
	}
}
