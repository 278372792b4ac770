// Package sched is the preemptive scheduler (component F): one global
// scheduler lock, a priority-banded ready queue, and the per-CPU current
// thread. Grounded on original_source/kernel/irq/schedule.c, whose
// static scheduler_lock + scheduler_lock_irql globals are reproduced here
// as Scheduler.lock + Scheduler.priorIrql (a fixed-size per-CPU array,
// since this core never runs more than the bootstrap CPU plus one
// optional secondary).
//
// The goroutine-per-thread/channel-baton concurrency mechanism used by
// ScheduleWithLockHeld resolves the open question of who releases the
// scheduler lock on the resumed side of a switch (spec.md §9): the
// switching-out side releases it itself, after signalling the incoming
// thread and before parking, so nothing needs to re-acquire on wakeup.
package sched

import (
	"runtime"

	"merlon/irql"
	"merlon/klog"
	"merlon/spinlock"
	"merlon/thread"
)

const MaxCPU = 2

// NumPriorities is the number of fixed-priority bands; band 0 is highest.
// Threads within a band run round-robin, timesliced by timer.Tick.
const NumPriorities = 8

type Scheduler struct {
	lock      *spinlock.Spinlock
	priorIrql [MaxCPU]irql.Level

	ready [NumPriorities]*thread.List
	idle  [MaxCPU]*thread.Thread

	current [MaxCPU]*thread.Thread

	// terminated/cleanerWake implement the cleaner-thread handoff from
	// original_source/kernel/thread/cleaner.c: a thread cannot free its
	// own stack while still running on it, so it links itself onto
	// terminated and wakes the cleaner instead of freeing anything
	// itself.
	terminated  *thread.List
	cleanerWake chan struct{}
}

func New() *Scheduler {
	s := &Scheduler{
		lock:        spinlock.New("scheduler", irql.Scheduler),
		terminated:  thread.NewList(thread.ListTerminated),
		cleanerWake: make(chan struct{}, 1),
	}
	for i := range s.ready {
		s.ready[i] = thread.NewList(thread.ListReady)
	}
	return s
}

// SetIdle registers cpu's idle thread: the thread picked when no real
// work is ready. The idle thread must never block.
func (s *Scheduler) SetIdle(cpu int, t *thread.Thread) {
	s.idle[cpu] = t
	s.current[cpu] = t
	t.State = thread.StateRunning
}

func (s *Scheduler) readyFor(t *thread.Thread) *thread.List {
	p := t.Priority
	if p < 0 {
		p = 0
	}
	if p >= NumPriorities {
		p = NumPriorities - 1
	}
	return s.ready[p]
}

// LockScheduler acquires the scheduler lock, raising the caller to IRQL
// Scheduler and remembering the prior IRQL the way the C original's
// static scheduler_lock_irql does.
func (s *Scheduler) LockScheduler(cpu int) {
	s.priorIrql[cpu] = s.lock.Acquire(cpu)
}

// UnlockScheduler releases the scheduler lock and restores the IRQL
// LockScheduler saved.
func (s *Scheduler) UnlockScheduler(cpu int) {
	s.lock.Release(cpu, s.priorIrql[cpu])
}

func (s *Scheduler) AssertSchedulerLockHeld() {
	s.lock.AssertHeld()
}

// AddReadyLockHeld puts t on its priority band's ready queue. Caller must hold
// the scheduler lock.
func (s *Scheduler) AddReadyLockHeld(t *thread.Thread) {
	s.lock.AssertHeld()
	t.State = thread.StateReady
	s.readyFor(t).InsertTail(t)
}

// Unblock makes a waiting/sleeping thread ready again; it acquires the
// scheduler lock itself; use UnblockLockHeld if the caller already holds
// it (e.g. from inside a semaphore release that's already under the
// scheduler lock).
func (s *Scheduler) Unblock(cpu int, t *thread.Thread) {
	s.LockScheduler(cpu)
	s.AddReadyLockHeld(t)
	s.UnlockScheduler(cpu)
}

func (s *Scheduler) UnblockLockHeld(t *thread.Thread) {
	s.AddReadyLockHeld(t)
}

func (s *Scheduler) pickNext(cpu int) *thread.Thread {
	for _, band := range s.ready {
		if t := band.RemoveHead(); t != nil {
			return t
		}
	}
	return s.idle[cpu]
}

// Current returns cpu's running thread.
func (s *Scheduler) Current(cpu int) *thread.Thread { return s.current[cpu] }

// Schedule requests a switch. If the caller isn't at IRQL Standard, the
// switch is postponed until the next time the caller lowers to Standard
// (irql.Lower reports this via its bool return), matching spec.md 4.D.
// No caller in this core acts on that return value, so the postponed
// switch is recorded but not performed when the IRQL drops to Standard.
func (s *Scheduler) Schedule(cpu int) {
	if irql.Get(cpu) != irql.Standard {
		irql.PostponeSchedule(cpu)
		return
	}
	s.LockScheduler(cpu)
	s.ScheduleWithLockHeld(cpu)
}

// ScheduleWithLockHeld picks the next thread to run and performs the
// handoff. Caller must hold the scheduler lock and be at IRQL Scheduler
// exactly. It returns once this goroutine has been resumed again (or
// immediately, if no switch was needed) — except when the outgoing
// thread is terminated, in which case it returns right after the handoff
// without waiting on Resume: the caller's goroutine ends right after
// calling this.
func (s *Scheduler) ScheduleWithLockHeld(cpu int) {
	irql.AssertExact(cpu, irql.Scheduler)
	s.lock.AssertHeld()

	outgoing := s.current[cpu]
	if outgoing != nil && outgoing != s.idle[cpu] && outgoing.State == thread.StateRunning {
		outgoing.TimesliceExpired = false
		s.AddReadyLockHeld(outgoing)
	}

	next := s.pickNext(cpu)
	if next == outgoing {
		s.UnlockScheduler(cpu)
		return
	}

	s.current[cpu] = next
	next.State = thread.StateRunning
	next.Resume <- struct{}{}
	s.UnlockScheduler(cpu)

	if outgoing == nil || outgoing.State == thread.StateTerminated {
		return
	}
	<-outgoing.Resume
}

// BlockLockHeld parks the current thread on cpu in the given non-running
// state (waiting on a semaphore, a sleep queue, a mailbox...) and switches
// away. Caller must hold the scheduler lock and have already threaded the
// thread onto whatever wait list it belongs on. It returns once something
// has unblocked this thread again (UnblockLockHeld/Unblock re-adds it to a
// ready band, which is what eventually resumes this call).
func (s *Scheduler) BlockLockHeld(cpu int, state thread.State) {
	s.current[cpu].State = state
	s.ScheduleWithLockHeld(cpu)
}

// Spawn starts t's dedicated goroutine. It parks immediately waiting for
// its first handoff on Resume, unless startImmediately is set (used for
// the very first thread on a CPU, which has nothing to wait to be
// switched in from).
func (s *Scheduler) Spawn(cpu int, t *thread.Thread, startImmediately bool) {
	if startImmediately {
		t.Resume <- struct{}{}
	}
	go func() {
		<-t.Resume
		t.RunEntry()
		s.selfTerminate(cpu, t)
	}()
}

// selfTerminate runs when a thread's entry function returns: it links
// itself onto the terminated list, wakes the cleaner, and switches away
// for the last time. It returns without being resumed, and the
// trampoline's goroutine then ends.
func (s *Scheduler) selfTerminate(cpu int, t *thread.Thread) {
	s.terminateLockedHeld(cpu, t)
}

// terminateLockedHeld links t onto the terminated list, wakes the
// cleaner, and switches away. Shared by selfTerminate (RunEntry returned
// normally) and TerminateCurrentThread (a thread killed itself
// mid-execution via syscall); the caller decides whether it's safe to
// return afterward.
func (s *Scheduler) terminateLockedHeld(cpu int, t *thread.Thread) {
	s.LockScheduler(cpu)
	t.State = thread.StateTerminated
	s.terminated.InsertTail(t)
	select {
	case s.cleanerWake <- struct{}{}:
	default:
	}
	s.ScheduleWithLockHeld(cpu)
}

// TerminateCurrentThread ends cpu's current thread immediately, the same
// way selfTerminate ends one whose entry function returned normally,
// except triggered mid-execution (a thread killing itself via syscall)
// rather than by RunEntry returning. It never returns to its caller:
// runtime.Goexit unwinds the calling goroutine's stack (running defers,
// skipping every remaining statement in every frame up to and including
// Spawn's trampoline) so the trampoline's own selfTerminate call never
// runs and this thread is never double-inserted onto the terminated
// list.
func (s *Scheduler) TerminateCurrentThread(cpu int) {
	s.terminateLockedHeld(cpu, s.current[cpu])
	runtime.Goexit()
}

// TerminateOtherThread force-ends t, a thread belonging to an exiting
// process that is not the one currently running on cpu: exit(2) must
// terminate every thread in the process, and most of them have no
// goroutine executing right now to unwind through Goexit the way
// TerminateCurrentThread does. This only removes t from the ready
// queue — a thread parked on a sleep or semaphore wait list elsewhere
// is left linked there, since nothing here can see every such list;
// whatever eventually wakes it will find it already StateTerminated.
func (s *Scheduler) TerminateOtherThread(cpu int, t *thread.Thread) {
	s.LockScheduler(cpu)
	if t.State == thread.StateTerminated {
		s.UnlockScheduler(cpu)
		return
	}
	if s.readyFor(t).Contains(t) {
		s.readyFor(t).Remove(t)
	}
	t.State = thread.StateTerminated
	s.terminated.InsertTail(t)
	select {
	case s.cleanerWake <- struct{}{}:
	default:
	}
	s.UnlockScheduler(cpu)
}

// ReapTerminated pops one terminated thread for the cleaner to finalize,
// or nil if none are waiting.
func (s *Scheduler) ReapTerminated(cpu int) *thread.Thread {
	s.LockScheduler(cpu)
	defer s.UnlockScheduler(cpu)
	return s.terminated.RemoveHead()
}

// CleanerWake is signalled whenever a thread terminates.
func (s *Scheduler) CleanerWake() <-chan struct{} { return s.cleanerWake }

// RunCleaner is the cleaner thread's body: block for a termination
// signal, then drain and finalize every thread currently on the
// terminated list. free typically releases the thread's stack/heap
// state; it runs with no lock held.
func (s *Scheduler) RunCleaner(cpu int, free func(*thread.Thread)) {
	for range s.cleanerWake {
		for {
			t := s.ReapTerminated(cpu)
			if t == nil {
				break
			}
			free(t)
		}
	}
}

// Start makes t cpu's current thread for the very first time (boot,
// or the first thread created before any other runs), without going
// through the ready-queue handoff — there is nothing to switch away
// from yet.
func (s *Scheduler) Start(cpu int, t *thread.Thread) {
	s.current[cpu] = t
	t.State = thread.StateRunning
	klog.Printf("sched: cpu %d starting tid %d", cpu, t.Tid)
}
