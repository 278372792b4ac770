// Package thread implements kernel threads: their lifecycle state and the
// intrusive multi-list membership spec.md's data model describes (a
// fixed next[N_QUEUES] array lets one allocation-free node sit on the
// ready list, a wait list, or the sleep list without ever allocating a
// list node). The cleaner that reaps terminated threads is
// sched.Scheduler.RunCleaner, not part of this package. Grounded on original_source/kernel/thread/threadlist.c (the
// indexed variant, not the single-next adt/threadlist.c one) and
// kernel/thread/cleaner.c, in the register of the teacher's tinfo.go and
// accnt.go.
package thread

import (
	"merlon/accnt"
	"merlon/defs"
)

// List kind indices into Thread.next — which intrusive list a thread is
// threaded onto. A thread can be on several of these at once (a timed
// semaphore wait puts it on ListWait and ListSleep), but on any one list
// at most once.
const (
	ListReady = iota
	ListSleep
	ListWait
	ListTerminated
	nQueues
)

type State int

const (
	StateReady State = iota
	StateRunning
	StateWaiting
	StateWaitingTimeout
	StateSleeping
	StateTerminated
)

// Thread is a kernel thread. Each live Thread owns a dedicated goroutine;
// Resume is the baton channel the scheduler signals to hand it the CPU
// (see SPEC_FULL's concurrency-mechanism section — Go has no way to
// literally suspend a goroutine mid-instruction and resume another in its
// place, so each logical "context switch" is this channel handoff).
type Thread struct {
	Tid      defs.Tid_t
	Priority int // lower runs first; spec.md's fixed-priority band
	Timesliced bool
	State    State

	next [nQueues]*Thread
	inList [nQueues]bool

	Resume chan struct{}

	Accnt accnt.Accnt_t

	// SleepExpiryNanos is the wall-clock deadline a sleeping/timed-wait
	// thread should be woken at; TimedOut records whether it woke because
	// the deadline passed rather than being explicitly unblocked.
	SleepExpiryNanos int64
	TimedOut         bool

	// Killed/Doomed mirror the teacher's tinfo.Tnote_t bookkeeping for a
	// thread a signal has asked to die. They are only recorded: nothing
	// in this core reads them, and a thread does not self-terminate
	// because one is set.
	Killed bool
	Doomed bool

	// TimesliceExpired is set by timer.Tick and cleared by the scheduler
	// when it switches this thread out; it never blocks the check, it
	// just marks that this thread's slice ran out.
	TimesliceExpired bool

	needsTermination bool

	fn func(*Thread)
	cpu int
}

// RunEntry invokes the thread's entry point. Called by sched's goroutine
// trampoline exactly once, after the thread has first been scheduled in.
func (t *Thread) RunEntry() {
	t.fn(t)
}

// New creates a thread that will run fn once started. It does not start
// the goroutine or enter any list; callers do that through
// sched.Scheduler.Spawn and AddReadyLockHeld.
func New(tid defs.Tid_t, priority int, timesliced bool, fn func(*Thread)) *Thread {
	return &Thread{
		Tid:        tid,
		Priority:   priority,
		Timesliced: timesliced,
		State:      StateReady,
		Resume:     make(chan struct{}, 1),
		fn:         fn,
	}
}

// List is an intrusive singly-linked list threaded through a particular
// next[kind] slot. It never allocates a node: Insert/Delete just rewire
// existing Thread pointers, matching ThreadListInsert/ThreadListDelete.
type List struct {
	kind int
	head *Thread
	tail *Thread
	n    int
}

func NewList(kind int) *List { return &List{kind: kind} }

func (l *List) Len() int { return l.n }

func (l *List) Contains(t *Thread) bool { return t.inList[l.kind] }

// InsertTail adds t to the back of the list. t must not already be a
// member of this list.
func (l *List) InsertTail(t *Thread) {
	if t.inList[l.kind] {
		panic("thread: already in list")
	}
	t.inList[l.kind] = true
	t.next[l.kind] = nil
	if l.tail == nil {
		l.head = t
		l.tail = t
	} else {
		l.tail.next[l.kind] = t
		l.tail = t
	}
	l.n++
}

// RemoveHead pops and returns the front of the list, or nil if empty.
func (l *List) RemoveHead() *Thread {
	if l.head == nil {
		return nil
	}
	t := l.head
	l.head = t.next[l.kind]
	if l.head == nil {
		l.tail = nil
	}
	t.next[l.kind] = nil
	t.inList[l.kind] = false
	l.n--
	return t
}

// Remove deletes t from the list; it must be a member. O(n) — these
// lists are expected to be short (ready queue per priority band, one
// sleep queue).
func (l *List) Remove(t *Thread) {
	if !t.inList[l.kind] {
		panic("thread: remove of non-member")
	}
	var prev *Thread
	for cur := l.head; cur != nil; cur = cur.next[l.kind] {
		if cur == t {
			if prev == nil {
				l.head = cur.next[l.kind]
			} else {
				prev.next[l.kind] = cur.next[l.kind]
			}
			if cur == l.tail {
				l.tail = prev
			}
			cur.next[l.kind] = nil
			cur.inList[l.kind] = false
			l.n--
			return
		}
		prev = cur
	}
	panic("thread: remove of thread not actually linked")
}

// Each calls f for every thread currently on the list, head to tail.
func (l *List) Each(f func(*Thread)) {
	for cur := l.head; cur != nil; {
		next := cur.next[l.kind]
		f(cur)
		cur = next
	}
}
