// Package sema implements counting semaphores, the Mailbox ring buffer
// built on top of them, and the typed message box queue. Grounded on
// original_source/kernel/sync/semaphore.c (Acquire/Release/timeout
// semantics), kernel/include/mailbox.h, and kernel/adt/msgbox.c.
package sema

import (
	"merlon/defs"
	"merlon/fdops"
	"merlon/irql"
	"merlon/sched"
	"merlon/spinlock"
	"merlon/thread"
	"merlon/timer"
)

// Semaphore is a counting semaphore. Acquire/Release must run at IRQL
// Standard on the calling thread's own goroutine. Its waiting list and
// count are protected by the scheduler's own lock (sem.s.LockScheduler),
// not a private spinlock: BlockLockHeld/UnblockLockHeld both require the
// scheduler lock specifically held, since releasing it is how a blocking
// Acquire hands the CPU to the next thread mid-call (see
// sched.ScheduleWithLockHeld) — a separate per-semaphore lock would never
// satisfy that.
type Semaphore struct {
	name    string
	max     int
	count   int
	waiting *thread.List

	s *sched.Scheduler
	c *timer.Clock
}

func New(name string, s *sched.Scheduler, c *timer.Clock, max int) *Semaphore {
	return &Semaphore{
		name:    name,
		max:     max,
		waiting: thread.NewList(thread.ListWait),
		s:       s,
		c:       c,
	}
}

// NewMutex is a semaphore with max count 1, matching CreateMutex's macro
// expansion to CreateSemaphore(name, 1, 0) in the original.
func NewMutex(name string, s *sched.Scheduler, c *timer.Clock) *Semaphore {
	return New(name, s, c, 1)
}

// NewFull creates a semaphore with no units available: count starts at
// max, so the first Acquire blocks until a Release frees one (or hands
// one off directly to a waiter). Use for a "wait for an event" semaphore
// rather than New's "N units freely available" default — the same
// priming NewMailbox does for its own fullSem, pulled out since proc's
// wait/exit notification needs the identical starting state.
func NewFull(name string, s *sched.Scheduler, c *timer.Clock, max int) *Semaphore {
	sem := New(name, s, c, max)
	sem.count = sem.max
	return sem
}

// Acquire timeouts: -1 blocks indefinitely, 0 never blocks (tries once),
// N>0 blocks up to N milliseconds.
const (
	TimeoutInfinite = -1
	TimeoutTry      = 0
)

// Acquire takes one count, blocking per timeoutMs as described above. It
// returns ETIMEDOUT if a positive timeout expired, EAGAIN if a zero
// timeout found nothing available, or 0 on success.
func (sem *Semaphore) Acquire(cpu int, timeoutMs int) defs.Err_t {
	sem.s.LockScheduler(cpu)

	thr := sem.s.Current(cpu)
	thr.TimedOut = false

	if sem.count < sem.max {
		sem.count++
		sem.s.UnlockScheduler(cpu)
		return 0
	}

	switch {
	case timeoutMs == TimeoutTry:
		thr.TimedOut = true
		sem.s.UnlockScheduler(cpu)
	case timeoutMs == TimeoutInfinite:
		sem.waiting.InsertTail(thr)
		sem.s.BlockLockHeld(cpu, thread.StateWaiting) // releases the scheduler lock as part of the switch
	default:
		sem.waiting.InsertTail(thr)
		thr.SleepExpiryNanos = sem.c.Now() + int64(timeoutMs)*1000*1000
		sem.c.QueueForSleep(thr)
		sem.s.BlockLockHeld(cpu, thread.StateWaitingTimeout)
	}

	if thr.TimedOut {
		if timeoutMs == TimeoutTry {
			return defs.EAGAIN
		}
		return defs.ETIMEDOUT
	}
	return 0
}

// Release wakes the longest-waiting thread if any, else gives back one
// count.
func (sem *Semaphore) Release(cpu int) {
	sem.s.LockScheduler(cpu)
	defer sem.s.UnlockScheduler(cpu)

	top := sem.waiting.RemoveHead()
	if top == nil {
		sem.count--
		return
	}
	if top.State == thread.StateWaitingTimeout && !top.TimedOut {
		sem.c.TryDequeueForSleep(top)
	}
	sem.s.UnblockLockHeld(top)
}

// Count reports the current count, racily — intended for diagnostics only.
func (sem *Semaphore) Count(cpu int) int {
	sem.s.LockScheduler(cpu)
	defer sem.s.UnlockScheduler(cpu)
	return sem.count
}

// Destroy panics if the semaphore is still held by anyone, matching the
// original's PANIC_SEMAPHORE_DESTROY_WHILE_HELD.
func (sem *Semaphore) Destroy(cpu int) {
	sem.s.LockScheduler(cpu)
	defer sem.s.UnlockScheduler(cpu)
	if sem.count != 0 {
		panic("sema: destroy of semaphore still held: " + sem.name)
	}
}

// Mailbox is a byte ring buffer gated by full/empty semaphores and two
// mutexes serializing concurrent producers/consumers, matching
// kernel/include/mailbox.h's field layout.
type Mailbox struct {
	data              []byte
	used, start, end  int
	fullSem, emptySem *Semaphore
	addMtx, getMtx    *Semaphore
}

func NewMailbox(s *sched.Scheduler, c *timer.Clock, size int) *Mailbox {
	m := &Mailbox{
		data:     make([]byte, size),
		fullSem:  NewFull("mbox-full", s, c, size),
		emptySem: New("mbox-empty", s, c, size),
		addMtx:   NewMutex("mbox-add", s, c),
		getMtx:   NewMutex("mbox-get", s, c),
	}
	return m
}

// Add blocks (per timeoutMs, same semantics as Semaphore.Acquire) until a
// slot is free, then appends c.
func (m *Mailbox) Add(cpu int, timeoutMs int, c byte) defs.Err_t {
	if err := m.emptySem.Acquire(cpu, timeoutMs); err != 0 {
		return err
	}
	m.addMtx.Acquire(cpu, TimeoutInfinite)
	m.data[m.end] = c
	m.end = (m.end + 1) % len(m.data)
	m.used++
	m.addMtx.Release(cpu)
	m.fullSem.Release(cpu)
	return 0
}

// Get waits up to timeoutMs for a byte to be available, then removes and
// returns it; if the wait fails it returns fullSem.Acquire's error.
func (m *Mailbox) Get(cpu int, timeoutMs int) (byte, defs.Err_t) {
	if err := m.fullSem.Acquire(cpu, timeoutMs); err != 0 {
		return 0, err
	}
	m.getMtx.Acquire(cpu, TimeoutInfinite)
	c := m.data[m.start]
	m.start = (m.start + 1) % len(m.data)
	m.used--
	m.getMtx.Release(cpu)
	m.emptySem.Release(cpu)
	return c, 0
}

// Write drains all of tr into the mailbox a byte at a time, blocking
// whenever the mailbox is full, matching MailboxWrite's transfer-based
// bulk path.
func (m *Mailbox) Write(cpu int, tr fdops.Userio_i) defs.Err_t {
	for tr.Remain() > 0 {
		var b [1]byte
		if _, err := tr.Uioread(b[:]); err != 0 {
			return err
		}
		if err := m.Add(cpu, TimeoutInfinite, b[0]); err != 0 {
			return err
		}
	}
	return 0
}

// Read fills tr from the mailbox until it's satisfied or the mailbox is
// empty, matching MailboxRead.
func (m *Mailbox) Read(cpu int, tr fdops.Userio_i) defs.Err_t {
	for tr.Remain() > 0 {
		c, err := m.Get(cpu, TimeoutTry)
		if err != 0 {
			break
		}
		if _, werr := tr.Uiowrite([]byte{c}); werr != 0 {
			return werr
		}
	}
	return 0
}

// Msgbox is a queue of fixed-size payloads, copied in on Send and out on
// Receive so a message can safely cross address-space boundaries, matching
// adt/msgbox.c.
type Msgbox struct {
	name        string
	payloadSize int
	data        [][]byte
	lock        *spinlock.Spinlock
	sem         *Semaphore

	s *sched.Scheduler
}

// sembigNumber mirrors SEM_BIG_NUMBER: a msgbox's semaphore count has no
// natural upper bound, so it's created with effectively unlimited capacity
// and used purely as a "how many messages are queued" counter.
const sembigNumber = 1 << 30

func NewMsgbox(name string, s *sched.Scheduler, c *timer.Clock, payloadSize int) *Msgbox {
	return &Msgbox{
		name:        name,
		payloadSize: payloadSize,
		lock:        spinlock.New(name+"-lock", irql.Scheduler),
		sem:         New(name+"-sem", s, c, sembigNumber),
		s:           s,
	}
}

// Send copies payload into the box and wakes one waiting receiver.
func (mb *Msgbox) Send(cpu int, payload []byte) defs.Err_t {
	if len(payload) != mb.payloadSize {
		return defs.EINVAL
	}
	cp := make([]byte, mb.payloadSize)
	copy(cp, payload)

	prior := mb.lock.Acquire(cpu)
	mb.data = append(mb.data, cp)
	mb.lock.Release(cpu, prior)

	mb.sem.Release(cpu)
	return 0
}

// Receive blocks until a message is available, then copies it into
// payload, which must be payloadSize bytes.
func (mb *Msgbox) Receive(cpu int, payload []byte) defs.Err_t {
	if err := mb.sem.Acquire(cpu, TimeoutInfinite); err != 0 {
		return err
	}
	prior := mb.lock.Acquire(cpu)
	msg := mb.data[0]
	mb.data = mb.data[1:]
	mb.lock.Release(cpu, prior)

	copy(payload, msg)
	return 0
}
