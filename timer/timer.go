// Package timer is the system clock and sleep queue: a monotonic
// nanosecond counter advanced by Tick (driven by hal's timer vector), a
// list of threads sleeping until a deadline, and one-shot alarms.
// Grounded on original_source/kernel/thread/timer.c (ReceivedTimer,
// HandleSleepWakeups, SleepUntil/SleepNano/SleepMilli) and
// kernel/irq/timer.c's alarm bookkeeping.
package timer

import (
	"sync"

	"merlon/irql"
	"merlon/sched"
	"merlon/spinlock"
	"merlon/thread"
)

// Clock is the per-system timer state. Real deployments have exactly one,
// owned by whatever wires up the boot sequence.
type Clock struct {
	lock       *spinlock.Spinlock
	systemTime int64 // nanoseconds, atomic-friendly but protected by lock for consistency with the C original

	sleepList *thread.List
	s         *sched.Scheduler

	alarmMu sync.Mutex
	alarms  map[int]*alarm
	nextID  int
}

type alarm struct {
	deadline int64
	callback func(arg any)
	arg      any
	cancel   bool
}

func New(s *sched.Scheduler) *Clock {
	return &Clock{
		lock:      spinlock.New("timer", irql.Timer),
		sleepList: thread.NewList(thread.ListSleep),
		s:         s,
		alarms:    make(map[int]*alarm),
	}
}

// Now returns the current system time in nanoseconds.
func (c *Clock) Now() int64 {
	cpu := 0
	prior := c.lock.Acquire(cpu)
	v := c.systemTime
	c.lock.Release(cpu, prior)
	return v
}

// Tick is called at IRQL Timer (matching ReceivedTimer) with the elapsed
// nanoseconds since the last tick. cpu 0 is the timekeeper, matching the
// original's ArchGetCurrentCpuIndex() == 0 check — only one CPU's timer
// interrupt actually advances the wall clock, the rest just check for
// local timeslice expiry.
func (c *Clock) Tick(cpu int, elapsedNanos int64) {
	irql.AssertExact(cpu, irql.Timer)

	if cpu == 0 {
		prior := c.lock.Acquire(cpu)
		c.systemTime += elapsedNanos
		c.lock.Release(cpu, prior)
	}

	if cur := c.s.Current(cpu); cur != nil && cur.Timesliced {
		cur.TimesliceExpired = true
		irql.PostponeSchedule(cpu)
	}

	if irql.NumberDeferred(cpu) < 8 {
		now := c.Now()
		irql.DeferUntil(cpu, irql.Standard, func(ctx any) { c.handleWakeups(cpu, ctx.(int64)) }, now)
	}
}

// handleWakeups runs at IRQL Standard (deferred out of Tick): it walks the
// sleep list waking anything whose deadline has passed, and fires expired
// alarms.
func (c *Clock) handleWakeups(cpu int, now int64) {
	irql.AssertExact(cpu, irql.Standard)

	c.s.LockScheduler(cpu)
	var woken []*thread.Thread
	c.sleepList.Each(func(t *thread.Thread) {
		if t.SleepExpiryNanos <= now {
			woken = append(woken, t)
		}
	})
	for _, t := range woken {
		c.sleepList.Remove(t)
		t.TimedOut = true
		c.s.UnblockLockHeld(t)
	}
	c.s.UnlockScheduler(cpu)

	c.alarmMu.Lock()
	var fire []*alarm
	for id, a := range c.alarms {
		if a.cancel {
			delete(c.alarms, id)
			continue
		}
		if a.deadline <= now {
			fire = append(fire, a)
			delete(c.alarms, id)
		}
	}
	c.alarmMu.Unlock()
	for _, a := range fire {
		a.callback(a.arg)
	}
}

// QueueForSleep threads t onto the sleep list. Caller must hold the
// scheduler lock.
func (c *Clock) QueueForSleep(t *thread.Thread) {
	c.s.AssertSchedulerLockHeld()
	t.TimedOut = false
	c.sleepList.InsertTail(t)
}

// TryDequeueForSleep removes t from the sleep list if present, reporting
// whether it was there. Caller must hold the scheduler lock — used when a
// timed wait is satisfied some other way (e.g. semaphore release) before
// its deadline.
func (c *Clock) TryDequeueForSleep(t *thread.Thread) bool {
	c.s.AssertSchedulerLockHeld()
	if !c.sleepList.Contains(t) {
		return false
	}
	c.sleepList.Remove(t)
	return true
}

// SleepUntil blocks the calling thread until systemTimeNs, or returns
// immediately if that time has already passed. Must be called at IRQL
// Standard on cpu's own thread.
func (c *Clock) SleepUntil(cpu int, systemTimeNs int64) {
	irql.AssertExact(cpu, irql.Standard)
	if systemTimeNs < c.Now() {
		return
	}
	c.s.LockScheduler(cpu)
	cur := c.s.Current(cpu)
	cur.SleepExpiryNanos = systemTimeNs
	c.QueueForSleep(cur)
	c.s.BlockLockHeld(cpu, thread.StateSleeping)
}

func (c *Clock) SleepNano(cpu int, deltaNs int64) { c.SleepUntil(cpu, c.Now()+deltaNs) }

func (c *Clock) SleepMilli(cpu int, deltaMs int64) { c.SleepNano(cpu, deltaMs*1000*1000) }

// CreateAlarmAbsolute schedules callback(arg) to run (from timer-deferred
// context, not the caller's goroutine) once the clock reaches
// systemTimeNs, returning an id usable with DestroyAlarm.
func (c *Clock) CreateAlarmAbsolute(systemTimeNs int64, callback func(arg any), arg any) int {
	c.alarmMu.Lock()
	defer c.alarmMu.Unlock()
	c.nextID++
	id := c.nextID
	c.alarms[id] = &alarm{deadline: systemTimeNs, callback: callback, arg: arg}
	return id
}

func (c *Clock) CreateAlarmMicro(deltaUs int64, callback func(arg any), arg any) int {
	return c.CreateAlarmAbsolute(c.Now()+deltaUs*1000, callback, arg)
}

// DestroyAlarm cancels a pending alarm; a no-op if it already fired.
func (c *Clock) DestroyAlarm(id int) {
	c.alarmMu.Lock()
	defer c.alarmMu.Unlock()
	if a, ok := c.alarms[id]; ok {
		a.cancel = true
	}
}
