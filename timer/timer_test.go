package timer

import (
	"testing"
	"time"

	"merlon/irql"
	"merlon/sched"
	"merlon/thread"
)

func boot(cpu int) (*sched.Scheduler, *Clock) {
	irql.ResetForTests()
	s := sched.New()
	idle := thread.New(0, sched.NumPriorities-1, false, func(th *thread.Thread) {
		for {
			s.Schedule(cpu)
		}
	})
	s.SetIdle(cpu, idle)
	s.Spawn(cpu, idle, true)
	return s, New(s)
}

func TestTickAdvancesClock(t *testing.T) {
	irql.ResetForTests()
	s := sched.New()
	c := New(s)
	irql.Raise(0, irql.Timer)
	c.Tick(0, 5000)
	irql.Lower(0, irql.Standard)
	if c.Now() != 5000 {
		t.Fatalf("expected 5000ns, got %d", c.Now())
	}
}

func TestSleepWakesOnDeadline(t *testing.T) {
	s, c := boot(0)
	woke := make(chan struct{})
	sleeper := thread.New(1, 3, true, func(th *thread.Thread) {
		c.SleepNano(0, 10)
		close(woke)
	})
	s.Spawn(0, sleeper, false)
	s.LockScheduler(0)
	s.AddReadyLockHeld(sleeper)
	s.UnlockScheduler(0)

	// Drive the clock forward past the sleep deadline and process the
	// deferred wakeup, the way hal's timer vector would.
	for i := 0; i < 20; i++ {
		irql.Raise(0, irql.Timer)
		c.Tick(0, 5)
		irql.Lower(0, irql.Standard)
		select {
		case <-woke:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatal("sleeper never woke")
}

func TestAlarmFires(t *testing.T) {
	_, c := boot(0)
	fired := make(chan struct{})
	c.CreateAlarmMicro(1, func(arg any) { close(fired) }, nil)

	for i := 0; i < 20; i++ {
		irql.Raise(0, irql.Timer)
		c.Tick(0, 5000)
		irql.Lower(0, irql.Standard)
		select {
		case <-fired:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatal("alarm never fired")
}
