package sema

import (
	"testing"
	"time"

	"merlon/irql"
	"merlon/sched"
	"merlon/thread"
	"merlon/timer"
)

func boot(cpu int) (*sched.Scheduler, *timer.Clock) {
	irql.ResetForTests()
	s := sched.New()
	idle := thread.New(0, sched.NumPriorities-1, false, func(th *thread.Thread) {
		for {
			s.Schedule(cpu)
		}
	})
	s.SetIdle(cpu, idle)
	s.Spawn(cpu, idle, true)
	return s, timer.New(s)
}

func spawnReady(s *sched.Scheduler, cpu int, t *thread.Thread) {
	s.Spawn(cpu, t, false)
	s.LockScheduler(cpu)
	s.AddReadyLockHeld(t)
	s.UnlockScheduler(cpu)
}

func TestMutexExclusion(t *testing.T) {
	s, c := boot(0)
	mtx := NewMutex("test", s, c)

	order := make(chan int, 2)
	th1 := thread.New(1, 3, true, func(th *thread.Thread) {
		mtx.Acquire(0, TimeoutInfinite)
		order <- 1
		mtx.Release(0)
	})
	th2 := thread.New(2, 3, true, func(th *thread.Thread) {
		mtx.Acquire(0, TimeoutInfinite)
		order <- 2
		mtx.Release(0)
	})

	spawnReady(s, 0, th1)
	spawnReady(s, 0, th2)

	got := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-order:
			got[v] = true
		case <-time.After(time.Second):
			t.Fatal("threads never acquired the mutex")
		}
	}
	if !got[1] || !got[2] {
		t.Fatalf("expected both threads to run, got %v", got)
	}
}

func TestMailboxAddGet(t *testing.T) {
	s, c := boot(0)
	m := NewMailbox(s, c, 4)

	result := make(chan byte, 1)
	producer := thread.New(1, 3, true, func(th *thread.Thread) {
		m.Add(0, TimeoutInfinite, 'x')
	})
	consumer := thread.New(2, 3, true, func(th *thread.Thread) {
		b, err := m.Get(0, TimeoutInfinite)
		if err == 0 {
			result <- b
		}
	})

	spawnReady(s, 0, producer)
	spawnReady(s, 0, consumer)

	select {
	case b := <-result:
		if b != 'x' {
			t.Fatalf("expected 'x', got %q", b)
		}
	case <-time.After(time.Second):
		t.Fatal("mailbox never delivered")
	}
}

func TestMsgboxSendReceive(t *testing.T) {
	s, c := boot(0)
	mb := NewMsgbox("test", s, c, 4)

	received := make(chan []byte, 1)
	sender := thread.New(1, 3, true, func(th *thread.Thread) {
		mb.Send(0, []byte("abcd"))
	})
	receiver := thread.New(2, 3, true, func(th *thread.Thread) {
		buf := make([]byte, 4)
		mb.Receive(0, buf)
		received <- buf
	})

	spawnReady(s, 0, sender)
	spawnReady(s, 0, receiver)

	select {
	case buf := <-received:
		if string(buf) != "abcd" {
			t.Fatalf("expected abcd, got %q", buf)
		}
	case <-time.After(time.Second):
		t.Fatal("msgbox never delivered")
	}
}
