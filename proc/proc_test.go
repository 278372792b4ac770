package proc

import (
	"testing"
	"time"

	"merlon/defs"
	"merlon/fd"
	"merlon/heap"
	"merlon/irql"
	"merlon/mem"
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

func mkTable(s *sched.Scheduler, c *timer.Clock) *Table {
	phys := mem.New(256)
	q := heap.NewQuota(1 << 20)
	return NewTable(phys, q, s, c)
}

func TestCreateProcessAndFork(t *testing.T) {
	sch, clk := boot(0)
	tbl := mkTable(sch, clk)

	boot1 := tbl.CreateProcess(0, 0)
	if boot1.Pid != 1 {
		t.Fatalf("expected first process to get pid 1, got %d", boot1.Pid)
	}

	child, err := tbl.ForkProcess(0, boot1)
	if err != 0 {
		t.Fatalf("fork failed: %v", err)
	}
	if child.Pid == boot1.Pid {
		t.Fatal("expected fork to assign a distinct pid")
	}
	if child.Parent != boot1.Pid {
		t.Fatalf("expected child's parent to be %d, got %d", boot1.Pid, child.Parent)
	}
	if !boot1.children[child.Pid] {
		t.Fatal("expected parent to track the new child")
	}
}

func TestForkSharesPagesCOW(t *testing.T) {
	sch, clk := boot(0)
	tbl := mkTable(sch, clk)
	p := tbl.CreateProcess(0, 0)

	const va = 1 << 20
	p.Vm.Vmadd_anon(va, mem.PGSIZE, mem.PTE_U|mem.PTE_W)
	if err := p.Vm.Pgfault(0, va, mem.PTE_W); err != 0 {
		t.Fatalf("unexpected fault error: %v", err)
	}

	child, err := tbl.ForkProcess(0, p)
	if err != 0 {
		t.Fatalf("fork failed: %v", err)
	}

	b1, err := p.Vm.Userdmap8r(va)
	if err != 0 {
		t.Fatalf("parent read failed: %v", err)
	}
	b2, err := child.Vm.Userdmap8r(va)
	if err != 0 {
		t.Fatalf("child read failed: %v", err)
	}
	if len(b1) == 0 || len(b2) == 0 {
		t.Fatal("expected non-empty page slices")
	}
}

func TestWaitProcessNoChildrenReturnsECHILD(t *testing.T) {
	sch, clk := boot(0)
	tbl := mkTable(sch, clk)
	p := tbl.CreateProcess(0, 0)

	done := make(chan defs.Err_t, 1)
	waiter := thread.New(7, 3, true, func(th *thread.Thread) {
		_, _, err := tbl.WaitProcess(0, p.Pid, -1, 0)
		done <- err
	})
	spawnReady(sch, 0, waiter)

	select {
	case err := <-done:
		if err != defs.ECHILD {
			t.Fatalf("expected ECHILD, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waitprocess never returned")
	}
}

func TestWaitProcessBlocksUntilExit(t *testing.T) {
	sch, clk := boot(0)
	tbl := mkTable(sch, clk)
	parent := tbl.CreateProcess(0, 0)
	child, err := tbl.ForkProcess(0, parent)
	if err != 0 {
		t.Fatalf("fork failed: %v", err)
	}

	result := make(chan defs.Pid_t, 1)
	waiter := thread.New(10, 3, true, func(th *thread.Thread) {
		pid, status, err := tbl.WaitProcess(0, parent.Pid, -1, 0)
		if err != 0 {
			t.Errorf("wait failed: %v", err)
		}
		if status != defs.MkExitStatus(5) {
			t.Errorf("unexpected status %d", status)
		}
		result <- pid
	})
	spawnReady(sch, 0, waiter)

	exiter := thread.New(11, 3, true, func(th *thread.Thread) {
		tbl.Exit(0, child.Pid, defs.MkExitStatus(5))
	})
	spawnReady(sch, 0, exiter)

	select {
	case pid := <-result:
		if pid != child.Pid {
			t.Fatalf("expected reaped pid %d, got %d", child.Pid, pid)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}

	if _, _, err := tbl.WaitProcess(0, parent.Pid, -1, defs.WNOHANG); err != defs.ECHILD {
		t.Fatalf("expected ECHILD after reaping only child, got %v", err)
	}
}

func TestSignalKillDoomsThreads(t *testing.T) {
	sch, clk := boot(0)
	tbl := mkTable(sch, clk)
	p := tbl.CreateProcess(0, 0)
	thr := thread.New(20, 3, true, func(th *thread.Thread) {})
	p.AddThreadToProcess(thr)

	if err := tbl.Signal(0, p, 2, 0, defs.SIGKILL, p.Pid); err != 0 {
		t.Fatalf("signal failed: %v", err)
	}
	if !thr.Killed || !thr.Doomed {
		t.Fatal("expected SIGKILL to mark the thread killed and doomed")
	}
}

func TestExitTerminatesProcessThreads(t *testing.T) {
	sch, clk := boot(0)
	tbl := mkTable(sch, clk)
	p := tbl.CreateProcess(0, 0)

	sibling := thread.New(21, 3, true, func(th *thread.Thread) {})
	p.AddThreadToProcess(sibling)

	freed := make(chan defs.Tid_t, 1)
	go sch.RunCleaner(0, func(th *thread.Thread) { freed <- th.Tid })

	done := make(chan struct{})
	exiter := thread.New(22, 3, true, func(th *thread.Thread) {
		tbl.Exit(0, p.Pid, defs.MkExitStatus(0))
		close(done)
	})
	spawnReady(sch, 0, exiter)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exit never returned")
	}

	select {
	case tid := <-freed:
		if tid != sibling.Tid {
			t.Fatalf("expected sibling thread %d reaped, got %d", sibling.Tid, tid)
		}
	case <-time.After(time.Second):
		t.Fatal("sibling thread was never terminated and reaped")
	}

	if sibling.State != thread.StateTerminated {
		t.Fatalf("expected sibling thread terminated, got state %v", sibling.State)
	}
}

func TestExecResetsAddressSpaceButKeepsFds(t *testing.T) {
	sch, clk := boot(0)
	tbl := mkTable(sch, clk)
	p := tbl.CreateProcess(0, 0)

	const va = 1 << 20
	p.Vm.Vmadd_anon(va, mem.PGSIZE, mem.PTE_U|mem.PTE_W)
	if err := p.Vm.Pgfault(0, va, mem.PTE_W); err != 0 {
		t.Fatalf("unexpected fault error: %v", err)
	}
	if _, ok := p.Vm.Vmregion.Lookup(va); !ok {
		t.Fatal("expected region present before exec")
	}

	no := p.AddFd(&fd.Fd_t{Fops: nil, Perms: 0})

	if err := p.Exec(); err != 0 {
		t.Fatalf("exec failed: %v", err)
	}
	if _, ok := p.Vm.Vmregion.Lookup(va); ok {
		t.Fatal("expected exec to wipe every mapping")
	}
	if _, err := p.GetFd(no); err != 0 {
		t.Fatal("expected a non-cloexec fd to survive exec")
	}
}
