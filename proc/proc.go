// Package proc is the process: pid allocation, the fork/exec/wait/exit
// lifecycle, and kill(2)-style signal delivery. Grounded on
// original_source/kernel/include/process.h's five-function surface
// (CreateProcess/ForkProcess/WaitProcess/KillProcess/GetProcessFromPid)
// and kernel/sys/calls/{fork,waitpid,prepexec,signal}.c for the exact
// argument/return shapes those calls need, adapted to this core's
// explicit-parameter style (no hidden "current process" TLS slot —
// every entry point takes the acting Proc_t or cpu number, matching
// tinfo's documented reason for dropping Current/SetCurrent).
package proc

import (
	"sync"

	"merlon/defs"
	"merlon/fd"
	"merlon/heap"
	"merlon/mem"
	"merlon/sched"
	"merlon/sema"
	"merlon/thread"
	"merlon/timer"
	"merlon/tinfo"
	"merlon/ustr"
	"merlon/vm"
)

// Proc_t is a process: its address space, file descriptor table, working
// directory, thread set, and exit/signal state.
type Proc_t struct {
	Pid    defs.Pid_t
	Parent defs.Pid_t

	Vm  *vm.Vm_t
	Cwd *fd.Cwd_t

	mu       sync.Mutex
	fds      map[int]*fd.Fd_t
	nextFdNo int
	children map[defs.Pid_t]bool
	threads  map[defs.Tid_t]*thread.Thread
	Notes    *tinfo.Threadinfo_t

	pgid defs.Pid_t

	exited     bool
	exitStatus int

	sigMu           sync.Mutex
	commonSigHandler int
	blockedSignals  uint
	pendingSignals  uint

	alarmMu  sync.Mutex
	alarmID  int
	hasAlarm bool
}

// Pgid returns p's process group id.
func (p *Proc_t) Pgid() defs.Pid_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pgid
}

// SetPgid changes p's process group id, matching setpgid(2)'s effect in
// pgid.c's SysPgid.
func (p *Proc_t) SetPgid(pgid defs.Pid_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pgid = pgid
}

// HasPendingSignal reports whether sigNum is pending delivery to p,
// matching the bit raiseSignal sets for anything short of SIGKILL.
func (p *Proc_t) HasPendingSignal(sigNum int) bool {
	p.sigMu.Lock()
	defer p.sigMu.Unlock()
	return p.pendingSignals&(1<<uint(sigNum)) != 0
}

// InstallFdAt installs f at exactly fdno, closing whatever was already
// there, matching dup2(2)'s DupFd2 semantics (dup.c's dup_num==2 branch).
func (p *Proc_t) InstallFdAt(fdno int, f *fd.Fd_t) defs.Err_t {
	p.mu.Lock()
	old, ok := p.fds[fdno]
	p.fds[fdno] = f
	if fdno >= p.nextFdNo {
		p.nextFdNo = fdno + 1
	}
	p.mu.Unlock()
	if ok {
		old.Fops.Close()
	}
	return 0
}

// newFdTable seeds a fresh descriptor table; stdin/stdout/stderr are the
// caller's responsibility to install (matching CreateProcess, which
// leaves descriptor 0-2 unpopulated for the boot process and lets fork
// inherit them for everyone else).
func newFdTable() map[int]*fd.Fd_t { return make(map[int]*fd.Fd_t) }

// Table is the system-wide process table: pid allocation and the
// parent/child/zombie bookkeeping original_source's GetProcessFromPid/
// WaitProcess/KillProcess operate on.
type Table struct {
	mu      sync.Mutex
	procs   map[defs.Pid_t]*Proc_t
	nextPid defs.Pid_t

	phys *mem.Physmem_t
	heap *heap.Quota
	s    *sched.Scheduler
	c    *timer.Clock

	// exitNotify is released once per Exit call and acquired in a loop by
	// every blocked waiter, the same "block until signalled, then
	// recheck" pattern sema.Mailbox's fullSem uses for its reader side.
	exitNotify *sema.Semaphore
}

func NewTable(phys *mem.Physmem_t, heapq *heap.Quota, s *sched.Scheduler, c *timer.Clock) *Table {
	return &Table{
		procs:      make(map[defs.Pid_t]*Proc_t),
		nextPid:    1,
		phys:       phys,
		heap:       heapq,
		s:          s,
		c:          c,
		exitNotify: sema.NewFull("proc-exit", s, c, 1<<30),
	}
}

func (t *Table) allocPid() defs.Pid_t {
	p := t.nextPid
	t.nextPid++
	return p
}

// CreateProcess makes a brand new process (no parent address space to
// inherit from) — used once, for the boot process, matching
// CreateProcess(parent_pid) called with parent 0 at InitProcess time.
func (t *Table) CreateProcess(cpu int, parent defs.Pid_t) *Proc_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Proc_t{
		Pid:      t.allocPid(),
		Parent:   parent,
		Vm:       vm.New(t.phys, t.heap, cpu),
		fds:      newFdTable(),
		children: make(map[defs.Pid_t]bool),
		threads:  make(map[defs.Tid_t]*thread.Thread),
		Notes:    tinfo.NewThreadinfo(),
	}
	p.Cwd = fd.MkRootCwd(nil)
	p.pgid = p.Pid
	t.procs[p.Pid] = p
	if parentProc, ok := t.procs[parent]; ok {
		parentProc.children[p.Pid] = true
	}
	return p
}

// ForkProcess clones parent into a new process: a copy-on-write address
// space (vm.Vm_t.Fork), every open fd reopened (Copyfd, matching fork's
// shared-file-description semantics), and the cwd copied by value.
// Grounded on kernel/sys/calls/fork.c's SysFork, which just calls
// ForkProcess and copies the new pid out to userspace.
func (t *Table) ForkProcess(cpu int, parent *Proc_t) (*Proc_t, defs.Err_t) {
	parent.mu.Lock()
	fds := make(map[int]*fd.Fd_t, len(parent.fds))
	for no, f := range parent.fds {
		nf, err := fd.Copyfd(f)
		if err != 0 {
			parent.mu.Unlock()
			return nil, err
		}
		fds[no] = nf
	}
	nextFdNo := parent.nextFdNo
	cwdPath := append(ustr.Ustr{}, parent.Cwd.Path...)
	cwdFd := parent.Cwd.Fd
	parent.mu.Unlock()

	t.mu.Lock()
	child := &Proc_t{
		Pid:      t.allocPid(),
		Parent:   parent.Pid,
		pgid:     parent.pgid,
		Vm:       parent.Vm.Fork(),
		fds:      fds,
		nextFdNo: nextFdNo,
		children: make(map[defs.Pid_t]bool),
		threads:  make(map[defs.Tid_t]*thread.Thread),
		Notes:    tinfo.NewThreadinfo(),
	}
	child.Cwd = &fd.Cwd_t{Fd: cwdFd, Path: cwdPath}
	t.procs[child.Pid] = child
	parent.mu.Lock()
	parent.children[child.Pid] = true
	parent.mu.Unlock()
	t.mu.Unlock()
	return child, 0
}

// AddThreadToProcess registers thr as one of p's threads, matching
// AddThreadToProcess's role of linking a freshly created thread into its
// owning process's thread set/tree.
func (p *Proc_t) AddThreadToProcess(thr *thread.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads[thr.Tid] = thr
	p.Notes.Add(thr.Tid)
}

// GetPid returns p's pid, matching GetPid(struct process*)'s trivial
// accessor role — kept as a method rather than inlined at call sites
// since syscalls never reach into Proc_t's fields directly.
func (p *Proc_t) GetPid() defs.Pid_t { return p.Pid }

// GetProcessFromPid looks pid up, or returns nil if it names no live
// process.
func (t *Table) GetProcessFromPid(pid defs.Pid_t) *Proc_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.procs[pid]
}

// AddFd installs f in p's descriptor table, returning the assigned
// number.
func (p *Proc_t) AddFd(f *fd.Fd_t) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	no := 0
	for {
		if _, ok := p.fds[no]; !ok {
			break
		}
		no++
	}
	p.fds[no] = f
	if no >= p.nextFdNo {
		p.nextFdNo = no + 1
	}
	return no
}

// GetFd looks up fdno, or returns (nil, EBADF).
func (p *Proc_t) GetFd(fdno int) (*fd.Fd_t, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fds[fdno]
	if !ok {
		return nil, defs.EBADF
	}
	return f, 0
}

// CloseFd removes fdno from the table and closes its underlying
// description.
func (p *Proc_t) CloseFd(fdno int) defs.Err_t {
	p.mu.Lock()
	f, ok := p.fds[fdno]
	if !ok {
		p.mu.Unlock()
		delete(p.fds, fdno)
		return defs.EBADF
	}
	delete(p.fds, fdno)
	p.mu.Unlock()
	return f.Fops.Close()
}

// HandleExecFd sweeps every FD_CLOEXEC descriptor out of the table,
// grounded on prepexec.c's HandleExecFd — called right before an exec
// image replaces the address space.
func (p *Proc_t) HandleExecFd() defs.Err_t {
	p.mu.Lock()
	var toClose []*fd.Fd_t
	for no, f := range p.fds {
		if f.Perms&fd.FD_CLOEXEC != 0 {
			toClose = append(toClose, f)
			delete(p.fds, no)
		}
	}
	p.mu.Unlock()
	for _, f := range toClose {
		f.Fops.Close()
	}
	return 0
}

// Exec resets p in place for a fresh program image: closes cloexec fds
// and wipes every usermode mapping, the pid/fd table otherwise
// surviving untouched. Grounded on kernel/sys/calls/prepexec.c's
// SysPrepExec (HandleExecFd + WipeUsermodePages).
func (p *Proc_t) Exec() defs.Err_t {
	if err := p.HandleExecFd(); err != 0 {
		return err
	}
	p.Vm.ExecReset()
	return 0
}

// Exit marks pid exited with status, wakes every table waiter,
// reparents its children to pid 1 (the boot process) the way a real
// init inherits orphans, matching KillProcess's retv handoff, and
// terminates every one of its threads. If the calling thread is among
// them, this never returns, the same as TerminateCurrentThread.
func (t *Table) Exit(cpu int, pid defs.Pid_t, status int) {
	t.mu.Lock()
	p := t.procs[pid]
	if p == nil {
		t.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.exited = true
	p.exitStatus = status
	threads := make([]*thread.Thread, 0, len(p.threads))
	for _, thr := range p.threads {
		threads = append(threads, thr)
	}
	p.threads = make(map[defs.Tid_t]*thread.Thread)
	p.mu.Unlock()

	for cpid := range p.children {
		if c, ok := t.procs[cpid]; ok {
			c.Parent = 1
			if init, ok := t.procs[1]; ok {
				init.children[cpid] = true
			}
		}
	}
	t.mu.Unlock()
	t.exitNotify.Release(cpu)

	current := t.s.Current(cpu)
	terminatingSelf := false
	for _, thr := range threads {
		if thr == current {
			terminatingSelf = true
			continue
		}
		t.s.TerminateOtherThread(cpu, thr)
	}
	if terminatingSelf {
		t.s.TerminateCurrentThread(cpu)
	}
}

// WaitProcess blocks caller until a matching child of caller has exited,
// reaps it, and returns its pid and exit status. pid>0 waits for that
// specific child; pid<=0 waits for any child. WNOHANG in flags makes a
// childless-so-far wait return (0, 0, 0) instead of blocking. Returns
// ECHILD if caller has no such child at all (exited or not).
func (t *Table) WaitProcess(cpu int, caller defs.Pid_t, pid defs.Pid_t, flags int) (defs.Pid_t, int, defs.Err_t) {
	for {
		t.mu.Lock()
		parent, ok := t.procs[caller]
		if !ok {
			t.mu.Unlock()
			return 0, 0, defs.ESRCH
		}
		var found *Proc_t
		haveCandidate := false
		for cpid := range parent.children {
			c, ok := t.procs[cpid]
			if !ok {
				continue
			}
			if pid > 0 && c.Pid != pid {
				continue
			}
			haveCandidate = true
			c.mu.Lock()
			exited := c.exited
			c.mu.Unlock()
			if exited {
				found = c
				break
			}
		}
		if !haveCandidate {
			t.mu.Unlock()
			return 0, 0, defs.ECHILD
		}
		if found != nil {
			delete(parent.children, found.Pid)
			delete(t.procs, found.Pid)
			status := found.exitStatus
			t.mu.Unlock()
			return found.Pid, status, 0
		}
		t.mu.Unlock()

		if flags&defs.WNOHANG != 0 {
			return 0, 0, 0
		}
		t.exitNotify.Acquire(cpu, sema.TimeoutInfinite)
	}
}

// Signal implements the kill(2)/sigreturn/sethandler multiplexed syscall,
// grounded on kernel/sys/calls/signal.c's three-way op switch.
func (t *Table) Signal(cpu int, caller *Proc_t, op int, handlerAddr int, sigNum int, targetPid defs.Pid_t) defs.Err_t {
	switch op {
	case 0: // install the common signal handler, once
		caller.sigMu.Lock()
		defer caller.sigMu.Unlock()
		if caller.commonSigHandler != 0 {
			return defs.EALREADY
		}
		caller.commonSigHandler = handlerAddr
		return 0

	case 1: // sigreturn: clear the delivered signal from the blocked mask
		caller.sigMu.Lock()
		caller.blockedSignals &^= 1 << uint(sigNum)
		caller.sigMu.Unlock()
		return 0

	case 2: // kill(2)
		if targetPid <= 0 {
			return defs.ENOSYS
		}
		switch sigNum {
		case defs.SIGKILL, defs.SIGTERM, defs.SIGPIPE, defs.SIGCHLD, defs.SIGALRM:
		default:
			return defs.EINVAL
		}
		target := t.GetProcessFromPid(targetPid)
		if target == nil {
			return defs.EINVAL
		}
		return t.raiseSignal(target, sigNum)

	default:
		return defs.EINVAL
	}
}

// raiseSignal delivers sigNum to one arbitrarily-chosen thread of p, per
// POSIX's "a single, arbitrarily selected thread within the process"
// rule for process-directed signals that signal.c's comment quotes.
// SIGKILL dooms every thread in the process outright; anything else is
// just recorded pending for the handler dispatch path to pick up.
func (t *Table) raiseSignal(p *Proc_t, sigNum int) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sigNum == defs.SIGKILL {
		for tid := range p.threads {
			if note := p.Notes.Get(tid); note != nil {
				note.Kill(0)
				note.Doom()
			}
		}
		for _, thr := range p.threads {
			thr.Killed = true
			thr.Doomed = true
		}
		return 0
	}

	var pick defs.Tid_t
	havePick := false
	for tid := range p.threads {
		pick = tid
		havePick = true
		break
	}
	if !havePick {
		return defs.EINVAL
	}
	p.sigMu.Lock()
	p.pendingSignals |= 1 << uint(sigNum)
	p.sigMu.Unlock()
	if note := p.Notes.Get(pick); note != nil {
		note.Kill(0)
	}
	return 0
}

// ScheduleYield gives up cpu voluntarily, matching SysYield's plain
// reschedule with no other side effect.
func (t *Table) ScheduleYield(cpu int) { t.s.Schedule(cpu) }

// CurrentThread returns the thread actually running on cpu, for syscalls
// (getpid/gettid) that report it back to userspace.
func (t *Table) CurrentThread(cpu int) *thread.Thread { return t.s.Current(cpu) }

// Scheduler exposes the table's scheduler to callers that need to wire up
// other subsystems sharing the same thread model, such as constructing a
// Mailbox for a freshly created pipe.
func (t *Table) Scheduler() *sched.Scheduler { return t.s }

// TerminateCurrentThread matches SysTerminate's TerminateThread(GetThread())
// branch: it marks the running thread doomed, drops it from its
// process's thread set, and then actually ends it through the
// scheduler, the same path selfTerminate takes when a thread's entry
// function returns normally. Like TerminateThread in the original, this
// never returns.
func (t *Table) TerminateCurrentThread(cpu int, p *Proc_t) {
	thr := t.s.Current(cpu)
	thr.Killed = true
	thr.Doomed = true
	p.mu.Lock()
	delete(p.threads, thr.Tid)
	p.mu.Unlock()
	t.s.TerminateCurrentThread(cpu)
}

// InstallAlarm replaces p's pending alarm (if any) with one that fires
// deltaUs microseconds from now, delivering SIGALRM to p. deltaUs==0
// cancels without installing a new one, matching alarm(2)'s semantics.
// The returned remaining time is always 0: this core's timer.Clock
// doesn't expose how much of a cancelled alarm's delay was left, only
// that it can be cancelled (DestroyAlarm), so unlike the original's
// InstallUnixAlarm this can't report a precise remainder.
func (t *Table) InstallAlarm(cpu int, p *Proc_t, deltaUs int64) int64 {
	p.alarmMu.Lock()
	defer p.alarmMu.Unlock()

	if p.hasAlarm {
		t.c.DestroyAlarm(p.alarmID)
		p.hasAlarm = false
	}
	if deltaUs == 0 {
		return 0
	}
	pid := p.Pid
	p.alarmID = t.c.CreateAlarmMicro(deltaUs, func(arg any) {
		if target := t.GetProcessFromPid(pid); target != nil {
			t.raiseSignal(target, defs.SIGALRM)
		}
	}, nil)
	p.hasAlarm = true
	return 0
}
