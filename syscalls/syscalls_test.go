package syscalls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"merlon/defs"
	"merlon/demofs"
	"merlon/fd"
	"merlon/heap"
	"merlon/irql"
	"merlon/mem"
	"merlon/proc"
	"merlon/sched"
	"merlon/thread"
	"merlon/timer"
	"merlon/ustr"
	"merlon/vfs"
	"merlon/vm"
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

// harness bundles a Dispatch with a single process that owns a scratch
// user-memory region, wide enough to hold every path string/word-sized
// in-out argument these tests exercise.
type harness struct {
	d   *Dispatch
	s   *sched.Scheduler
	tbl *proc.Table
	p   *proc.Proc_t
	base int
}

const scratchPages = 4

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, clk := boot(0)
	phys := mem.New(1024)
	q := heap.NewQuota(1 << 20)
	tbl := proc.NewTable(phys, q, s, clk)
	p := tbl.CreateProcess(0, 0)

	mt := vfs.NewMountTable()
	fs := demofs.Mount()
	require.Zero(t, mt.AddMount("", fs.RootVnode()), "mount failed")

	base := int(vm.USERMIN)
	p.Vm.Vmadd_anon(base, scratchPages*mem.PGSIZE, mem.PTE_U|mem.PTE_W)

	return &harness{
		d:   &Dispatch{Procs: tbl, Mounts: mt, Phys: phys, Clock: clk},
		s:   s,
		tbl: tbl, p: p, base: base,
	}
}

func (h *harness) spawnReady(th *thread.Thread) {
	h.s.Spawn(0, th, false)
	h.s.LockScheduler(0)
	h.s.AddReadyLockHeld(th)
	h.s.UnlockScheduler(0)
}

// putPath null-terminates s into the scratch region at offset off,
// returning the address it was written at.
func (h *harness) putPath(t *testing.T, off int, s string) int {
	t.Helper()
	va := h.base + off
	require.Zero(t, h.p.Vm.K2user(append([]byte(s), 0), va), "failed writing path %q", s)
	return va
}

func (h *harness) readWord(t *testing.T, va int) int {
	t.Helper()
	n, err := h.p.Vm.Userreadn(va, wordsz)
	require.Zero(t, err, "readWord at %#x", va)
	return n
}

func TestSysOpenReadWriteClose(t *testing.T) {
	h := newHarness(t)
	pathVa := h.putPath(t, 0, "hello.txt")
	fdoutVa := h.base + 512
	bufVa := h.base + 1024
	brVa := h.base + 2048

	require.Zero(t, h.d.Handle(0, h.p, SYS_OPEN, Args{pathVa, defs.O_CREAT | defs.O_WRONLY, 0, fdoutVa}), "open for write")
	wfd := h.readWord(t, fdoutVa)

	data := "hi there"
	require.Zero(t, h.p.Vm.K2user([]byte(data), bufVa), "seed write buffer")
	require.Zero(t, h.d.Handle(0, h.p, SYS_READWRITE, Args{wfd, len(data), bufVa, brVa, 1}), "write")
	require.Equal(t, len(data), h.readWord(t, brVa), "bytes written")
	require.Zero(t, h.d.Handle(0, h.p, SYS_CLOSE, Args{wfd}), "close")

	require.Zero(t, h.d.Handle(0, h.p, SYS_OPEN, Args{pathVa, defs.O_RDONLY, 0, fdoutVa}), "open for read")
	rfd := h.readWord(t, fdoutVa)
	readBufVa := h.base + 3072
	require.Zero(t, h.d.Handle(0, h.p, SYS_READWRITE, Args{rfd, len(data), readBufVa, brVa, 0}), "read")
	require.Equal(t, len(data), h.readWord(t, brVa), "bytes read")
	got, err := h.p.Vm.Userstr(readBufVa, len(data)+1)
	require.Zero(t, err, "reading back buffer")
	require.Equal(t, data, got.String(), "roundtrip mismatch")
}

func TestSysOpenMissingWithoutCreateFails(t *testing.T) {
	h := newHarness(t)
	pathVa := h.putPath(t, 0, "nope.txt")
	fdoutVa := h.base + 512
	require.Equal(t, defs.ENOENT, h.d.Handle(0, h.p, SYS_OPEN, Args{pathVa, defs.O_RDONLY, 0, fdoutVa}))
}

func TestSysSeekTell(t *testing.T) {
	h := newHarness(t)
	pathVa := h.putPath(t, 0, "f")
	fdoutVa := h.base + 512
	require.Zero(t, h.d.Handle(0, h.p, SYS_OPEN, Args{pathVa, defs.O_CREAT | defs.O_RDWR, 0, fdoutVa}), "open")
	fdno := h.readWord(t, fdoutVa)

	bufVa := h.base + 1024
	brVa := h.base + 2048
	require.Zero(t, h.p.Vm.K2user([]byte("0123456789"), bufVa))
	require.Zero(t, h.d.Handle(0, h.p, SYS_READWRITE, Args{fdno, 10, bufVa, brVa, 1}), "write")

	posVa := h.base + 3072
	require.Zero(t, h.p.Vm.Userwriten(posVa, 8, 3))
	require.Zero(t, h.d.Handle(0, h.p, SYS_SEEK, Args{fdno, posVa, defs.SEEK_SET}), "seek")
	n, err := h.p.Vm.Userreadn(posVa, 8)
	require.Zero(t, err)
	require.Equal(t, 3, n, "expected seek to report offset 3")

	require.Zero(t, h.d.Handle(0, h.p, SYS_TELL, Args{fdno, posVa}), "tell")
	n, err = h.p.Vm.Userreadn(posVa, 8)
	require.Zero(t, err)
	require.Equal(t, 3, n, "expected tell to report offset 3")
}

func TestSysDupAndDup2Cloexec(t *testing.T) {
	h := newHarness(t)
	pathVa := h.putPath(t, 0, "d")
	fdoutVa := h.base + 512
	require.Zero(t, h.d.Handle(0, h.p, SYS_OPEN, Args{pathVa, defs.O_CREAT | defs.O_RDWR, 0, fdoutVa}), "open")
	orig := h.readWord(t, fdoutVa)

	newFdVa := h.base + 600
	require.Zero(t, h.d.Handle(0, h.p, SYS_DUP, Args{1, orig, newFdVa, 0}), "dup")
	dupped := h.readWord(t, newFdVa)
	require.NotEqual(t, orig, dupped, "expected dup to allocate a distinct fd number")

	const target = 50
	require.Zero(t, h.d.Handle(0, h.p, SYS_DUP, Args{2, orig, target, defs.O_CLOEXEC}), "dup2")
	nf, err := h.p.GetFd(target)
	require.Zero(t, err, "expected dup2'd fd to exist")
	require.NotZero(t, nf.Perms&fd.FD_CLOEXEC, "expected dup2'd fd to carry FD_CLOEXEC")
}

func TestSysPipeReadWriteRoundTrip(t *testing.T) {
	h := newHarness(t)
	fdsVa := h.base + 512
	require.Zero(t, h.d.Handle(0, h.p, SYS_PIPE, Args{fdsVa}), "pipe")
	rfd := h.readWord(t, fdsVa)
	wfd := h.readWord(t, fdsVa+wordsz)
	require.NotEqual(t, rfd, wfd, "expected distinct read/write fds")

	data := "through the pipe"
	bufVa := h.base + 1024
	brVa := h.base + 2048
	require.Zero(t, h.p.Vm.K2user([]byte(data), bufVa), "seed write buffer")
	require.Zero(t, h.d.Handle(0, h.p, SYS_READWRITE, Args{wfd, len(data), bufVa, brVa, 1}), "write")
	require.Equal(t, len(data), h.readWord(t, brVa), "bytes written")

	readBufVa := h.base + 3072
	require.Zero(t, h.d.Handle(0, h.p, SYS_READWRITE, Args{rfd, len(data), readBufVa, brVa, 0}), "read")
	got, err := h.p.Vm.Userstr(readBufVa, len(data)+1)
	require.Zero(t, err)
	require.Equal(t, data, got.String(), "roundtrip mismatch")
}

func TestSysPipeBreakDeliversEpipeAndSigpipe(t *testing.T) {
	h := newHarness(t)
	writer := thread.New(40, 3, true, func(th *thread.Thread) {})
	h.p.AddThreadToProcess(writer)

	fdsVa := h.base + 512
	require.Zero(t, h.d.Handle(0, h.p, SYS_PIPE, Args{fdsVa}), "pipe")
	rfd := h.readWord(t, fdsVa)
	wfd := h.readWord(t, fdsVa+wordsz)

	require.Zero(t, h.d.Handle(0, h.p, SYS_CLOSE, Args{rfd}), "close read end")

	bufVa := h.base + 1024
	brVa := h.base + 2048
	require.Zero(t, h.p.Vm.K2user([]byte("x"), bufVa), "seed write buffer")
	require.Equal(t, defs.EPIPE, h.d.Handle(0, h.p, SYS_READWRITE, Args{wfd, 1, bufVa, brVa, 1}), "write to broken pipe")
	require.True(t, h.p.HasPendingSignal(defs.SIGPIPE), "expected SIGPIPE pending after EPIPE write")
}

func TestSysRemove(t *testing.T) {
	h := newHarness(t)
	pathVa := h.putPath(t, 0, "gone")
	fdoutVa := h.base + 512
	require.Zero(t, h.d.Handle(0, h.p, SYS_OPEN, Args{pathVa, defs.O_CREAT | defs.O_EXCL, 0, fdoutVa}), "create")
	require.Zero(t, h.d.Handle(0, h.p, SYS_REMOVE, Args{pathVa, 0}), "remove")
	require.Equal(t, defs.ENOENT, h.d.Handle(0, h.p, SYS_OPEN, Args{pathVa, defs.O_RDONLY, 0, fdoutVa}))
}

func TestSysStatViaFd(t *testing.T) {
	h := newHarness(t)
	pathVa := h.putPath(t, 0, "s")
	fdoutVa := h.base + 512
	require.Zero(t, h.d.Handle(0, h.p, SYS_OPEN, Args{pathVa, defs.O_CREAT | defs.O_RDWR, 0, fdoutVa}), "open")
	fdno := h.readWord(t, fdoutVa)

	outVa := h.base + 2048
	require.Zero(t, h.d.Handle(0, h.p, SYS_STAT, Args{0, outVa, 1, fdno, 0}), "fstat")
	mode := h.readWord(t, outVa+2*wordsz)
	require.NotZero(t, mode, "expected a non-zero mode word from fstat")
}

func TestSysChdir(t *testing.T) {
	h := newHarness(t)
	mkdirVa := h.putPath(t, 0, "sub")
	fdoutVa := h.base + 512
	// No mkdir syscall is wired (original spec has none); use the
	// directory's own Create/Mkdir surface via the root to set one up,
	// then chdir into it through the syscall path.
	root, err := h.d.Mounts.Lookup(ustr.MkUstrRoot())
	require.Zero(t, err, "lookup root")
	require.Zero(t, root.Mkdir("sub"), "mkdir")
	require.Zero(t, h.d.Handle(0, h.p, SYS_CHDIR, Args{mkdirVa}), "chdir")
	require.Equal(t, "/sub", h.p.Cwd.Path.String())

	// A relative open now resolves against /sub.
	filePathVa := h.putPath(t, 100, "f")
	require.Zero(t, h.d.Handle(0, h.p, SYS_OPEN, Args{filePathVa, defs.O_CREAT | defs.O_EXCL, 0, fdoutVa}), "create in new cwd")
	_, err = root.Lookup("f")
	require.Equal(t, defs.ENOENT, err, "expected the file to land under sub, not root")
}

func TestSysMapVirtUnmapMprotect(t *testing.T) {
	h := newHarness(t)
	const mapAt = int(vm.USERMIN) + scratchPages*mem.PGSIZE
	virtVa := h.base
	require.Zero(t, h.p.Vm.Userwriten(virtVa, wordsz, mapAt))
	require.Zero(t, h.d.Handle(0, h.p, SYS_MAPVIRT, Args{VM_READ | VM_WRITE, mem.PGSIZE, 0, 0, virtVa}), "mapvirt")
	_, ok := h.p.Vm.Vmregion.Lookup(uintptr(mapAt))
	require.True(t, ok, "expected mapvirt to install a region")

	require.Zero(t, h.d.Handle(0, h.p, SYS_MPROTECT, Args{mapAt, mem.PGSIZE, VM_READ}), "mprotect")

	require.Zero(t, h.d.Handle(0, h.p, SYS_UNMAPVIRT, Args{mapAt, mem.PGSIZE}), "unmapvirt")
	_, ok = h.p.Vm.Vmregion.Lookup(uintptr(mapAt))
	require.False(t, ok, "expected unmapvirt to remove the region")
}

func TestSysForkAndWaitpid(t *testing.T) {
	h := newHarness(t)
	pidoutVa := h.base

	require.Zero(t, h.d.Handle(0, h.p, SYS_FORK, Args{pidoutVa}), "fork")
	childPid := h.readWord(t, pidoutVa)
	require.NotEqual(t, int(h.p.Pid), childPid, "expected a distinct child pid")
	child := h.tbl.GetProcessFromPid(defs.Pid_t(childPid))

	result := make(chan int, 1)
	waiter := thread.New(99, 3, true, func(th *thread.Thread) {
		pidoutVa2 := h.base + 100
		statusVa := h.base + 200
		err := h.d.Handle(0, h.p, SYS_WAITPID, Args{-1, pidoutVa2, statusVa, 0})
		if err != 0 {
			t.Errorf("waitpid failed: %v", err)
			return
		}
		result <- h.readWord(t, pidoutVa2)
	})
	h.spawnReady(waiter)

	exiter := thread.New(100, 3, true, func(th *thread.Thread) {
		h.d.Handle(0, child, SYS_EXIT, Args{0})
	})
	h.spawnReady(exiter)

	select {
	case got := <-result:
		require.Equal(t, childPid, got, "expected reaped pid to match forked child")
	case <-time.After(time.Second):
		t.Fatal("waitpid never returned")
	}
}

func TestSysSignalKill(t *testing.T) {
	h := newHarness(t)
	thr := thread.New(30, 3, true, func(th *thread.Thread) {})
	h.p.AddThreadToProcess(thr)

	require.Zero(t, h.d.Handle(0, h.p, SYS_SIGNAL, Args{2, 0, defs.SIGKILL, int(h.p.Pid)}), "signal")
	require.True(t, thr.Killed, "expected SIGKILL to mark the thread killed")
	require.True(t, thr.Doomed, "expected SIGKILL to mark the thread doomed")
}

func TestSysAlarmInstallAndCancel(t *testing.T) {
	h := newHarness(t)
	inVa := h.base
	outVa := h.base + 16
	require.Zero(t, h.p.Vm.Userwriten(inVa, 8, 1_000_000))
	require.Zero(t, h.d.Handle(0, h.p, SYS_ALARM, Args{inVa, outVa}), "alarm install")

	require.Zero(t, h.p.Vm.Userwriten(inVa, 8, 0))
	require.Zero(t, h.d.Handle(0, h.p, SYS_ALARM, Args{inVa, outVa}), "alarm cancel")
}

func TestSysPgidGetSet(t *testing.T) {
	h := newHarness(t)
	pidVa := h.base
	argVa := h.base + 16
	require.Zero(t, h.p.Vm.Userwriten(pidVa, wordsz, int(h.p.Pid)))
	require.Zero(t, h.d.Handle(0, h.p, SYS_PGID, Args{0, pidVa, argVa}), "getpgid")
	require.Equal(t, int(h.p.Pid), h.readWord(t, pidVa), "expected initial pgid == own pid")

	require.Zero(t, h.p.Vm.Userwriten(pidVa, wordsz, int(h.p.Pid)))
	require.Zero(t, h.p.Vm.Userwriten(argVa, wordsz, 7))
	require.Zero(t, h.d.Handle(0, h.p, SYS_PGID, Args{1, pidVa, argVa}), "setpgid")
	require.Equal(t, defs.Pid_t(7), h.p.Pgid(), "expected pgid 7 after setpgid")
}

func TestHandleUnknownCallReturnsENOSYS(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, defs.ENOSYS, h.d.Handle(0, h.p, numSyscalls, Args{}))
}
