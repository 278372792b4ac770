// Package syscalls is the dispatch table behind the system call boundary:
// one numbered entry per call, each unmarshalling its size_t-sized
// arguments out of the caller's address space and driving proc/vfs/vm to
// do the actual work. Grounded on
// original_source/kernel/sys/syscalls.c's system_call_table array and
// HandleSystemCall dispatcher, with per-call argument/return shapes taken
// from the matching kernel/sys/calls/*.c file.
package syscalls

import (
	"strings"

	"merlon/bpath"
	"merlon/defs"
	"merlon/fd"
	"merlon/mem"
	"merlon/proc"
	"merlon/sema"
	"merlon/timer"
	"merlon/ustr"
	"merlon/util"
	"merlon/vfs"
	"merlon/vm"
)

// Syscall numbers, in system_call_table's order, with the calls the
// printed table's snapshot omitted (signal, tell, alarm, pgid — each
// still has its own sys/calls/*.c source file) appended after it.
const (
	SYS_YIELD = iota
	SYS_TERMINATE
	SYS_MAPVIRT
	SYS_UNMAPVIRT
	SYS_OPEN
	SYS_READWRITE
	SYS_CLOSE
	SYS_SEEK
	SYS_DUP
	SYS_EXIT
	SYS_REMOVE
	SYS_MPROTECT
	SYS_PREPEXEC
	SYS_WAITPID
	SYS_FORK
	SYS_GETPID
	SYS_GETTID
	SYS_IOCTL
	SYS_STAT
	SYS_CHDIR
	SYS_INFO
	SYS_TIME
	SYS_NANOSLEEP
	SYS_SIGNAL
	SYS_TELL
	SYS_ALARM
	SYS_PGID
	SYS_PIPE
	numSyscalls
)

// VM_* mirror sys/mman.h's protection/mapping flags, consumed by
// SysMapVirt/SysMprotect.
const (
	VM_READ       = 1 << 0
	VM_WRITE      = 1 << 1
	VM_EXEC       = 1 << 2
	VM_FILE       = 1 << 3
	VM_FIXED_VIRT = 1 << 4
	vmUser        = 1 << 5
	vmLocal       = 1 << 6
)

// sysinfo cmd numbers, matching info.c's SYSINFO_* constants.
const (
	SYSINFO_FREE_RAM_KB = iota
	SYSINFO_TOTAL_RAM_KB
	SYSINFO_OS_VERSION
	SYSINFO_IS_SUPPORTED
	numSysinfoCmds
)

const (
	osVersionString = "merlon"
	osVersionMajor  = 0
	osVersionMinor  = 1
)

const wordsz = 4

// Dispatch wires the process table, mount table, physical memory
// allocator, and system clock that every syscall handler needs. One
// Dispatch instance is shared by every CPU the way the teacher's globals
// (process table, vfs mount table) are process-wide, not per-core.
type Dispatch struct {
	Procs  *proc.Table
	Mounts *vfs.MountTable
	Phys   *mem.Physmem_t
	Clock  *timer.Clock
}

// Args is the five size_t-sized arguments HandleSystemCall passes every
// call, left un-interpreted until the handler for call knows their shape.
type Args [5]int

// Handle dispatches call for p running on cpu, matching
// HandleSystemCall(call, a, b, c, d). Returns ENOSYS for a call number
// outside the table, exactly like the bounds check in the original.
func (d *Dispatch) Handle(cpu int, p *proc.Proc_t, call int, a Args) defs.Err_t {
	if call < 0 || call >= numSyscalls {
		return defs.ENOSYS
	}
	switch call {
	case SYS_YIELD:
		return d.sysYield(cpu)
	case SYS_TERMINATE:
		return d.sysTerminate(cpu, p, a)
	case SYS_MAPVIRT:
		return d.sysMapVirt(cpu, p, a)
	case SYS_UNMAPVIRT:
		return d.sysUnmapVirt(cpu, p, a)
	case SYS_OPEN:
		return d.sysOpen(cpu, p, a)
	case SYS_READWRITE:
		return d.sysReadWrite(cpu, p, a)
	case SYS_CLOSE:
		return d.sysClose(cpu, p, a)
	case SYS_SEEK:
		return d.sysSeek(cpu, p, a)
	case SYS_DUP:
		return d.sysDup(cpu, p, a)
	case SYS_EXIT:
		return d.sysExit(cpu, p, a)
	case SYS_REMOVE:
		return d.sysRemove(cpu, p, a)
	case SYS_MPROTECT:
		return d.sysMprotect(cpu, p, a)
	case SYS_PREPEXEC:
		return d.sysPrepExec(cpu, p, a)
	case SYS_WAITPID:
		return d.sysWaitpid(cpu, p, a)
	case SYS_FORK:
		return d.sysFork(cpu, p, a)
	case SYS_GETPID:
		return d.sysGetPid(cpu, p, a)
	case SYS_GETTID:
		return d.sysGetTid(cpu, p, a)
	case SYS_IOCTL:
		return d.sysIoctl(cpu, p, a)
	case SYS_STAT:
		return d.sysStat(cpu, p, a)
	case SYS_CHDIR:
		return d.sysChdir(cpu, p, a)
	case SYS_INFO:
		return d.sysInfo(cpu, p, a)
	case SYS_TIME:
		return d.sysTime(cpu, p, a)
	case SYS_NANOSLEEP:
		return d.sysNanosleep(cpu, p, a)
	case SYS_SIGNAL:
		return d.sysSignal(cpu, p, a)
	case SYS_TELL:
		return d.sysTell(cpu, p, a)
	case SYS_ALARM:
		return d.sysAlarm(cpu, p, a)
	case SYS_PGID:
		return d.sysPgid(cpu, p, a)
	case SYS_PIPE:
		return d.sysPipe(cpu, p, a)
	default:
		return defs.ENOSYS
	}
}

func (d *Dispatch) sysYield(cpu int) defs.Err_t {
	d.Procs.ScheduleYield(cpu)
	return 0
}

// sysTerminate matches SysTerminate's present behaviour (the "kill whole
// process if last thread" branch is commented out in the original, so a
// single-threaded-only implementation doesn't shortchange the spec):
// terminating the calling thread outright. TerminateThread(self) never
// returns in the original, making its trailing EFAULT dead code;
// TerminateCurrentThread doesn't return here either, so the same is
// true of this one.
func (d *Dispatch) sysTerminate(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	d.Procs.TerminateCurrentThread(cpu, p)
	return defs.EFAULT
}

// resolveFullpath canonicalizes path relative to p's cwd.
func resolveFullpath(p *proc.Proc_t, path ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(p.Cwd.Fullpath(path))
}

func splitComps(full ustr.Ustr) []string {
	s := strings.TrimPrefix(full.String(), "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

func joinAbs(comps []string) ustr.Ustr {
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	return ustr.MkUstrSlice([]byte("/" + strings.Join(comps, "/")))
}

// resolveParent walks full down to its last component's parent directory,
// returning that directory's vnode and the leaf name, for the Create(2)
// calls Lookup alone can't drive.
func resolveParent(mt *vfs.MountTable, full ustr.Ustr) (vfs.Vnode_i, string, defs.Err_t) {
	comps := splitComps(full)
	if len(comps) == 0 {
		return nil, "", defs.EINVAL
	}
	dir, err := mt.Lookup(joinAbs(comps[:len(comps)-1]))
	if err != 0 {
		return nil, "", err
	}
	return dir, comps[len(comps)-1], 0
}

// openPath resolves path against p's cwd and opens it, creating it first
// per flags if it's missing, matching open.c's OpenFile call plus
// CreateFileDescriptor. mode is accepted for call-shape parity with
// open(2) but unused: vfs.Vnode_i.Create doesn't model permission bits,
// matching every vnode in this core (demofs included).
func openPath(mt *vfs.MountTable, p *proc.Proc_t, path ustr.Ustr, flags, mode int) (*vfs.Openfile_t, defs.Err_t) {
	full := resolveFullpath(p, path)
	node, err := mt.Lookup(full)
	if err == 0 && flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
		return nil, defs.EEXIST
	}
	if err == defs.ENOENT && flags&defs.O_CREAT != 0 {
		dir, leaf, perr := resolveParent(mt, full)
		if perr != 0 {
			return nil, perr
		}
		node, err = dir.Create(leaf, flags&defs.O_EXCL != 0)
	}
	if err != 0 {
		return nil, err
	}
	canWrite := flags&(defs.O_WRONLY|defs.O_RDWR) != 0
	if node.IsDir() && canWrite {
		return nil, defs.EISDIR
	}
	canRead := flags&defs.O_WRONLY == 0
	if flags&defs.O_TRUNC != 0 && canWrite {
		if terr := node.Truncate(0); terr != 0 {
			return nil, terr
		}
	}
	return vfs.CreateOpenFile(node, canRead, canWrite), 0
}

// sysOpen matches open.c's SysOpen: read the path string, open/create it,
// install a descriptor, write the fd number out.
func (d *Dispatch) sysOpen(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	filenameVa, flags, mode, fdoutVa := a[0], a[1], a[2], a[3]

	path, err := p.Vm.Userstr(filenameVa, 399)
	if err != 0 {
		return err
	}
	of, err := openPath(d.Mounts, p, path, flags, mode)
	if err != 0 {
		return err
	}
	fdno := p.AddFd(&fd.Fd_t{Fops: of, Perms: boolPerms(flags)})
	if err := p.Vm.Userwriten(fdoutVa, wordsz, fdno); err != 0 {
		p.CloseFd(fdno)
		return err
	}
	return 0
}

func boolPerms(flags int) int {
	perms := 0
	if flags&defs.O_WRONLY == 0 {
		perms |= fd.FD_READ
	}
	if flags&(defs.O_WRONLY|defs.O_RDWR) != 0 {
		perms |= fd.FD_WRITE
	}
	if flags&defs.O_CLOEXEC != 0 {
		perms |= fd.FD_CLOEXEC
	}
	return perms
}

// sysClose matches close.c.
func (d *Dispatch) sysClose(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	return p.CloseFd(a[0])
}

// sysReadWrite matches readwrite.c's SysReadWrite: transfers size bytes
// at the descriptor's current position and writes back the count
// actually transferred. O_APPEND is not consulted: a write on an
// O_APPEND descriptor starts at the current position, not at EOF.
func (d *Dispatch) sysReadWrite(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	fdno, size, bufVa, brOutVa, write := a[0], a[1], a[2], a[3], a[4]

	f, err := p.GetFd(fdno)
	if err != 0 {
		return err
	}
	of, ok := f.Fops.(*vfs.Openfile_t)
	if !ok {
		return defs.EINVAL
	}

	if write != 0 && f.Perms&fd.FD_WRITE == 0 {
		return defs.EBADF
	}
	if write == 0 && f.Perms&fd.FD_READ == 0 {
		return defs.EBADF
	}

	ub := vm.MkUserbuf(p.Vm, bufVa, size)
	var n int
	if write != 0 {
		n, err = of.Write(ub)
	} else {
		n, err = of.Read(ub)
	}
	if err != 0 {
		if write != 0 && err == defs.EPIPE {
			d.Procs.Signal(cpu, p, 2, 0, defs.SIGPIPE, p.Pid)
		}
		return err
	}
	return p.Vm.Userwriten(brOutVa, wordsz, n)
}

// sysSeek matches seek.c: ESPIPE on a fifo/socket, otherwise SEEK_CUR/END
// resolved against the current position/file size before the new offset
// is both applied and written back.
func (d *Dispatch) sysSeek(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	fdno, posPtr, whence := a[0], a[1], a[2]
	f, err := p.GetFd(fdno)
	if err != 0 {
		return err
	}
	of, ok := f.Fops.(*vfs.Openfile_t)
	if !ok {
		return defs.EINVAL
	}
	offset, err := p.Vm.Userreadn(posPtr, 8)
	if err != 0 {
		return err
	}
	newoff, err := of.Lseek(offset, whence)
	if err != 0 {
		return err
	}
	return p.Vm.Userwriten(posPtr, 8, newoff)
}

// sysTell matches tell.c: same shape as seek but always reports the
// current position rather than moving it.
func (d *Dispatch) sysTell(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	fdno, posPtr := a[0], a[1]
	f, err := p.GetFd(fdno)
	if err != 0 {
		return err
	}
	of, ok := f.Fops.(*vfs.Openfile_t)
	if !ok {
		return defs.EINVAL
	}
	cur, err := of.Lseek(0, defs.SEEK_CUR)
	if err != 0 {
		return err
	}
	return p.Vm.Userwriten(posPtr, 8, cur)
}

// sysDup matches dup.c's two sub-operations: dup(2) (allocate a fresh fd
// number) and dup2(2) (install onto a caller-chosen number).
func (d *Dispatch) sysDup(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	dupNum, oldFd, newFd, flags := a[0], a[1], a[2], a[3]
	if flags&^defs.O_CLOEXEC != 0 {
		return defs.EINVAL
	}
	of, err := p.GetFd(oldFd)
	if err != 0 {
		return err
	}
	switch dupNum {
	case 1:
		nf, err := fd.Copyfd(of)
		if err != 0 {
			return err
		}
		no := p.AddFd(nf)
		return p.Vm.Userwriten(newFd, wordsz, no)
	case 2:
		nf, err := fd.Copyfd(of)
		if err != 0 {
			return err
		}
		nf.Perms &^= fd.FD_CLOEXEC
		if flags&defs.O_CLOEXEC != 0 {
			nf.Perms |= fd.FD_CLOEXEC
		}
		return p.InstallFdAt(newFd, nf)
	default:
		return defs.EINVAL
	}
}

// sysPipe matches CreatePipe surfaced as a syscall: it allocates a fresh
// Mailbox-backed pipe and installs its read and write ends as two new
// descriptors, writing them back to fdsOutVa as two consecutive words
// (read fd, then write fd), the conventional pipe(2) int[2] shape.
func (d *Dispatch) sysPipe(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	fdsOutVa := a[0]

	mbox := sema.NewMailbox(d.Procs.Scheduler(), d.Clock, vfs.PipeSize)
	readEnd, writeEnd := vfs.NewPipePair(mbox, cpu)

	rfd := p.AddFd(&fd.Fd_t{Fops: vfs.CreateOpenFile(readEnd, true, false), Perms: fd.FD_READ})
	wfd := p.AddFd(&fd.Fd_t{Fops: vfs.CreateOpenFile(writeEnd, false, true), Perms: fd.FD_WRITE})

	if err := p.Vm.Userwriten(fdsOutVa, wordsz, rfd); err != 0 {
		p.CloseFd(rfd)
		p.CloseFd(wfd)
		return err
	}
	if err := p.Vm.Userwriten(fdsOutVa+wordsz, wordsz, wfd); err != 0 {
		p.CloseFd(rfd)
		p.CloseFd(wfd)
		return err
	}
	return 0
}

// sysRemove matches remove.c: rmdir∈{0,1} selects file vs. directory
// unlink.
func (d *Dispatch) sysRemove(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	filenameVa, rmdir := a[0], a[1]
	if rmdir > 1 {
		return defs.EINVAL
	}
	path, err := p.Vm.Userstr(filenameVa, 399)
	if err != 0 {
		return err
	}
	full := resolveFullpath(p, path)
	dir, leaf, err := resolveParent(d.Mounts, full)
	if err != 0 {
		return err
	}
	return dir.Unlink(leaf)
}

// sysStat matches stat.c's use_fd-selected path: fstat an already-open
// descriptor, or open-stat-close a fresh path. symlink!=0 is rejected the
// same way the original does (no symlink support).
func (d *Dispatch) sysStat(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	filenameVa, outVa, useFd, fdno, symlink := a[0], a[1], a[2], a[3], a[4]

	var node vfs.Vnode_i
	if useFd != 0 {
		if symlink != 0 {
			return defs.EINVAL
		}
		f, err := p.GetFd(fdno)
		if err != 0 {
			return err
		}
		of, ok := f.Fops.(*vfs.Openfile_t)
		if !ok {
			return defs.EINVAL
		}
		node = of.Node
	} else {
		if symlink == 1 {
			return defs.ENOSYS
		} else if symlink > 1 {
			return defs.EINVAL
		}
		path, err := p.Vm.Userstr(filenameVa, 399)
		if err != 0 {
			return err
		}
		n, err := d.Mounts.Lookup(resolveFullpath(p, path))
		if err != 0 {
			return err
		}
		node = n
	}

	var st statBuf
	if err := node.Fstat(&st); err != 0 {
		return err
	}
	return st.writeTo(p.Vm, outVa)
}

// statBuf is the on-the-wire layout sysStat copies out: each field is
// wordsz bytes wide rather than the real struct stat's mixed widths,
// matching this core's "every user word is a fixed size" convention
// elsewhere (Userwriten et al).
type statBuf struct {
	dev, ino, mode, size, rdev uint
}

func (s *statBuf) Wdev(v uint)  { s.dev = v }
func (s *statBuf) Wino(v uint)  { s.ino = v }
func (s *statBuf) Wmode(v uint) { s.mode = v }
func (s *statBuf) Wsize(v uint) { s.size = v }
func (s *statBuf) Wrdev(v uint) { s.rdev = v }

func (s *statBuf) writeTo(as *vm.Vm_t, va int) defs.Err_t {
	fields := []uint{s.dev, s.ino, s.mode, s.size, s.rdev}
	for i, f := range fields {
		if err := as.Userwriten(va+i*wordsz, wordsz, int(f)); err != 0 {
			return err
		}
	}
	return 0
}

// sysChdir matches chdir.c: resolve the user path string against the
// cwd, check that it names a directory, and record its full path as the
// new cwd. Only Cwd.Path is updated; Cwd.Fd is left as it was.
func (d *Dispatch) sysChdir(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	pathVa := a[0]
	path, err := p.Vm.Userstr(pathVa, 399)
	if err != 0 {
		return err
	}
	full := resolveFullpath(p, path)
	node, err := d.Mounts.Lookup(full)
	if err != 0 {
		return err
	}
	if !node.IsDir() {
		return defs.ENOTDIR
	}
	p.Cwd.Lock()
	p.Cwd.Path = full
	p.Cwd.Unlock()
	return 0
}

// sysIoctl matches ioctl.c, minus device ioctls (no character device in
// this core implements one yet): every fd reports ENOTTY.
func (d *Dispatch) sysIoctl(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	fdno := a[0]
	if _, err := p.GetFd(fdno); err != 0 {
		return err
	}
	return defs.ENOTTY
}

// sysMapVirt matches mapvirt.c: sanitize the caller's flags down to a safe
// subset, bounds-check the target range against the user area, and create
// an anonymous or file-backed mapping.
func (d *Dispatch) sysMapVirt(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	flags, bytes, fdno, offset, virtualVa := a[0], a[1], a[2], a[3], a[4]

	safeFlags := vmUser | vmLocal
	if flags&VM_READ != 0 {
		safeFlags |= VM_READ
	}
	if flags&VM_WRITE != 0 {
		safeFlags |= VM_WRITE
	}
	if flags&VM_EXEC != 0 {
		safeFlags |= VM_EXEC
	}
	if flags&VM_FILE != 0 {
		safeFlags |= VM_FILE
	}
	if flags&VM_FIXED_VIRT != 0 {
		safeFlags |= VM_FIXED_VIRT
	}

	target, err := p.Vm.Userreadn(virtualVa, wordsz)
	if err != 0 {
		return err
	}
	if target < int(vm.USERMIN) {
		return defs.EINVAL
	}
	end := target + bytes
	if end < target || end >= 1<<31 {
		return defs.EINVAL
	}
	target = util.Rounddown(target, mem.PGSIZE)
	bytes = util.Roundup(bytes, mem.PGSIZE)

	perms := mem.PTE_U
	if safeFlags&VM_WRITE != 0 {
		perms |= mem.PTE_W
	}

	if safeFlags&VM_FILE != 0 {
		f, err := p.GetFd(fdno)
		if err != 0 {
			return err
		}
		p.Vm.Vmadd_file(target, bytes, perms, f.Fops, offset)
	} else {
		p.Vm.Vmadd_anon(target, bytes, perms)
	}
	return p.Vm.Userwriten(virtualVa, wordsz, target)
}

// sysUnmapVirt matches unmapvirt.c's bounds check plus a region removal.
func (d *Dispatch) sysUnmapVirt(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	virtual, bytes := a[0], a[1]
	if virtual < int(vm.USERMIN) {
		return defs.EINVAL
	}
	end := virtual + bytes
	if end < virtual || end >= 1<<31 {
		return defs.EINVAL
	}
	return p.Vm.Unmapvirt(virtual, bytes)
}

// sysMprotect matches mprotect.c's page-aligned bounds check plus a
// permission rewrite over every covered page.
func (d *Dispatch) sysMprotect(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	virtual, bytes, flags := a[0], a[1], a[2]
	if virtual&(mem.PGSIZE-1) != 0 {
		return defs.EINVAL
	}
	if virtual < int(vm.USERMIN) {
		return defs.ENOMEM
	}
	end := virtual + bytes
	if end < virtual || end >= 1<<31 {
		return defs.ENOMEM
	}
	if flags&^(VM_READ|VM_WRITE|VM_EXEC) != 0 {
		return defs.EINVAL
	}
	return p.Vm.Mprotect(virtual, bytes, flags&VM_WRITE != 0)
}

// sysPrepExec matches prepexec.c: sweep cloexec fds, then wipe every
// usermode mapping, keeping pid/fd table/threads untouched.
func (d *Dispatch) sysPrepExec(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	return p.Exec()
}

// sysFork matches fork.c: clone the caller into a new process, write its
// pid back to the parent.
func (d *Dispatch) sysFork(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	pidoutVa := a[0]
	child, err := d.Procs.ForkProcess(cpu, p)
	if err != 0 {
		return err
	}
	return p.Vm.Userwriten(pidoutVa, wordsz, int(child.Pid))
}

// sysWaitpid matches waitpid.c: wait, then write both the reaped pid and
// its exit status back to userspace.
func (d *Dispatch) sysWaitpid(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	pid, pidoutVa, statusoutVa, options := a[0], a[1], a[2], a[3]
	out, status, err := d.Procs.WaitProcess(cpu, p.Pid, defs.Pid_t(pid), options)
	if err != 0 {
		return err
	}
	if err := p.Vm.Userwriten(pidoutVa, wordsz, int(out)); err != 0 {
		return defs.EINVAL
	}
	if err := p.Vm.Userwriten(statusoutVa, wordsz, status); err != 0 {
		return defs.EINVAL
	}
	return 0
}

// sysExit matches exit.c: exit(2) never returns to its caller, so the
// original's ENOTRECOVERABLE tail is unreachable in practice — kept for
// the same reason the original keeps it, as a marker if it somehow did.
func (d *Dispatch) sysExit(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	status := a[0]
	d.Procs.Exit(cpu, p.Pid, defs.MkExitStatus(status))
	return defs.ENOTRECOVERABLE
}

// sysGetPid matches getpid.c: get_ppid selects pid vs. parent pid.
func (d *Dispatch) sysGetPid(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	pidoutVa, getPpid := a[0], a[1]
	pid := p.Pid
	if getPpid != 0 {
		pid = p.Parent
	}
	return p.Vm.Userwriten(pidoutVa, wordsz, int(pid))
}

// sysGetTid matches gettid.c. The original returns the tid directly as
// the call's return value, overloading the same register HandleSystemCall
// otherwise uses for an errno; this core keeps Err_t strictly 0-or-error
// everywhere else, so the tid is written out through a pointer instead,
// the same adaptation sysGetPid already makes for pid_t.
func (d *Dispatch) sysGetTid(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	tidoutVa := a[0]
	thr := d.Procs.CurrentThread(cpu)
	return p.Vm.Userwriten(tidoutVa, wordsz, int(thr.Tid))
}

// sysInfo matches info.c's sysinfo(2)-style multiplexed query.
func (d *Dispatch) sysInfo(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	cmd, resultWordVa, resultStrVa, arg := a[0], a[1], a[2], a[3]
	switch cmd {
	case SYSINFO_FREE_RAM_KB:
		global, globalPmap, _, _ := d.Phys.Pgcount()
		freeKB := (global + globalPmap) * mem.PGSIZE / 1024
		return p.Vm.Userwriten(resultWordVa, wordsz, freeKB)
	case SYSINFO_TOTAL_RAM_KB:
		totalKB := d.Phys.Total() * mem.PGSIZE / 1024
		return p.Vm.Userwriten(resultWordVa, wordsz, totalKB)
	case SYSINFO_OS_VERSION:
		maxLen := arg
		if maxLen > 255 {
			maxLen = 255
		}
		s := osVersionString
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		if err := p.Vm.K2user([]byte(s+"\x00"), resultStrVa); err != 0 {
			return err
		}
		version := (osVersionMinor & 0xff) | ((osVersionMajor & 0xff) << 8)
		return p.Vm.Userwriten(resultWordVa, wordsz, version)
	case SYSINFO_IS_SUPPORTED:
		if arg < numSysinfoCmds {
			return 0
		}
		return defs.ENOSYS
	default:
		return defs.ENOSYS
	}
}

// timezoneOffsetNs mirrors time.c's TODO-flagged hardcoded offset (UTC+10,
// matching the hardcoded "Australia/Sydney" tzString below).
const timezoneOffsetNs = int64(1000000000) * 60 * 60 * 10

const tzString = "Australia/Sydney"

// sysTime matches time.c's four sub-operations.
func (d *Dispatch) sysTime(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	ptr, op, length, ptr2 := a[0], a[1], a[2], a[3]
	switch op {
	case 0: // get local time
		tv := d.Clock.Now() + timezoneOffsetNs
		return p.Vm.Userwriten(ptr, 8, int(tv))
	case 1: // set local time
		_, err := p.Vm.Userreadn(ptr, 8)
		if err != 0 {
			return err
		}
		return defs.ENOSYS
	case 2: // get timezone
		if len(tzString) >= length {
			return defs.ENAMETOOLONG
		}
		if err := p.Vm.K2user([]byte(tzString+"\x00"), ptr); err != 0 {
			return err
		}
		return p.Vm.Userwriten(ptr2, 8, int(timezoneOffsetNs))
	case 3: // set timezone
		return defs.ENOSYS
	default:
		return defs.EINVAL
	}
}

// sysNanosleep matches nanosleep.c: sleep for the requested duration,
// reporting back how much of it actually elapsed (always the full amount
// in this core, since sleeps here can't yet be interrupted by a signal —
// the same gap the original's own TODO flags).
func (d *Dispatch) sysNanosleep(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	waitVa, remainVa := a[0], a[1]
	waitNs, err := p.Vm.Userreadn(waitVa, 8)
	if err != 0 {
		return defs.EFAULT
	}
	start := d.Clock.Now()
	d.Clock.SleepNano(cpu, int64(waitNs))
	remain := d.Clock.Now() - start
	if remain < 0 {
		remain = 0
	}
	return p.Vm.Userwriten(remainVa, 8, int(remain))
}

// sysAlarm matches alarm.c: install a one-shot alarm, replacing any
// prior one, and write back InstallAlarm's result, which is always 0;
// the time left on a replaced alarm is not reported.
func (d *Dispatch) sysAlarm(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	inVa, outVa := a[0], a[1]
	alarmUs, err := p.Vm.Userreadn(inVa, 8)
	if err != 0 {
		return err
	}
	remainingUs := d.Procs.InstallAlarm(cpu, p, alarmUs)
	return p.Vm.Userwriten(outVa, 8, int(remainingUs))
}

// sysSignal matches signal.c's three-way op switch, delegated to
// proc.Table.Signal.
func (d *Dispatch) sysSignal(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	op, ptrArg, sigNum, arg := a[0], a[1], a[2], a[3]
	return d.Procs.Signal(cpu, p, op, ptrArg, sigNum, defs.Pid_t(arg))
}

// sysPgid matches pgid.c's getpgid/setpgid pair.
func (d *Dispatch) sysPgid(cpu int, p *proc.Proc_t, a Args) defs.Err_t {
	op, pidPtrVa, argPtrVa := a[0], a[1], a[2]
	pidRaw, err := p.Vm.Userreadn(pidPtrVa, wordsz)
	if err != 0 {
		return err
	}
	target := d.Procs.GetProcessFromPid(defs.Pid_t(pidRaw))
	if target == nil {
		return defs.EINVAL
	}
	switch op {
	case 0: // getpgid
		return p.Vm.Userwriten(pidPtrVa, wordsz, int(target.Pgid()))
	case 1: // setpgid
		pgid, err := p.Vm.Userreadn(argPtrVa, wordsz)
		if err != 0 {
			return err
		}
		target.SetPgid(defs.Pid_t(pgid))
		return 0
	default:
		return defs.EINVAL
	}
}
