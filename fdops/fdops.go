// Package fdops defines the capability-set interfaces that every open file
// description implements, reconstructed from how the teacher's vm and ufs
// packages consume them (vm.Userbuf_t/Fakeubuf_t satisfy Userio_i;
// ufs/driver.go's console_t satisfies the poll-related methods) even
// though the teacher's own fdops package is an empty stub in the retrieved
// source. This is the vnode-operation polymorphism spec.md describes: a
// single interface with a small, consistent method set that console,
// pipe, regular files, and devices all implement differently.
package fdops

import "merlon/defs"

// Userio_i abstracts a transfer's source or destination: a user buffer, an
// iovec array, or a kernel-only fake buffer standing in for one. Both
// vm.Userbuf_t and vm.Fakeubuf_t satisfy this.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Ready_t is a bitmask of the readiness conditions a poll can wait for.
type Ready_t int

const (
	R_READ Ready_t = 1 << iota
	R_WRITE
	R_ERROR
	R_HUP
)

// Pollmsg_t is what a waiter registers with a pollable object: which
// conditions it cares about and a channel woken when any of them hold.
type Pollmsg_t struct {
	Events Ready_t
	Notif  chan Ready_t
}

// Fdops_i is the operation set every open file description (regular file,
// directory, pipe, console, null/rand device) implements. Fops that don't
// make sense for a given kind return ENOTTY/ESPIPE/EINVAL as appropriate,
// the same way the teacher's vnode methods do for e.g. Seek on a pipe.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st StatWriter) defs.Err_t
	Read(dst Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(src Userio_i) (int, defs.Err_t)
	Truncate(newlen uint) defs.Err_t
	Pread(dst Userio_i, offset int) (int, defs.Err_t)
	Pwrite(src Userio_i, offset int) (int, defs.Err_t)
	// Lseek computes the new offset for whence (SEEK_SET/CUR/END) and
	// either the current position or file size.
	Lseek(off, whence int) (int, defs.Err_t)
	Accept(sa Userio_i) (int, defs.Err_t)
	Bind(sa []uint8) defs.Err_t
	Connect(sa []uint8) defs.Err_t
	Listen(backlog int) defs.Err_t
	Sendmsg(src Userio_i, sa []uint8, cmsg []uint8, flags int) (int, defs.Err_t)
	Recvmsg(dst Userio_i, fromsa Userio_i, cmsg Userio_i, flags int) (int, Ready_t, defs.Err_t)
	Pollone(pm Pollmsg_t) (Ready_t, defs.Err_t)
	Fcntl(cmd, opt int) int
	Getsockopt(opt int, bufarg Userio_i, intarg int) (int, defs.Err_t)
	Setsockopt(level, opt int, bufarg Userio_i, intarg int) defs.Err_t
	Shutdown(read, write bool) defs.Err_t
}

// StatWriter is the minimal surface Fstat needs from a stat_record,
// avoiding an import cycle between fdops and stat.
type StatWriter interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}

// Cons_poll/Cons_read/Cons_write are the console's three operations,
// split out because the console is wired in before descriptor tables
// exist (early boot log output) and so is accessed directly rather than
// through the full Fdops_i set.
type Console_i interface {
	Cons_read(dst Userio_i, offset int) (int, defs.Err_t)
	Cons_write(src Userio_i, offset int) (int, defs.Err_t)
	Cons_poll(pm Pollmsg_t) (Ready_t, defs.Err_t)
}
