// Package fd is the per-process file descriptor: the {ops, permission}
// pair a descriptor table slot holds, and the working-directory state
// every process tracks for resolving relative paths. Adapted from the
// teacher's fd/fd.go.
package fd

import (
	"sync"

	"merlon/bpath"
	"merlon/defs"
	"merlon/fdops"
	"merlon/ustr"
)

const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t is an open file descriptor: its operations (a reference, since
// Fdops_i is always implemented with a pointer receiver) and permission
// bits.
type Fd_t struct {
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates fd by reopening its underlying description, the way
// dup/dup2/fork share one open-file-description across two descriptors.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes f, panicking if close fails — used at points where
// failure would mean a cache/refcounting bug, not a user error.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("fd: close must succeed")
	}
}

// Cwd_t is a process's current working directory: its open fd and the
// canonical path it resolves to, serialized against concurrent chdirs.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(ustr.Ustr{}, cwd.Path...)
	full = append(full, '/')
	return append(full, p...)
}

// Canonicalpath resolves p relative to cwd into an absolute, ".."-free
// path.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

func MkRootCwd(fd *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: fd, Path: ustr.MkUstrRoot()}
}
