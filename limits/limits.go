// Package limits tracks system-wide resource quotas: process count,
// vnode count, outstanding pipes, and cached block-device pages.
// Adapted from the teacher's limits/limits.go, with the networking-only
// fields (Futexes, Arpents, Routes, Tcpsegs, Socks) trimmed — there is no
// inet/unet/bnet stack in this core, so those quotas would never be
// charged against; see DESIGN.md.
package limits

import (
	"sync/atomic"
	"unsafe"
)

// Sysatomic_t is a numeric limit that can be atomically charged and
// refunded.
type Sysatomic_t int64

// Syslimit_t tracks system-wide resource limits.
type Syslimit_t struct {
	// protected by the process table lock
	Sysprocs int
	// protected by the vfs mount/vnode lock
	Vnodes int
	// pipes includes every open pipe end.
	Pipes Sysatomic_t
	// bdev cache pages
	Blocks int
}

var Syslimit *Syslimit_t = MkSysLimit()

func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1e4,
		Vnodes:   20000,
		Pipes:    1e4,
		Blocks:   100000,
	}
}

func (s *Sysatomic_t) aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

// Given increases the limit by n.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(s.aptr(), int64(n))
}

// Taken tries to decrement the limit by n, reporting success.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64(s.aptr(), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), int64(n))
	return false
}

func (s *Sysatomic_t) Take() bool { return s.Taken(1) }
func (s *Sysatomic_t) Give()      { s.Given(1) }
