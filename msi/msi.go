// Package msi allocates MSI interrupt vectors for hal, tracking which
// vectors in the platform's MSI range are currently assigned to a driver.
// Adapted from the teacher's msi/msi.go; Alloc returns ok=false on
// exhaustion instead of panicking, since vector exhaustion is a runtime
// condition a driver attach can recover from (reject the device) rather
// than an initialization-time bug.
package msi

import "sync"

// Msivec_t is an MSI interrupt vector number.
type Msivec_t uint

type Msivecs_t struct {
	sync.Mutex
	avail map[Msivec_t]bool
}

func New(vectors []Msivec_t) *Msivecs_t {
	m := &Msivecs_t{avail: make(map[Msivec_t]bool, len(vectors))}
	for _, v := range vectors {
		m.avail[v] = true
	}
	return m
}

// Default covers the same 56..63 range the teacher reserves.
func Default() *Msivecs_t {
	return New([]Msivec_t{56, 57, 58, 59, 60, 61, 62, 63})
}

func (m *Msivecs_t) Alloc() (Msivec_t, bool) {
	m.Lock()
	defer m.Unlock()
	for v := range m.avail {
		delete(m.avail, v)
		return v, true
	}
	return 0, false
}

func (m *Msivecs_t) Free(v Msivec_t) {
	m.Lock()
	defer m.Unlock()
	if m.avail[v] {
		panic("msi: double free")
	}
	m.avail[v] = true
}
