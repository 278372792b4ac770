// Package tinfo tracks per-thread kill/doom state and owns the process-wide
// table of thread notes. proc's SIGKILL delivery marks notes killed and
// doomed; nothing in this core reads those flags back to end a thread.
// Adapted from the teacher's
// tinfo.go: that version stashed the "current" Tnote_t in a TLS slot via a
// patched runtime (runtime.Gptr/Setgptr), which this core has no use for —
// every package here already threads its current thread/cpu through
// explicit parameters (sched.Scheduler.Current(cpu)), so Current/SetCurrent
// are dropped rather than emulated with a goroutine-local workaround.
package tinfo

import (
	"sync"

	"merlon/defs"
)

// Tnote_t is a thread's kill/doom state, looked up by tid rather than
// stashed in thread-local storage.
type Tnote_t struct {
	Alive    bool
	Killed   bool
	Isdoomed bool

	mu       sync.Mutex
	Killnaps struct {
		Killch chan bool
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread has been marked doomed.
func (t *Tnote_t) Doomed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Isdoomed
}

// Doom marks the thread doomed. It only records the flag; nothing in this
// core checks it, so the thread is not terminated by it.
func (t *Tnote_t) Doom() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Isdoomed = true
}

func (t *Tnote_t) Kill(err defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Killed = true
	t.Killnaps.Kerr = err
	if t.Killnaps.Killch != nil {
		select {
		case t.Killnaps.Killch <- true:
		default:
		}
	}
}

// Threadinfo_t is the process-wide table of thread notes, keyed by tid.
type Threadinfo_t struct {
	mu    sync.Mutex
	notes map[defs.Tid_t]*Tnote_t
}

func NewThreadinfo() *Threadinfo_t {
	return &Threadinfo_t{notes: make(map[defs.Tid_t]*Tnote_t)}
}

// Add registers a fresh, alive note for tid.
func (ti *Threadinfo_t) Add(tid defs.Tid_t) *Tnote_t {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	tn := &Tnote_t{Alive: true}
	tn.Killnaps.Killch = make(chan bool, 1)
	ti.notes[tid] = tn
	return tn
}

// Get looks up tid's note, or nil if it has none (already reaped, or
// never registered).
func (ti *Threadinfo_t) Get(tid defs.Tid_t) *Tnote_t {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.notes[tid]
}

// Remove deletes tid's note.
func (ti *Threadinfo_t) Remove(tid defs.Tid_t) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	delete(ti.notes, tid)
}

// Each calls f for every registered note.
func (ti *Threadinfo_t) Each(f func(defs.Tid_t, *Tnote_t)) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	for tid, tn := range ti.notes {
		f(tid, tn)
	}
}
