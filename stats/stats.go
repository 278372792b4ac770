// Package stats holds the compile-time-gated accounting counters used
// throughout the core (per-thread tick counts, per-CPU idle cycles) and a
// way to dump them in pprof's wire format, so the same tooling that reads
// a Go service's /debug/pprof/profile can read a snapshot of this kernel's
// internal counters. Adapted from the teacher's stats/stats.go: the
// Rdtsc()-based cycle counter (runtime.Rdtsc, a patched-runtime hook) is
// replaced with wall-clock nanoseconds, since a hosted process has no
// portable way to read the TSC.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/pprof/profile"
)

// Stats/Timing gate whether counters do anything at all, matching the
// teacher's pattern of compiling accounting out entirely when unused.
const Stats = true
const Timing = true

// Counter_t is a statistical counter, e.g. "page faults handled".
type Counter_t int64

// Cycles_t accumulates elapsed nanoseconds for a timed region.
type Cycles_t int64

func Now() uint64 {
	if !Timing {
		return 0
	}
	return uint64(time.Now().UnixNano())
}

func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(unsafe.Pointer(c)), 1)
	}
}

func (c *Counter_t) Add(n int64) {
	if Stats {
		atomic.AddInt64((*int64)(unsafe.Pointer(c)), n)
	}
}

// Add accumulates the nanoseconds elapsed since start (a Now() value).
func (c *Cycles_t) Add(start uint64) {
	if Timing {
		atomic.AddInt64((*int64)(unsafe.Pointer(c)), int64(Now()-start))
	}
}

// Stats2String renders every Counter_t/Cycles_t field of st as text,
// matching the teacher's reflection-based dump.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}

// Profile walks st's Counter_t/Cycles_t fields with reflection and builds
// a pprof Profile with one sample per field, labeled by field name: the
// same format a Go service would expose at /debug/pprof/profile, applied
// to kernel counters instead of goroutine stacks. No syscall in this core
// calls it.
func Profile(name string, st interface{}) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: name, Unit: "count"}},
		TimeNanos:  time.Now().UnixNano(),
		PeriodType: &profile.ValueType{Type: name, Unit: "count"},
		Period:     1,
	}
	fn := &profile.Function{ID: 1, Name: name}
	p.Function = []*profile.Function{fn}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p.Location = []*profile.Location{loc}

	v := reflect.ValueOf(st)
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		var val int64
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			val = int64(v.Field(i).Interface().(Counter_t))
		case strings.HasSuffix(t, "Cycles_t"):
			val = int64(v.Field(i).Interface().(Cycles_t))
		default:
			continue
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{val},
			Label:    map[string][]string{"field": {v.Type().Field(i).Name}},
		})
	}
	return p
}
