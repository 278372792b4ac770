// Command kernel is the boot entry point: it brings up physical memory,
// the kernel heap, the scheduler on every configured CPU, the process
// table, and the virtual filesystem, then starts the init process.
// Grounded on original_source/kernel/init/main.c's KernelMain boot
// sequence (InitPhys/InitHeap/InitBootstrapCpu/InitVirt/InitOtherCpu),
// reproduced here as a sequence of this core's own package
// constructors rather than the original's void functions over global
// state.
package main

import (
	"flag"
	"time"

	"merlon/defs"
	"merlon/demofs"
	"merlon/hal"
	"merlon/heap"
	"merlon/klog"
	"merlon/mem"
	"merlon/proc"
	"merlon/sched"
	"merlon/syscalls"
	"merlon/thread"
	"merlon/timer"
	"merlon/vfs"
)

func main() {
	pages := flag.Int("pages", 32768, "physical memory size, in pages")
	heapBytes := flag.Int64("heap", 64<<20, "kernel heap quota, in bytes")
	ncpu := flag.Int("ncpu", 1, "number of CPUs to bring up, including the bootstrap CPU (max 2)")
	flag.Parse()

	// irql's per-CPU ladder only tracks the bootstrap CPU plus the single
	// optional secondary this core's concurrency model allows.
	if *ncpu < 1 {
		*ncpu = 1
	}
	if *ncpu > 2 {
		klog.Printf("kernel: clamping -ncpu=%d to 2, the most this core models", *ncpu)
		*ncpu = 2
	}

	klog.Printf("kernel: kernel is initialising...")

	phys := mem.New(*pages)
	klog.Printf("kernel: physical memory up (%d pages)", *pages)

	quota := heap.NewQuota(*heapBytes)
	klog.Printf("kernel: kernel heap quota %d bytes", *heapBytes)

	s := sched.New()
	idle := thread.New(defs.Tid_t(0), sched.NumPriorities-1, false, func(th *thread.Thread) {
		for {
			s.Schedule(0)
		}
	})
	s.SetIdle(0, idle)
	s.Spawn(0, idle, true)
	klog.Printf("kernel: bootstrap CPU scheduler running")

	clk := timer.New(s)

	tbl := proc.NewTable(phys, quota, s, clk)
	init := tbl.CreateProcess(0, 0)
	klog.Printf("kernel: init process created, pid %d", init.Pid)

	mt := vfs.NewMountTable()
	root := demofs.Mount()
	if err := mt.AddMount("", root.RootVnode()); err != 0 {
		klog.Printf("kernel: root mount failed: %v", err)
	} else {
		klog.Printf("kernel: root filesystem mounted (no disk driver wired; demofs in-memory root)")
	}

	ctl := hal.New()
	_ = ctl // interrupt controller brought up; no vector sources registered yet at this boot stage

	dispatch := &syscalls.Dispatch{Procs: tbl, Mounts: mt, Phys: phys, Clock: clk}
	_ = dispatch

	for cpu := 1; cpu < *ncpu; cpu++ {
		cpu := cpu
		secondary := thread.New(defs.Tid_t(cpu), sched.NumPriorities-1, false, func(th *thread.Thread) {
			for {
				s.Schedule(cpu)
			}
		})
		s.SetIdle(cpu, secondary)
		s.Spawn(cpu, secondary, true)
		klog.Printf("kernel: secondary CPU %d online", cpu)
	}

	klog.Printf("kernel: kernel is initialised, %d CPU(s) online", *ncpu)

	// Real hardware never returns from here; the bootstrap CPU keeps
	// scheduling forever the same way every idle thread's loop does.
	for {
		time.Sleep(time.Hour)
	}
}
