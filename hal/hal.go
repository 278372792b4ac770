// Package hal is the architecture hardware-abstraction layer: interrupt
// masking/EOI, MSI vector assignment (msi), and the panic-time diagnostic
// dump that disassembles the faulting instruction. Real register access
// and APIC programming have no meaning on a hosted Go process, so this
// models the same call shape (mask/unmask/eoi, simulated interrupt
// delivery) in software, the way the teacher's package split (msi as its
// own package, console_t in ufs/driver.go reading "hardware" from a file)
// treats hardware as something behind a narrow interface.
package hal

import (
	"fmt"
	"sync"

	"golang.org/x/arch/x86/x86asm"

	"merlon/msi"
)

// Handler is invoked when a vector fires. context is opaque to hal.
type Handler func(vector int, context any)

type vecEntry struct {
	handler Handler
	context any
	masked  bool
}

// Controller is the simulated interrupt controller: one per CPU, since a
// real APIC is per-CPU too.
type Controller struct {
	mu    sync.Mutex
	vecs  map[int]*vecEntry
	msi   *msi.Msivecs_t
}

func New() *Controller {
	return &Controller{vecs: make(map[int]*vecEntry), msi: msi.Default()}
}

// Register attaches handler to vector.
func (c *Controller) Register(vector int, h Handler, context any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vecs[vector] = &vecEntry{handler: h, context: context}
}

// RegisterMSI allocates the next free MSI vector and attaches handler to
// it, returning the assigned vector number.
func (c *Controller) RegisterMSI(h Handler, context any) (int, bool) {
	v, ok := c.msi.Alloc()
	if !ok {
		return 0, false
	}
	c.Register(int(v), h, context)
	return int(v), true
}

// Mask/Unmask simulate disabling/enabling a vector at the controller,
// the way a driver quiesces itself around a critical section.
func (c *Controller) Mask(vector int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.vecs[vector]; ok {
		e.masked = true
	}
}

func (c *Controller) Unmask(vector int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.vecs[vector]; ok {
		e.masked = false
	}
}

// Fire simulates hardware delivering an interrupt on vector: it's the
// entry point a device model calls instead of a real IRQ line, and EOI is
// implicit on return, matching the teacher's un-reentrant ISR convention.
func (c *Controller) Fire(vector int) bool {
	c.mu.Lock()
	e, ok := c.vecs[vector]
	c.mu.Unlock()
	if !ok || e.masked {
		return false
	}
	e.handler(vector, e.context)
	return true
}

// PanicDump formats a diagnostic table for an unrecoverable fault: the
// faulting PC, a short disassembly of the bytes around it, and a message.
// Grounded on golang.org/x/arch/x86/x86asm, which the teacher's go.mod
// already requires but never calls into (kernel.chentry.go is itself an
// ELF/machine-code tool, the closest thing to a use site in the pack).
func PanicDump(pc uint64, codeAroundPC []byte, msg string) string {
	var asm string
	if inst, err := x86asm.Decode(codeAroundPC, 64); err == nil {
		asm = inst.String()
	} else {
		asm = fmt.Sprintf("<undecodable: %v>", err)
	}
	return fmt.Sprintf("panic at pc=%#x: %s\n\tinstruction: %s", pc, msg, asm)
}
