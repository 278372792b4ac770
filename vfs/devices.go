package vfs

import (
	"math/rand"
	"sync"

	"merlon/defs"
	"merlon/fdops"
	"merlon/sema"
)

// devStat fills in the common character-device stat fields (mode bits
// mirror S_IFCHR|S_IRWXU|S_IRWXG|S_IRWXO from the teacher's InitNullDevice/
// InitRandomDevice).
func devStat(st fdops.StatWriter, mode uint) {
	st.Wmode(mode)
}

const (
	sIFCHR = 0020000
	sIFIFO = 0010000
	rwxAll = 0777
)

// Null_t is /dev/null: writes are silently discarded, reads return EOF
// immediately. Grounded on original_source/kernel/dev/null.c's ReadWrite,
// which just returns success without touching the transfer.
type Null_t struct {
	Nosock_t
	Nodir_t
}

func NewNull() *Null_t { return &Null_t{} }

func (n *Null_t) Close() defs.Err_t                          { return 0 }
func (n *Null_t) Reopen() defs.Err_t                          { return 0 }
func (n *Null_t) Read(dst fdops.Userio_i) (int, defs.Err_t)   { return 0, 0 }
func (n *Null_t) Write(src fdops.Userio_i) (int, defs.Err_t)  { return src.Remain(), 0 }
func (n *Null_t) Pread(dst fdops.Userio_i, off int) (int, defs.Err_t)  { return 0, 0 }
func (n *Null_t) Pwrite(src fdops.Userio_i, off int) (int, defs.Err_t) { return src.Remain(), 0 }
func (n *Null_t) Truncate(newlen uint) defs.Err_t                      { return 0 }
func (n *Null_t) Lseek(off, whence int) (int, defs.Err_t)              { return 0, 0 }
func (n *Null_t) Fstat(st fdops.StatWriter) defs.Err_t {
	devStat(st, sIFCHR|rwxAll)
	return 0
}

// Random_t is /dev/rand: reads yield an endless stream of random bytes.
// Grounded on original_source/kernel/dev/random.c's Read loop.
type Random_t struct {
	Nosock_t
	Nodir_t
}

func NewRandom() *Random_t { return &Random_t{} }

func (r *Random_t) Close() defs.Err_t { return 0 }
func (r *Random_t) Reopen() defs.Err_t { return 0 }
func (r *Random_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, dst.Remain())
	rand.Read(buf)
	return dst.Uiowrite(buf)
}
func (r *Random_t) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, defs.EINVAL }
func (r *Random_t) Pread(dst fdops.Userio_i, off int) (int, defs.Err_t)  { return r.Read(dst) }
func (r *Random_t) Pwrite(src fdops.Userio_i, off int) (int, defs.Err_t) { return 0, defs.EINVAL }
func (r *Random_t) Truncate(newlen uint) defs.Err_t             { return defs.EINVAL }
func (r *Random_t) Lseek(off, whence int) (int, defs.Err_t)     { return 0, defs.ESPIPE }
func (r *Random_t) Fstat(st fdops.StatWriter) defs.Err_t {
	devStat(st, sIFCHR|rwxAll)
	return 0
}

// PipeSize is the mailbox capacity backing an unnamed pipe, matching
// pipe.c's PIPE_SIZE.
const PipeSize = 2048

// Pipe_t is one end of an unnamed pipe: reads/writes go through a shared
// mailbox, and once broken (the other end closed) writes fail with EPIPE
// and reads return EOF, matching pipe.c's ReadWrite/BreakPipe. The
// original represents a pipe as a single vnode shared by both
// descriptors; this port gives each end its own Pipe_t over the same
// Mailbox so each can know its *peer* and break it on close.
type Pipe_t struct {
	Nosock_t
	Nodir_t

	mbox   *sema.Mailbox
	mu     sync.Mutex
	broken bool
	cpu    int
	peer   *Pipe_t
}

func NewPipe(mbox *sema.Mailbox, cpu int) *Pipe_t {
	return &Pipe_t{mbox: mbox, cpu: cpu}
}

// NewPipePair returns the read and write ends of one new pipe, sharing a
// Mailbox and linked as each other's peer, matching CreatePipe allocating
// a single mailbox-backed vnode that both descriptors reference.
func NewPipePair(mbox *sema.Mailbox, cpu int) (read, write *Pipe_t) {
	read = NewPipe(mbox, cpu)
	write = NewPipe(mbox, cpu)
	read.peer, write.peer = write, read
	return read, write
}

// Break marks the pipe broken, the way BreakPipe does when the peer end
// closes.
func (p *Pipe_t) Break() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broken = true
}

func (p *Pipe_t) isBroken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.broken
}

// Close breaks the peer end, the way a descriptor's last close does in
// the original: a reader's future reads see EOF once its writer is gone,
// and a writer's future writes see EPIPE once its reader is gone.
func (p *Pipe_t) Close() defs.Err_t {
	if p.peer != nil {
		p.peer.Break()
	}
	return 0
}

func (p *Pipe_t) Reopen() defs.Err_t { return 0 }

func (p *Pipe_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if p.isBroken() {
		return 0, 0
	}
	before := dst.Remain()
	err := p.mbox.Read(p.cpu, dst)
	return before - dst.Remain(), err
}

func (p *Pipe_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if p.isBroken() {
		return 0, defs.EPIPE
	}
	before := src.Remain()
	err := p.mbox.Write(p.cpu, src)
	return before - src.Remain(), err
}

func (p *Pipe_t) Pread(dst fdops.Userio_i, off int) (int, defs.Err_t)  { return p.Read(dst) }
func (p *Pipe_t) Pwrite(src fdops.Userio_i, off int) (int, defs.Err_t) { return p.Write(src) }
func (p *Pipe_t) Truncate(newlen uint) defs.Err_t                      { return defs.EINVAL }
func (p *Pipe_t) Lseek(off, whence int) (int, defs.Err_t)              { return 0, defs.ESPIPE }
func (p *Pipe_t) Fstat(st fdops.StatWriter) defs.Err_t {
	devStat(st, sIFIFO|rwxAll)
	return 0
}

var (
	_ Vnode_i = (*Null_t)(nil)
	_ Vnode_i = (*Random_t)(nil)
	_ Vnode_i = (*Pipe_t)(nil)
)
