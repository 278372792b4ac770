// Package vfs is the virtual filesystem core: vnodes, open files, the
// mount table, and path lookup. Grounded on
// original_source/kernel/vfs/openfile.c (CreateOpenFile/
// ReferenceOpenFile/DereferenceOpenFile's refcounted open-file-over-vnode
// design, reproduced here as Openfile_t) and diskutil.c (AddVfsMount's
// name->vnode mount table).
package vfs

import (
	"sync"

	"merlon/defs"
	"merlon/fdops"
	"merlon/ustr"
)

// Vnode_i is a filesystem node: a regular file/device's Fdops_i transfer
// operations, plus the directory operations a path lookup walks through.
// Leaf nodes (regular files, devices) return ENOTDIR from the directory
// methods; directories return EISDIR/EINVAL from transfer methods that
// don't make sense on them.
type Vnode_i interface {
	fdops.Fdops_i
	IsDir() bool
	Lookup(name string) (Vnode_i, defs.Err_t)
	Create(name string, excl bool) (Vnode_i, defs.Err_t)
	Mkdir(name string) defs.Err_t
	Unlink(name string) defs.Err_t
}

// Nosock_t is embedded by every Vnode_i implementation in this package to
// satisfy Fdops_i's socket-only methods with ENOTTY/EINVAL, the same way
// the teacher's non-socket vnode methods reject operations that don't
// apply to them.
type Nosock_t struct{}

func (Nosock_t) Accept(fdops.Userio_i) (int, defs.Err_t)                { return 0, defs.EINVAL }
func (Nosock_t) Bind([]byte) defs.Err_t                                 { return defs.EINVAL }
func (Nosock_t) Connect([]byte) defs.Err_t                              { return defs.EINVAL }
func (Nosock_t) Listen(int) defs.Err_t                                  { return defs.EINVAL }
func (Nosock_t) Sendmsg(fdops.Userio_i, []byte, []byte, int) (int, defs.Err_t) {
	return 0, defs.EINVAL
}
func (Nosock_t) Recvmsg(fdops.Userio_i, fdops.Userio_i, fdops.Userio_i, int) (int, fdops.Ready_t, defs.Err_t) {
	return 0, 0, defs.EINVAL
}
func (Nosock_t) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) { return 0, 0 }
func (Nosock_t) Fcntl(cmd, opt int) int                                 { return int(defs.ENOTTY) }
func (Nosock_t) Getsockopt(int, fdops.Userio_i, int) (int, defs.Err_t)  { return 0, defs.EINVAL }
func (Nosock_t) Setsockopt(int, int, fdops.Userio_i, int) defs.Err_t    { return defs.EINVAL }
func (Nosock_t) Shutdown(bool, bool) defs.Err_t                         { return defs.EINVAL }

// Nodir_t is embedded by leaf (non-directory) vnodes to reject directory
// operations with ENOTDIR.
type Nodir_t struct{}

func (Nodir_t) IsDir() bool { return false }
func (Nodir_t) Lookup(string) (Vnode_i, defs.Err_t)      { return nil, defs.ENOTDIR }
func (Nodir_t) Create(string, bool) (Vnode_i, defs.Err_t) { return nil, defs.ENOTDIR }
func (Nodir_t) Mkdir(string) defs.Err_t                   { return defs.ENOTDIR }
func (Nodir_t) Unlink(string) defs.Err_t                  { return defs.ENOTDIR }

// MountTable is the name->root-vnode mapping AddVfsMount/RemoveVfsMount
// manage; "name" is the first path component after "/" (e.g. "dev", or
// the root itself under "").
type MountTable struct {
	mu     sync.Mutex
	mounts map[string]Vnode_i
}

func NewMountTable() *MountTable { return &MountTable{mounts: make(map[string]Vnode_i)} }

func (mt *MountTable) AddMount(name string, root Vnode_i) defs.Err_t {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if _, ok := mt.mounts[name]; ok {
		return defs.EEXIST
	}
	mt.mounts[name] = root
	return 0
}

func (mt *MountTable) RemoveMount(name string) defs.Err_t {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if _, ok := mt.mounts[name]; !ok {
		return defs.ENOENT
	}
	delete(mt.mounts, name)
	return 0
}

func (mt *MountTable) Root(name string) (Vnode_i, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	v, ok := mt.mounts[name]
	return v, ok
}

// Lookup resolves an absolute path against the mount table, walking one
// component at a time through Vnode_i.Lookup.
func (mt *MountTable) Lookup(path ustr.Ustr) (Vnode_i, defs.Err_t) {
	comps := splitPath(path)
	if len(comps) == 0 {
		root, ok := mt.Root("")
		if !ok {
			return nil, defs.ENOENT
		}
		return root, 0
	}
	cur, ok := mt.Root(comps[0])
	if !ok {
		root, ok := mt.Root("")
		if !ok {
			return nil, defs.ENOENT
		}
		cur = root
		for _, c := range comps {
			next, err := cur.Lookup(c)
			if err != 0 {
				return nil, err
			}
			cur = next
		}
		return cur, 0
	}
	for _, c := range comps[1:] {
		next, err := cur.Lookup(c)
		if err != 0 {
			return nil, err
		}
		cur = next
	}
	return cur, 0
}

func splitPath(p ustr.Ustr) []string {
	var comps []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				comps = append(comps, string(p[start:i]))
			}
			start = i + 1
		}
	}
	return comps
}

// Openfile_t wraps a Vnode_i with the per-open-instance state: a seek
// position and a refcount, exactly the teacher's CreateOpenFile/
// ReferenceOpenFile/DereferenceOpenFile triple, folded into Go methods
// instead of alloc/free-by-hand.
type Openfile_t struct {
	mu       sync.Mutex
	refs     int
	Node     Vnode_i
	CanRead  bool
	CanWrite bool
	seek     int
}

// CreateOpenFile wraps node, starting the reference count at 1.
func CreateOpenFile(node Vnode_i, canRead, canWrite bool) *Openfile_t {
	return &Openfile_t{refs: 1, Node: node, CanRead: canRead, CanWrite: canWrite}
}

func (of *Openfile_t) Reference() {
	of.mu.Lock()
	defer of.mu.Unlock()
	of.refs++
}

// Dereference drops a reference, returning true once the last one is
// gone (the caller should then release the underlying vnode).
func (of *Openfile_t) Dereference() bool {
	of.mu.Lock()
	defer of.mu.Unlock()
	of.refs--
	if of.refs < 0 {
		panic("vfs: over-dereferenced open file")
	}
	return of.refs == 0
}

func (of *Openfile_t) Close() defs.Err_t {
	if of.Dereference() {
		return of.Node.Close()
	}
	return 0
}

func (of *Openfile_t) Reopen() defs.Err_t {
	of.Reference()
	return 0
}

func (of *Openfile_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !of.CanRead {
		return 0, defs.EPERM
	}
	of.mu.Lock()
	off := of.seek
	of.mu.Unlock()
	n, err := of.Node.Pread(dst, off)
	if err == 0 {
		of.mu.Lock()
		of.seek += n
		of.mu.Unlock()
	}
	return n, err
}

func (of *Openfile_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if !of.CanWrite {
		return 0, defs.EPERM
	}
	of.mu.Lock()
	off := of.seek
	of.mu.Unlock()
	n, err := of.Node.Pwrite(src, off)
	if err == 0 {
		of.mu.Lock()
		of.seek += n
		of.mu.Unlock()
	}
	return n, err
}

func (of *Openfile_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return of.Node.Pread(dst, offset)
}

func (of *Openfile_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return of.Node.Pwrite(src, offset)
}

func (of *Openfile_t) Fstat(st fdops.StatWriter) defs.Err_t { return of.Node.Fstat(st) }
func (of *Openfile_t) Truncate(newlen uint) defs.Err_t      { return of.Node.Truncate(newlen) }

func (of *Openfile_t) Lseek(off, whence int) (int, defs.Err_t) {
	of.mu.Lock()
	defer of.mu.Unlock()
	if _, err := of.Node.Lseek(0, defs.SEEK_CUR); err == defs.ESPIPE {
		return 0, defs.ESPIPE
	}
	switch whence {
	case defs.SEEK_SET:
		of.seek = off
	case defs.SEEK_CUR:
		of.seek += off
	case defs.SEEK_END:
		n, err := of.Node.Lseek(off, whence)
		if err != 0 {
			return 0, err
		}
		of.seek = n
	default:
		return 0, defs.EINVAL
	}
	if of.seek < 0 {
		of.seek = 0
		return 0, defs.EINVAL
	}
	return of.seek, 0
}

func (of *Openfile_t) Accept(sa fdops.Userio_i) (int, defs.Err_t) { return of.Node.Accept(sa) }
func (of *Openfile_t) Bind(sa []byte) defs.Err_t                  { return of.Node.Bind(sa) }
func (of *Openfile_t) Connect(sa []byte) defs.Err_t               { return of.Node.Connect(sa) }
func (of *Openfile_t) Listen(backlog int) defs.Err_t              { return of.Node.Listen(backlog) }
func (of *Openfile_t) Sendmsg(src fdops.Userio_i, sa, cmsg []byte, flags int) (int, defs.Err_t) {
	return of.Node.Sendmsg(src, sa, cmsg, flags)
}
func (of *Openfile_t) Recvmsg(dst fdops.Userio_i, fromsa, cmsg fdops.Userio_i, flags int) (int, fdops.Ready_t, defs.Err_t) {
	return of.Node.Recvmsg(dst, fromsa, cmsg, flags)
}
func (of *Openfile_t) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return of.Node.Pollone(pm)
}
func (of *Openfile_t) Fcntl(cmd, opt int) int                          { return of.Node.Fcntl(cmd, opt) }
func (of *Openfile_t) Getsockopt(opt int, b fdops.Userio_i, i int) (int, defs.Err_t) {
	return of.Node.Getsockopt(opt, b, i)
}
func (of *Openfile_t) Setsockopt(level, opt int, b fdops.Userio_i, i int) defs.Err_t {
	return of.Node.Setsockopt(level, opt, b, i)
}
func (of *Openfile_t) Shutdown(read, write bool) defs.Err_t { return of.Node.Shutdown(read, write) }

var _ fdops.Fdops_i = (*Openfile_t)(nil)
