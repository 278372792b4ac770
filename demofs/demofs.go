// Package demofs is a minimal mount-creator filesystem: an in-memory
// inode table with the same inode-numbering scheme as
// original_source/kernel/fs/demofs/demofs_private.h (the top bit of an
// inode number marks it a directory, the low bits name a sector), used
// to seed a mountable root filesystem without a real on-disk layout.
// Grounded on demofs_private.h's INODE_TO_SECTOR/INODE_IS_DIR/
// INODE_TO_DIR macros and demofs_read_directory_entry/demofs_follow's
// contract (a directory's entries are a flat name->child-inode lookup).
//
// The original backs this with real sectors read through an open_file
// over a Disk_i; reproducing that here would mean reproducing mkfs's
// on-disk layout tooling as well, which is out of scope for the Vnode_i
// surface vfs/proc actually exercise, so this keeps the inode-numbering
// contract but stores node content in memory instead of on a simulated
// disk.
package demofs

import (
	"sync"

	"merlon/defs"
	"merlon/fdops"
	"merlon/vfs"
)

// Ino is a demofs inode number: INODE_IS_DIR(ino) is its top bit.
type Ino uint32

const dirBit Ino = 1 << 31

func (i Ino) Sector() uint32 { return uint32(i) & 0xFFFFFF }
func (i Ino) IsDir() bool    { return i&dirBit != 0 }
func (i Ino) AsDir() Ino     { return i | dirBit }

const MaxNameLength = 24

type node struct {
	mu       sync.Mutex
	ino      Ino
	isDir    bool
	children map[string]Ino
	data     []byte
}

// FS is a demofs instance: its inode table and the next free sector
// number to hand out.
type FS struct {
	mu        sync.Mutex
	nodes     map[Ino]*node
	nextInode uint32
	RootIno   Ino
}

// Mount creates a fresh demofs with an empty root directory.
func Mount() *FS {
	fs := &FS{nodes: make(map[Ino]*node), nextInode: 1}
	root := Ino(0).AsDir()
	fs.nodes[root] = &node{ino: root, isDir: true, children: make(map[string]Ino)}
	fs.RootIno = root
	return fs
}

func (fs *FS) alloc(isDir bool) *node {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	sec := fs.nextInode
	fs.nextInode++
	ino := Ino(sec)
	if isDir {
		ino = ino.AsDir()
	}
	n := &node{ino: ino, isDir: isDir}
	if isDir {
		n.children = make(map[string]Ino)
	}
	fs.nodes[ino] = n
	return n
}

func (fs *FS) get(ino Ino) *node {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.nodes[ino]
}

// RootVnode returns the root directory, mountable via vfs.MountTable.
func (fs *FS) RootVnode() vfs.Vnode_i { return &Vnode{fs: fs, n: fs.get(fs.RootIno)} }

// Vnode is a demofs inode as a vfs.Vnode_i.
type Vnode struct {
	vfs.Nosock_t
	fs *FS
	n  *node
}

func (v *Vnode) IsDir() bool { return v.n.isDir }

func (v *Vnode) Lookup(name string) (vfs.Vnode_i, defs.Err_t) {
	if !v.n.isDir {
		return nil, defs.ENOTDIR
	}
	name = vfs.Shortname(name)
	v.n.mu.Lock()
	child, ok := v.n.children[name]
	v.n.mu.Unlock()
	if !ok {
		return nil, defs.ENOENT
	}
	return &Vnode{fs: v.fs, n: v.fs.get(child)}, 0
}

func (v *Vnode) Create(name string, excl bool) (vfs.Vnode_i, defs.Err_t) {
	if !v.n.isDir {
		return nil, defs.ENOTDIR
	}
	if len(name) > MaxNameLength {
		return nil, defs.ENAMETOOLONG
	}
	name = vfs.Shortname(name)
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	if existing, ok := v.n.children[name]; ok {
		if excl {
			return nil, defs.EEXIST
		}
		return &Vnode{fs: v.fs, n: v.fs.get(existing)}, 0
	}
	n := v.fs.alloc(false)
	v.n.children[name] = n.ino
	return &Vnode{fs: v.fs, n: n}, 0
}

func (v *Vnode) Mkdir(name string) defs.Err_t {
	if !v.n.isDir {
		return defs.ENOTDIR
	}
	if len(name) > MaxNameLength {
		return defs.ENAMETOOLONG
	}
	name = vfs.Shortname(name)
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	if _, ok := v.n.children[name]; ok {
		return defs.EEXIST
	}
	n := v.fs.alloc(true)
	v.n.children[name] = n.ino
	return 0
}

func (v *Vnode) Unlink(name string) defs.Err_t {
	if !v.n.isDir {
		return defs.ENOTDIR
	}
	name = vfs.Shortname(name)
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	child, ok := v.n.children[name]
	if !ok {
		return defs.ENOENT
	}
	if child.IsDir() {
		return defs.EISDIR
	}
	delete(v.n.children, name)
	return 0
}

func (v *Vnode) Close() defs.Err_t  { return 0 }
func (v *Vnode) Reopen() defs.Err_t { return 0 }

func (v *Vnode) Pread(dst fdops.Userio_i, off int) (int, defs.Err_t) {
	if v.n.isDir {
		return 0, defs.EISDIR
	}
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	if off >= len(v.n.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(v.n.data[off:])
	return n, err
}

func (v *Vnode) Pwrite(src fdops.Userio_i, off int) (int, defs.Err_t) {
	if v.n.isDir {
		return 0, defs.EISDIR
	}
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	need := off + src.Remain()
	if need > len(v.n.data) {
		grown := make([]byte, need)
		copy(grown, v.n.data)
		v.n.data = grown
	}
	return src.Uioread(v.n.data[off:])
}

func (v *Vnode) Read(dst fdops.Userio_i) (int, defs.Err_t)  { return v.Pread(dst, 0) }
func (v *Vnode) Write(src fdops.Userio_i) (int, defs.Err_t) { return v.Pwrite(src, 0) }

func (v *Vnode) Truncate(newlen uint) defs.Err_t {
	if v.n.isDir {
		return defs.EISDIR
	}
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	if int(newlen) <= len(v.n.data) {
		v.n.data = v.n.data[:newlen]
		return 0
	}
	grown := make([]byte, newlen)
	copy(grown, v.n.data)
	v.n.data = grown
	return 0
}

func (v *Vnode) Lseek(off, whence int) (int, defs.Err_t) {
	if v.n.isDir {
		return 0, defs.EISDIR
	}
	v.n.mu.Lock()
	sz := len(v.n.data)
	v.n.mu.Unlock()
	switch whence {
	case defs.SEEK_END:
		return sz + off, 0
	default:
		return off, 0
	}
}

func (v *Vnode) Fstat(st fdops.StatWriter) defs.Err_t {
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	st.Wino(uint(v.n.ino))
	mode := uint(0644)
	if v.n.isDir {
		mode = 0755 | 040000
	}
	st.Wmode(mode)
	st.Wsize(uint(len(v.n.data)))
	return 0
}

var _ vfs.Vnode_i = (*Vnode)(nil)
