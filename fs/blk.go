package fs

import (
	"container/list"
	"sync"

	"merlon/mem"
)

// BSIZE is the size of a disk block in bytes; it must equal mem.PGSIZE
// since a block's backing store is a single physical page.
const BSIZE = mem.PGSIZE

// Blockmem_i abstracts page allocation for block buffers, letting the
// block cache pull pages from mem.Physmem_t without importing it by
// concrete type.
type Blockmem_i interface {
	Alloc() (mem.Pa_t, *mem.Bytepg_t, bool)
	Free(mem.Pa_t)
	Refup(mem.Pa_t)
}

// Block_cb_i is implemented by callers wanting a release callback run
// when a block's last reference is dropped.
type Block_cb_i interface {
	Relse(*Bdev_block_t, string)
}

type blktype_t int

const (
	DataBlk   blktype_t = 0
	CommitBlk blktype_t = -1
	RevokeBlk blktype_t = -2
)

// Bdev_block_t is a cached disk block: its number, its backing page, and
// the disk/memory/callback it was created against.
type Bdev_block_t struct {
	sync.Mutex
	Block int
	Type  blktype_t
	Pa    mem.Pa_t
	Data  *mem.Bytepg_t
	Name  string
	Mem   Blockmem_i
	Disk  Disk_i
	Cb    Block_cb_i
}

type Bdevcmd_t uint

const (
	BDEV_WRITE Bdevcmd_t = 1
	BDEV_READ  Bdevcmd_t = 2
	BDEV_FLUSH Bdevcmd_t = 3
)

// BlkList_t wraps a list.List of block pointers, the unit a Disk_i
// request moves in bulk.
type BlkList_t struct {
	l *list.List
	e *list.Element
}

func MkBlkList() *BlkList_t {
	return &BlkList_t{l: list.New()}
}

func (bl *BlkList_t) Len() int { return bl.l.Len() }

func (bl *BlkList_t) PushBack(b *Bdev_block_t) { bl.l.PushBack(b) }

func (bl *BlkList_t) FrontBlock() *Bdev_block_t {
	if bl.l.Front() == nil {
		return nil
	}
	bl.e = bl.l.Front()
	return bl.e.Value.(*Bdev_block_t)
}

func (bl *BlkList_t) NextBlock() *Bdev_block_t {
	if bl.e == nil {
		return nil
	}
	bl.e = bl.e.Next()
	if bl.e == nil {
		return nil
	}
	return bl.e.Value.(*Bdev_block_t)
}

func (bl *BlkList_t) Apply(f func(*Bdev_block_t)) {
	for b := bl.FrontBlock(); b != nil; b = bl.NextBlock() {
		f(b)
	}
}

// Bdev_req_t describes one request to a Disk_i: a list of blocks, the
// command, and whether the caller waits on AckCh for completion.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Blks  *BlkList_t
	AckCh chan bool
	Sync  bool
}

func MkRequest(blks *BlkList_t, cmd Bdevcmd_t, sync bool) *Bdev_req_t {
	return &Bdev_req_t{Blks: blks, Cmd: cmd, Sync: sync, AckCh: make(chan bool)}
}

// Disk_i is the driver interface a block device implements: Start enqueues
// a request (returning false if it was serviced synchronously inline and
// needs no AckCh wait), Stats reports a human-readable summary.
type Disk_i interface {
	Start(*Bdev_req_t) bool
	Stats() string
}

func (blk *Bdev_block_t) Key() int { return blk.Block }

func (blk *Bdev_block_t) New_page() {
	pa, d, ok := blk.Mem.Alloc()
	if !ok {
		panic("fs: oom allocating block page")
	}
	blk.Pa = pa
	blk.Data = d
}

func (blk *Bdev_block_t) Free_page() { blk.Mem.Free(blk.Pa) }

func MkBlock(block int, s string, m Blockmem_i, d Disk_i, cb Block_cb_i) *Bdev_block_t {
	return &Bdev_block_t{Block: block, Name: s, Mem: m, Disk: d, Cb: cb}
}

func MkBlock_newpage(block int, s string, m Blockmem_i, d Disk_i, cb Block_cb_i) *Bdev_block_t {
	b := MkBlock(block, s, m, d, cb)
	b.New_page()
	return b
}

// Write synchronously writes the block to disk.
func (b *Bdev_block_t) Write() {
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_WRITE, true)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

// Write_async writes the block without waiting for completion.
func (b *Bdev_block_t) Write_async() {
	l := MkBlkList()
	l.PushBack(b)
	b.Disk.Start(MkRequest(l, BDEV_WRITE, false))
}

// Read synchronously reads the block from disk.
func (b *Bdev_block_t) Read() {
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_READ, true)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

func (b *Bdev_block_t) Done(s string) {
	if b.Cb == nil {
		panic("fs: Done called on a block with no callback")
	}
	b.Cb.Relse(b, s)
}

// Cache is a refcounted block cache keyed by block number. The teacher's
// Bdev_block_t carries an *Objref_t into a generic evicting LRU cache
// package that isn't present in the retrieved source (only super.go and
// blk.go were pulled in); this replaces it with a plain map plus
// explicit Get/Relse refcounting, which is all the rest of this core's fs
// code needs from "a cache of blocks."
type Cache struct {
	mu      sync.Mutex
	blocks  map[int]*Bdev_block_t
	refs    map[int]int
	mem     Blockmem_i
	disk    Disk_i
}

func NewCache(mem Blockmem_i, disk Disk_i) *Cache {
	return &Cache{
		blocks: make(map[int]*Bdev_block_t),
		refs:   make(map[int]int),
		mem:    mem,
		disk:   disk,
	}
}

// Get returns the cached block, reading it from disk on first access,
// and bumps its reference count.
func (c *Cache) Get(block int) *Bdev_block_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[block]
	if !ok {
		b = MkBlock_newpage(block, "", c.mem, c.disk, c)
		b.Read()
		c.blocks[block] = b
	}
	c.refs[block]++
	return b
}

// Relse drops a reference to block, freeing its backing page once no
// references remain. Satisfies Block_cb_i so Bdev_block_t.Done can call
// back into the cache.
func (c *Cache) Relse(b *Bdev_block_t, s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[b.Block]--
	if c.refs[b.Block] <= 0 {
		delete(c.refs, b.Block)
		delete(c.blocks, b.Block)
		b.Free_page()
	}
}

// Flush writes every currently-cached block back to disk.
func (c *Cache) Flush() {
	c.mu.Lock()
	blocks := make([]*Bdev_block_t, 0, len(c.blocks))
	for _, b := range c.blocks {
		blocks = append(blocks, b)
	}
	c.mu.Unlock()
	for _, b := range blocks {
		b.Write()
	}
}
