// Package fs is the block layer: the on-disk superblock layout, a cached
// block-device abstraction, and the request/reply protocol a Disk_i
// driver answers. Adapted from the teacher's fs/super.go and fs/blk.go.
package fs

import "merlon/mem"

// Superblock_t is the on-disk superblock: eight little-endian 8-byte
// fields packed into the first block of the filesystem, unchanged layout
// from the teacher's Superblock_t.
type Superblock_t struct {
	Data *mem.Bytepg_t
}

func fieldr(data *mem.Bytepg_t, field int) int {
	off := field * 8
	var v int
	for i := 7; i >= 0; i-- {
		v = (v << 8) | int(data[off+i])
	}
	return v
}

func fieldw(data *mem.Bytepg_t, field int, v int) {
	off := field * 8
	for i := 0; i < 8; i++ {
		data[off+i] = uint8(v)
		v >>= 8
	}
}

func (sb *Superblock_t) Loglen() int         { return fieldr(sb.Data, 0) }
func (sb *Superblock_t) Iorphanblock() int   { return fieldr(sb.Data, 1) }
func (sb *Superblock_t) Iorphanlen() int     { return fieldr(sb.Data, 2) }
func (sb *Superblock_t) Imaplen() int        { return fieldr(sb.Data, 3) }
func (sb *Superblock_t) Freeblock() int      { return fieldr(sb.Data, 4) }
func (sb *Superblock_t) Freeblocklen() int   { return fieldr(sb.Data, 5) }
func (sb *Superblock_t) Inodelen() int       { return fieldr(sb.Data, 6) }
func (sb *Superblock_t) Lastblock() int      { return fieldr(sb.Data, 7) }

func (sb *Superblock_t) SetLoglen(ll int)       { fieldw(sb.Data, 0, ll) }
func (sb *Superblock_t) SetIorphanblock(n int)  { fieldw(sb.Data, 1, n) }
func (sb *Superblock_t) SetIorphanlen(n int)    { fieldw(sb.Data, 2, n) }
func (sb *Superblock_t) SetImaplen(n int)       { fieldw(sb.Data, 3, n) }
func (sb *Superblock_t) SetFreeblock(n int)     { fieldw(sb.Data, 4, n) }
func (sb *Superblock_t) SetFreeblocklen(n int)  { fieldw(sb.Data, 5, n) }
func (sb *Superblock_t) SetInodelen(n int)      { fieldw(sb.Data, 6, n) }
func (sb *Superblock_t) SetLastblock(n int)     { fieldw(sb.Data, 7, n) }
