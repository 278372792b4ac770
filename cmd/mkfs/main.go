// Command mkfs builds a bootable disk image: a boot sector plus kernel
// image concatenated at the front, followed by a filesystem seeded from
// a skeleton directory tree, the same role the teacher's
// biscuit/src/mkfs/mkfs.go plays in its build. The on-disk filesystem
// here is a deliberately simplified flat directory table rather than
// the teacher's full inode/log format (see DESIGN.md) — this core's fs
// package only carries the block-cache/superblock primitives
// (fs.Cache, fs.Superblock_t), not ufs.Fs_t's on-disk inode graph, which
// wasn't present in the retrieved source.
package main

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	mfs "merlon/fs"
	"merlon/mem"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: mkfs <bootimage> <kernelimage> <outimage> <skeldir>\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) != 5 {
		usage()
	}
	bootPath, kernelPath, outPath, skelDir := os.Args[1], os.Args[2], os.Args[3], os.Args[4]

	boot, err := os.ReadFile(bootPath)
	if err != nil {
		log.Fatal(err)
	}
	kernel, err := os.ReadFile(kernelPath)
	if err != nil {
		log.Fatal(err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	// Boot sector + kernel image occupy the image's first blocks,
	// zero-padded to a block boundary; the filesystem starts immediately
	// after, matching the teacher mkfs's "bootimage then kernelimage then
	// filesystem" image layout.
	if _, err := out.Write(boot); err != nil {
		log.Fatal(err)
	}
	if _, err := out.Write(kernel); err != nil {
		log.Fatal(err)
	}
	prefixLen := len(boot) + len(kernel)
	fsStartBlock := (prefixLen + mfs.BSIZE - 1) / mfs.BSIZE
	if pad := fsStartBlock*mfs.BSIZE - prefixLen; pad > 0 {
		if _, err := out.Write(make([]byte, pad)); err != nil {
			log.Fatal(err)
		}
	}

	disk := &hostDisk{f: out, base: fsStartBlock}
	bmem := &hostBlockmem{}

	if err := buildFS(disk, bmem, skelDir); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s: boot+kernel %d bytes, filesystem starting at block %d\n", outPath, prefixLen, fsStartBlock)
}

// dirEntry is one flat directory-table record: a short name (the file's
// relative path upper-cased with strings.ToUpper and cut to nameLen-1
// bytes; this is not vfs.Shortname's folding), the block the file's content starts at, and its
// length in bytes. entrySize must match the binary layout entryBytes
// encodes.
type dirEntry struct {
	name  string
	start int
	size  int
}

const (
	nameLen   = 28
	entrySize = nameLen + 8 + 8 // name + start(uint64) + size(uint64)
)

func entryBytes(e dirEntry) []byte {
	b := make([]byte, entrySize)
	copy(b, e.name)
	putU64(b[nameLen:], uint64(e.start))
	putU64(b[nameLen+8:], uint64(e.size))
	return b
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// buildFS walks skelDir, writes every regular file's content into
// consecutive disk blocks starting right after the directory table, and
// finally lays down the directory table and superblock once the total
// block count is known (the table needs the file layout decided first,
// so content blocks are written in a first pass and the table/superblock
// in a second, mirroring the teacher mkfs's addfiles-then-ShutdownFS
// ordering).
func buildFS(disk *hostDisk, bmem mfs.Blockmem_i, skelDir string) error {
	var entries []dirEntry
	var names []string
	if err := filepath.WalkDir(skelDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(skelDir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	}); err != nil {
		return err
	}

	entriesPerBlock := mfs.BSIZE / entrySize
	dirBlocks := (len(names) + entriesPerBlock - 1) / entriesPerBlock
	if dirBlocks == 0 {
		dirBlocks = 1
	}
	// Block 0 is the superblock; the directory table occupies blocks
	// [1, 1+dirBlocks); file content starts right after.
	nextBlock := 1 + dirBlocks

	for _, rel := range names {
		data, err := os.ReadFile(filepath.Join(skelDir, rel))
		if err != nil {
			return err
		}
		start := nextBlock
		nblocks := (len(data) + mfs.BSIZE - 1) / mfs.BSIZE
		if nblocks == 0 {
			nblocks = 1
		}
		for i := 0; i < nblocks; i++ {
			b := mfs.MkBlock_newpage(nextBlock, rel, bmem, disk, nil)
			lo := i * mfs.BSIZE
			hi := lo + mfs.BSIZE
			if hi > len(data) {
				hi = len(data)
			}
			copy(b.Data[:], data[lo:hi])
			b.Write()
			nextBlock++
		}
		short := strings.ToUpper(rel)
		if len(short) > nameLen-1 {
			short = short[:nameLen-1]
		}
		entries = append(entries, dirEntry{name: short, start: start, size: len(data)})
	}

	if err := writeDirTable(disk, bmem, entries, dirBlocks); err != nil {
		return err
	}

	sbBlock := mfs.MkBlock_newpage(0, "superblock", bmem, disk, nil)
	sb := &mfs.Superblock_t{Data: sbBlock.Data}
	sb.SetImaplen(len(entries))
	sb.SetInodelen(dirBlocks)
	sb.SetFreeblock(1 + dirBlocks)
	sb.SetLastblock(nextBlock)
	sbBlock.Write()
	return nil
}

func writeDirTable(disk *hostDisk, bmem mfs.Blockmem_i, entries []dirEntry, dirBlocks int) error {
	entriesPerBlock := mfs.BSIZE / entrySize
	for blk := 0; blk < dirBlocks; blk++ {
		b := mfs.MkBlock_newpage(1+blk, "dirtable", bmem, disk, nil)
		for i := 0; i < entriesPerBlock; i++ {
			idx := blk*entriesPerBlock + i
			if idx >= len(entries) {
				break
			}
			copy(b.Data[i*entrySize:], entryBytes(entries[idx]))
		}
		b.Write()
	}
	return nil
}

// hostDisk backs fs.Disk_i with a host file, serving every request
// synchronously and inline. Grounded on
// biscuit/src/ufs/driver.go's ahci_disk_t, which does the same
// Seek-then-Read/Write-at-block-offset trick for a host-file-backed
// disk; base shifts every block number by the filesystem's starting
// block so block 0 here lands right after the boot+kernel prefix.
type hostDisk struct {
	f    *os.File
	base int
}

// Start services the request synchronously, inline, before returning —
// so it always reports "false" (no async wait needed), the same
// contract Bdev_block_t.Write/.Read rely on to skip blocking on AckCh.
func (d *hostDisk) Start(req *mfs.Bdev_req_t) bool {
	req.Blks.Apply(func(b *mfs.Bdev_block_t) {
		off := int64(d.base+b.Block) * int64(mfs.BSIZE)
		switch req.Cmd {
		case mfs.BDEV_WRITE:
			if _, err := d.f.WriteAt(b.Data[:], off); err != nil {
				log.Fatalf("mkfs: write block %d: %v", b.Block, err)
			}
		case mfs.BDEV_READ:
			if _, err := d.f.ReadAt(b.Data[:], off); err != nil && err != io.EOF {
				log.Fatalf("mkfs: read block %d: %v", b.Block, err)
			}
		case mfs.BDEV_FLUSH:
			if err := d.f.Sync(); err != nil {
				log.Fatalf("mkfs: flush: %v", err)
			}
		}
	})
	return false
}

func (d *hostDisk) Stats() string { return fmt.Sprintf("hostDisk base=%d", d.base) }

var _ mfs.Disk_i = (*hostDisk)(nil)

// hostBlockmem backs fs.Blockmem_i with a bare allocation per block,
// grounded on biscuit/src/ufs/driver.go's blockmem_t: a host-side build
// tool has no physical-memory budget to track, so Alloc just hands back
// a fresh zeroed page and Free/Refup are no-ops.
type hostBlockmem struct{}

func (hostBlockmem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	return 0, &mem.Bytepg_t{}, true
}
func (hostBlockmem) Free(mem.Pa_t)  {}
func (hostBlockmem) Refup(mem.Pa_t) {}

var _ mfs.Blockmem_i = (*hostBlockmem)(nil)
