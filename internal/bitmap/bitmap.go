// Package bitmap implements the per-partition mark bitmap: one bit per
// word-aligned offset, tracking whether an object starts there and is
// marked. Iteration proceeds in 64-bit chunks using trailing-zero
// counts, matching the design's mandate that the chunk pointer be
// 8-byte aligned and the scan skip empty chunks in bulk.
package bitmap

import (
	"math/bits"

	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/object"
)

// IterationEnd is the sentinel offset returned once iteration is
// exhausted.
const IterationEnd = ^uint32(0)

const chunkBits = 64
const chunkBytes = chunkBits / 8 // 8, matching the 8-byte alignment requirement

// Bitmap is bound to a region of memory sized partitionSize/64 bytes
// (one bit per word, object.WordSize bytes per word) and addressed
// relative to the partition it tracks.
type Bitmap struct {
	mem           hostmem.Memory
	addr          uint32 // address of the bitmap's own backing storage
	sizeBytes     uint32 // size of the backing storage in bytes
	partitionSize uint32 // size, in bytes, of the partition this bitmap tracks
}

// SizeFor returns the number of bytes a bitmap needs to track a
// partition of partitionSize bytes: one bit per word.
func SizeFor(partitionSize uint32) uint32 {
	bits := partitionSize / object.WordSize
	return bits / 8
}

// Assign binds the bitmap to a zeroed, 8-byte-aligned backing region at
// addr, sized for a partition of partitionSize bytes.
func Assign(mem hostmem.Memory, addr uint32, partitionSize uint32) *Bitmap {
	if addr%uint32(chunkBytes) != 0 {
		panic("bitmap: Assign: backing address must be 8-byte aligned")
	}
	size := SizeFor(partitionSize)
	mem.Zero(addr, size)
	return &Bitmap{mem: mem, addr: addr, sizeBytes: size, partitionSize: partitionSize}
}

func (b *Bitmap) wordIndex(offset uint32) uint32 {
	if offset%object.WordSize != 0 {
		panic("bitmap: offset must be word-aligned")
	}
	if offset >= b.partitionSize {
		panic("bitmap: offset out of range")
	}
	return offset / object.WordSize
}

// Mark sets the bit for the object starting at the given byte offset
// within the partition.
func (b *Bitmap) Mark(offset uint32) {
	bit := b.wordIndex(offset)
	byteAddr := b.addr + bit/8
	mask := byte(1) << (bit % 8)
	b.mem.StoreByte(byteAddr, b.mem.LoadByte(byteAddr)|mask)
}

// IsMarked reports whether the bit for offset is set.
func (b *Bitmap) IsMarked(offset uint32) bool {
	bit := b.wordIndex(offset)
	byteAddr := b.addr + bit/8
	mask := byte(1) << (bit % 8)
	return b.mem.LoadByte(byteAddr)&mask != 0
}

// Iterator walks marked offsets in ascending order, one 64-bit chunk
// at a time across the bitmap's sizeBytes/8 chunks.
type Iterator struct {
	b           *Bitmap
	chunkIndex  uint32 // index, in 8-byte chunks, of the chunk currently loaded
	chunk       uint64 // remaining unconsumed bits of the current chunk
	current     uint32 // current marked offset, or IterationEnd
	totalChunks uint32
}

// Iterate returns a fresh iterator positioned at the first marked
// offset (or IterationEnd if none).
func (b *Bitmap) Iterate() *Iterator {
	it := &Iterator{b: b, totalChunks: b.sizeBytes / chunkBytes}
	it.loadChunk(0)
	it.advanceToSetBit()
	return it
}

func (it *Iterator) loadChunk(index uint32) {
	it.chunkIndex = index
	if index >= it.totalChunks {
		it.chunk = 0
		return
	}
	addr := it.b.addr + index*chunkBytes
	lo := uint64(it.b.mem.Load32(addr))
	hi := uint64(it.b.mem.Load32(addr + 4))
	it.chunk = lo | hi<<32
}

// advanceToSetBit scans forward, chunk by chunk, until a set bit is
// found or every chunk has been exhausted.
func (it *Iterator) advanceToSetBit() {
	for {
		if it.chunk != 0 {
			tz := uint32(bits.TrailingZeros64(it.chunk))
			wordIndex := it.chunkIndex*chunkBits + tz
			it.current = wordIndex * object.WordSize
			return
		}
		// Empty chunk: leading_zeros is trivially 64, i.e. skip
		// the whole chunk in one step.
		next := it.chunkIndex + 1
		if next >= it.totalChunks {
			it.current = IterationEnd
			return
		}
		it.loadChunk(next)
	}
}

// Current returns the byte offset (within the partition) of the
// iterator's current marked bit, or IterationEnd.
func (it *Iterator) Current() uint32 {
	return it.current
}

// Next advances to the next marked offset.
func (it *Iterator) Next() {
	if it.current == IterationEnd {
		return
	}
	// Clear the low set bit of the chunk and look for the next one
	// in the same chunk before moving on.
	it.chunk &= it.chunk - 1
	it.advanceToSetBit()
}
