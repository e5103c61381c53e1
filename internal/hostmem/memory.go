// Package hostmem implements the "host" side of the WebAssembly linear
// memory model the GC core is written against: a growable, byte-addressed
// 32-bit address space exposing exactly the two host imports named in
// spec.md §6, memory.size and memory.grow.
//
// Two backends are provided. Slice is an in-process []byte good enough
// for unit tests and for embedding this package inside a larger process.
// Mmap backs the same interface with a real anonymous mapping, reserved
// once with mmap and grown by mprotect-committing a prefix of it, for the
// native CLI harness in cmd/gcdemo.
package hostmem

import "encoding/binary"

// PageSize is the WebAssembly page size: memory.grow always grows by a
// whole number of these.
const PageSize = 64 * 1024

// Memory is linear memory addressed by 32-bit byte offsets. Addr 0 is
// the start of the address space; growth never reuses addresses.
type Memory interface {
	// Size returns the current committed size in bytes.
	Size() uint32
	// Grow extends the committed region so that Size() >= newSize,
	// rounding up to a whole number of pages. It never shrinks.
	// Failure (the host refusing to grow) is fatal, matching spec.md §5:
	// "grow_memory(ptr)... failure is fatal".
	Grow(newSize uint32)
	// Load32/Store32 access a little-endian word at addr. addr must be
	// 4-byte aligned and addr+4 <= Size().
	Load32(addr uint32) uint32
	Store32(addr uint32, v uint32)
	// LoadByte/StoreByte access a single byte at addr.
	LoadByte(addr uint32) byte
	StoreByte(addr uint32, v byte)
	// CopyWithin moves n bytes from src to dst, handling overlap the way
	// a memmove does; used by evacuation to copy object bytes.
	CopyWithin(dst, src, n uint32)
	// Zero clears n bytes starting at addr; used when a mark bitmap
	// partition is assigned.
	Zero(addr, n uint32)
}

// Slice is a Memory backed by a plain Go byte slice. Grow reallocates.
type Slice struct {
	buf []byte
}

// NewSlice returns a Slice-backed Memory already grown to initialSize
// bytes (rounded up to a page).
func NewSlice(initialSize uint32) *Slice {
	m := &Slice{}
	m.Grow(initialSize)
	return m
}

func roundUpPages(n uint32) uint32 {
	if n%PageSize == 0 {
		return n
	}
	return (n/PageSize + 1) * PageSize
}

func (m *Slice) Size() uint32 { return uint32(len(m.buf)) }

func (m *Slice) Grow(newSize uint32) {
	target := roundUpPages(newSize)
	if target <= uint32(len(m.buf)) {
		return
	}
	grown := make([]byte, target)
	copy(grown, m.buf)
	m.buf = grown
}

func (m *Slice) Load32(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(m.buf[addr : addr+4])
}

func (m *Slice) Store32(addr uint32, v uint32) {
	binary.LittleEndian.PutUint32(m.buf[addr:addr+4], v)
}

func (m *Slice) LoadByte(addr uint32) byte { return m.buf[addr] }

func (m *Slice) StoreByte(addr uint32, v byte) { m.buf[addr] = v }

func (m *Slice) CopyWithin(dst, src, n uint32) {
	copy(m.buf[dst:dst+n], m.buf[src:src+n])
}

func (m *Slice) Zero(addr, n uint32) {
	clear(m.buf[addr : addr+n])
}
