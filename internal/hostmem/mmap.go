//go:build linux || darwin

package hostmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxAddressSpace is the amount of address space reserved up front by
// Mmap so that Grow never has to move the mapping (mremap with
// MREMAP_MAYMOVE would invalidate addresses held by the collector).
// 4 GiB covers the entire 32-bit address space the Value encoding can
// name.
const maxAddressSpace = 1 << 32

// Mmap is a Memory backed by a single anonymous mapping, reserved at
// full 32-bit address-space size and grown by adjusting the committed
// (mprotect'd) prefix. This mirrors how a real Wasm host commits pages
// to a linear memory on memory.grow without relocating it, and is
// grounded on the same mmap/munmap discipline as the virtual block
// device in a userfaultfd-backed VM memory manager: reserve the region
// once, change protection or copy into it as it fills, never move it.
type Mmap struct {
	region    []byte
	committed uint32
}

// NewMmap reserves the address space and commits initialSize bytes.
func NewMmap(initialSize uint32) (*Mmap, error) {
	region, err := unix.Mmap(-1, 0, maxAddressSpace, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("hostmem: reserve address space: %w", err)
	}
	m := &Mmap{region: region}
	m.Grow(initialSize)
	return m, nil
}

// Close releases the reserved address space.
func (m *Mmap) Close() error {
	if m.region == nil {
		return nil
	}
	err := unix.Munmap(m.region)
	m.region = nil
	return err
}

func (m *Mmap) Size() uint32 { return m.committed }

func (m *Mmap) Grow(newSize uint32) {
	target := roundUpPages(newSize)
	if target <= m.committed {
		return
	}
	if target > maxAddressSpace {
		panic(fmt.Sprintf("hostmem: Cannot grow memory: %d exceeds reserved address space", target))
	}
	if err := unix.Mprotect(m.region[:target], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		panic(fmt.Sprintf("hostmem: Cannot grow memory: %v", err))
	}
	m.committed = target
}

func (m *Mmap) Load32(addr uint32) uint32 {
	b := m.region[addr : addr+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (m *Mmap) Store32(addr uint32, v uint32) {
	b := m.region[addr : addr+4]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (m *Mmap) LoadByte(addr uint32) byte { return m.region[addr] }

func (m *Mmap) StoreByte(addr uint32, v byte) { m.region[addr] = v }

func (m *Mmap) CopyWithin(dst, src, n uint32) {
	copy(m.region[dst:dst+n], m.region[src:src+n])
}

func (m *Mmap) Zero(addr, n uint32) {
	clear(m.region[addr : addr+n])
}
