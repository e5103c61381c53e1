package hostmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrowRoundsUpToPageSize(t *testing.T) {
	m := NewSlice(0)
	m.Grow(1)
	assert.Equal(t, uint32(PageSize), m.Size())
}

func TestGrowNeverShrinks(t *testing.T) {
	m := NewSlice(PageSize * 2)
	m.Grow(PageSize)
	assert.Equal(t, uint32(PageSize*2), m.Size())
}

func TestStoreLoad32RoundTrip(t *testing.T) {
	m := NewSlice(PageSize)
	m.Store32(100, 0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), m.Load32(100))
}

func TestCopyWithinHandlesOverlap(t *testing.T) {
	m := NewSlice(PageSize)
	for i := uint32(0); i < 16; i++ {
		m.StoreByte(i, byte(i))
	}
	m.CopyWithin(4, 0, 16)
	for i := uint32(0); i < 16; i++ {
		assert.Equal(t, byte(i), m.LoadByte(4+i))
	}
}

func TestZeroClearsRange(t *testing.T) {
	m := NewSlice(PageSize)
	m.StoreByte(10, 0xff)
	m.Zero(0, 20)
	assert.Equal(t, byte(0), m.LoadByte(10))
}
