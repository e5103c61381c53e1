package markstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// bumpAllocator is a trivial Allocator sufficient for exercising the
// mark stack in isolation, without pulling in the full partitioned
// heap.
type bumpAllocator struct {
	mem  hostmem.Memory
	next uint32
}

func (a *bumpAllocator) AllocateRaw(sizeBytes uint32) uint32 {
	addr := a.next
	a.next += sizeBytes
	a.mem.Grow(a.next)
	return addr
}

func newTestStack(t *testing.T) *MarkStack {
	mem := hostmem.NewSlice(0)
	alloc := &bumpAllocator{mem: mem, next: 1024}
	return New(mem, alloc)
}

func TestPushPopIsLIFO(t *testing.T) {
	s := newTestStack(t)
	for i := uint32(0); i < 10; i++ {
		s.Push(value.FromScalar(i))
	}
	for i := uint32(10); i > 0; i-- {
		v := s.Pop()
		require.False(t, value.IsNull(v))
		assert.Equal(t, i-1, value.ToScalar(v))
	}
	assert.True(t, s.IsEmpty())
	assert.True(t, value.IsNull(s.Pop()))
}

func TestPushExtendsAcrossTables(t *testing.T) {
	s := newTestStack(t)
	const n = TableCapacity + 100
	for i := uint32(0); i < n; i++ {
		s.Push(value.FromScalar(i))
	}
	assert.False(t, s.IsEmpty())

	count := uint32(0)
	for !s.IsEmpty() {
		s.Pop()
		count++
	}
	assert.Equal(t, uint32(n), count)
}

func TestIsEmptyOnFreshStack(t *testing.T) {
	s := newTestStack(t)
	assert.True(t, s.IsEmpty())
}
