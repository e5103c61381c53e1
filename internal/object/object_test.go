package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

func TestForwardIfPossibleIsIdempotent(t *testing.T) {
	mem := hostmem.NewSlice(1024)
	InitHeader(mem, 0, TagBlob)

	v := value.FromPtr(0)
	assert.Equal(t, v, ForwardIfPossible(mem, v), "unforwarded object forwards to itself")

	// The forwarding target is a real object whose own forwarding
	// pointer points at itself, as evacuation leaves every copy.
	InitHeader(mem, 256, TagBlob)
	WriteForwardingPointer(mem, 0, value.FromPtr(256))
	once := ForwardIfPossible(mem, v)
	twice := ForwardIfPossible(mem, once)
	assert.Equal(t, value.FromPtr(256), once)
	assert.Equal(t, once, twice, "re-applying forward_if_possible to an already-forwarded value is a no-op")
}

func TestForwardIfPossibleLeavesScalarsAlone(t *testing.T) {
	mem := hostmem.NewSlice(1024)
	scalar := value.FromScalar(42)
	assert.Equal(t, scalar, ForwardIfPossible(mem, scalar))
}

func TestBlockSizeForEachTag(t *testing.T) {
	mem := hostmem.NewSlice(4096)

	WriteBlobHeader(mem, 0, 10)
	assert.Equal(t, HeaderSize+WordSize+alignWord(10), BlockSize(mem, 0))

	WriteArrayHeader(mem, 512, 5)
	assert.Equal(t, HeaderSize+WordSize+5*WordSize, BlockSize(mem, 512))

	WriteOneWordFiller(mem, 1024)
	assert.Equal(t, WordSize, BlockSize(mem, 1024))

	WriteFreeSpace(mem, 1536, 96)
	assert.Equal(t, uint32(96), BlockSize(mem, 1536))
}

func TestVisitPointerFieldsObject(t *testing.T) {
	mem := hostmem.NewSlice(1024)
	InitHeader(mem, 0, TagObject)
	mem.Store32(0+HeaderSize, 3) // field count
	fieldsStart := HeaderSize + WordSize
	for i := uint32(0); i < 3; i++ {
		mem.Store32(fieldsStart+i*WordSize, uint32(value.FromScalar(i)))
	}

	var visited []uint32
	done := VisitPointerFields(mem, 0, func(addr uint32) { visited = append(visited, addr) })
	assert.True(t, done)
	require.Len(t, visited, 3)
	assert.Equal(t, fieldsStart, visited[0])
}

func TestVisitPointerFieldsSlicesLargeArrays(t *testing.T) {
	mem := hostmem.NewSlice(uint32(HeaderSize) + WordSize + 300*WordSize)
	const length = 300 // > ArraySliceThreshold (128)
	WriteArrayHeader(mem, 0, length)

	visitedCount := 0
	done := VisitPointerFields(mem, 0, func(addr uint32) { visitedCount++ })
	assert.False(t, done, "a 300-element array must not complete in one visit")
	assert.Equal(t, uint32(ArraySliceBatch), uint32(visitedCount))

	resumeIdx, scanning := IsArrayScanning(ReadTag(mem, 0))
	require.True(t, scanning)
	assert.Equal(t, uint32(ArraySliceBatch), resumeIdx)

	// Keep visiting until the scan completes; verify every element is
	// visited exactly once in total and the tag is restored.
	total := visitedCount
	for {
		n := 0
		done = VisitPointerFields(mem, 0, func(addr uint32) { n++ })
		total += n
		if done {
			break
		}
	}
	assert.Equal(t, length, total)
	assert.Equal(t, TagArray, ReadTag(mem, 0))
}

func TestAllocSizeHelpers(t *testing.T) {
	assert.Equal(t, HeaderSize+WordSize+alignWord(7), AllocBlobSize(7))
	assert.Equal(t, HeaderSize+WordSize+4*WordSize, AllocArraySize(4))
}

func TestArrayElementAddressing(t *testing.T) {
	mem := hostmem.NewSlice(1024)
	WriteArrayHeader(mem, 0, 4)
	for i := uint32(0); i < 4; i++ {
		mem.Store32(ArrayElement(0, i), uint32(value.FromScalar(i*10)))
	}
	for i := uint32(0); i < 4; i++ {
		got := value.ToScalar(value.Value(mem.Load32(ArrayElement(0, i))))
		assert.Equal(t, i*10, got)
	}
	assert.Equal(t, uint32(4), ArrayLength(mem, 0))
}
