// Package object implements the heap block format shared by every object
// kind: the two-word header (tag, forwarding pointer), the block-size
// computation sweep traversal depends on, and the array-slicing
// protocol the mark increment uses to bound per-visit work on large
// arrays.
//
// A "word" here is WordSize (8) bytes — the granularity at which the
// mark bitmap, partition sizes and block sizes are all expressed,
// matching spec.md's bitmap round-trip scenario (word-size 8). Value
// fields occupy the low 4 bytes of a word; the upper 4 bytes are
// reserved (this runtime is a 32-bit-value, 64-bit-word hybrid exactly
// as specified).
package object

import (
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
	"github.com/dfinity-labs/incrementalgc/internal/value"
)

// WordSize is the addressing granularity for block sizes and the mark
// bitmap.
const WordSize uint32 = 8

// Tag identifies an object's kind, or (when >= ArraySliceMin) that the
// object is an Array currently being scanned by the mark phase, with
// the resume index encoded as Tag - ArraySliceMin.
type Tag uint32

const (
	TagObject Tag = iota
	TagArray
	TagBlob
	TagMutBox
	TagVariant
	TagSome
	TagConcat
	TagBigInt
	TagObjInd
	TagBits32
	TagBits64
	TagRegion
	TagOneWordFiller
	TagFreeSpace

	// ArraySliceMin is the first tag value reserved for "array
	// currently being scanned, resume at index N". It must exceed
	// every real Tag constant above.
	ArraySliceMin Tag = 0x1000
)

// ArraySliceThreshold is the element count above which the mark
// increment slices an array's scan across multiple visits instead of
// scanning it in one shot.
const ArraySliceThreshold = 128

// ArraySliceBatch is the number of elements scanned per slice once an
// array is large enough to be sliced.
const ArraySliceBatch = 128

// IsArrayScanning reports whether tag denotes an array mid-slice, and
// if so the index scanning should resume from.
func IsArrayScanning(tag Tag) (resumeIndex uint32, scanning bool) {
	if tag >= ArraySliceMin {
		return uint32(tag - ArraySliceMin), true
	}
	return 0, false
}

// headerWords is the number of words occupied by every non-filler
// object's header: the tag word and the forwarding-pointer word.
const headerWords = 2

// HeaderSize is the byte size of an object header (tag + forwarding
// pointer).
const HeaderSize = headerWords * WordSize

// regionExtraWords is the fixed number of metadata words a Region
// object carries beyond its header. Region content proper (page table,
// bytes) lives outside core GC scope (spec.md §1); the GC only needs to
// know the block's size and that it carries no outgoing pointers.
const regionExtraWords = 4

// ReadTag reads the tag word at addr.
func ReadTag(mem hostmem.Memory, addr uint32) Tag {
	return Tag(mem.Load32(addr))
}

// WriteTag overwrites the tag word at addr. Used both at allocation and
// by the array-slicing protocol to install/restore ARRAY_SLICE_MIN+i.
func WriteTag(mem hostmem.Memory, addr uint32, tag Tag) {
	mem.Store32(addr, uint32(tag))
}

// ReadForwardingPointer reads the forwarding-pointer word, the address
// a header's second word (a pointer Value skewed the same as any other
// pointer, initialized to point at the object itself).
func ReadForwardingPointer(mem hostmem.Memory, addr uint32) value.Value {
	return value.Value(mem.Load32(addr + WordSize))
}

// WriteForwardingPointer overwrites the forwarding-pointer word.
func WriteForwardingPointer(mem hostmem.Memory, addr uint32, fwd value.Value) {
	mem.Store32(addr+WordSize, uint32(fwd))
}

// InitHeader writes tag and initializes the forwarding pointer to point
// at addr itself (forward_if_possible is then a no-op until the object
// is evacuated).
func InitHeader(mem hostmem.Memory, addr uint32, tag Tag) {
	WriteTag(mem, addr, tag)
	WriteForwardingPointer(mem, addr, value.FromPtr(addr))
}

// IsForwarded reports whether the object at addr has been evacuated,
// i.e. its forwarding pointer no longer points at addr.
func IsForwarded(mem hostmem.Memory, addr uint32) bool {
	return value.GetPtr(ReadForwardingPointer(mem, addr)) != addr
}

// ForwardIfPossible follows v's forwarding pointer if v points at an
// object that has been evacuated, otherwise returns v unchanged. This
// is the only sanctioned way to dereference a Value that might be
// stale after evacuation; it is idempotent (testable property 3).
func ForwardIfPossible(mem hostmem.Memory, v value.Value) value.Value {
	if !value.IsPtr(v) {
		return v
	}
	addr := value.GetPtr(v)
	fwd := ReadForwardingPointer(mem, addr)
	if value.GetPtr(fwd) == addr {
		return v
	}
	return fwd
}

// alignWord rounds n up to the next multiple of WordSize.
func alignWord(n uint32) uint32 {
	if n%WordSize == 0 {
		return n
	}
	return (n/WordSize + 1) * WordSize
}

// BlockSize returns the total number of bytes occupied by the block
// starting at addr, covering every tag kind including the GC's own
// filler tags. Sweep-style partition traversal (testable property 6)
// relies on being able to walk dynamic_space_start..dynamic_space_end
// by repeatedly adding BlockSize.
func BlockSize(mem hostmem.Memory, addr uint32) uint32 {
	tag := ReadTag(mem, addr)
	if _, scanning := IsArrayScanning(tag); scanning {
		tag = TagArray
	}
	switch tag {
	case TagOneWordFiller:
		return WordSize
	case TagFreeSpace:
		// The size word stores the filler's total size, header
		// included, so a single read gives the whole block.
		return mem.Load32(addr + WordSize)
	case TagBlob:
		length := mem.Load32(addr + HeaderSize)
		return HeaderSize + WordSize + alignWord(length)
	case TagArray, TagObject:
		count := mem.Load32(addr + HeaderSize)
		return HeaderSize + WordSize + count*WordSize
	case TagMutBox, TagSome, TagObjInd, TagBits32, TagBits64:
		return HeaderSize + WordSize
	case TagVariant:
		return HeaderSize + 2*WordSize
	case TagConcat:
		return HeaderSize + 2*WordSize
	case TagBigInt:
		sizeWords := mem.Load32(addr + HeaderSize)
		return HeaderSize + WordSize + sizeWords*WordSize
	case TagRegion:
		return HeaderSize + regionExtraWords*WordSize
	default:
		panic("object: BlockSize: unknown tag")
	}
}

// VisitPointerFields calls visit with the address of each field slot of
// the object at addr that may hold a pointer Value, honoring the
// array-slicing protocol: if the object is a large array, only the
// slice [resumeIndex, resumeIndex+ArraySliceBatch) is visited and the
// tag is left installed (or restored to TagArray if the slice
// completes) so the caller can tell whether the object's scan is done.
//
// Returns true if the object's scan is now complete (all fields
// visited), false if a slice boundary was hit and the caller must
// re-push the object to resume later.
func VisitPointerFields(mem hostmem.Memory, addr uint32, visit func(fieldAddr uint32)) bool {
	tag := ReadTag(mem, addr)
	resumeIndex, scanning := IsArrayScanning(tag)
	if scanning || tag == TagArray {
		count := mem.Load32(addr + HeaderSize)
		fieldsStart := addr + HeaderSize + WordSize
		if count <= ArraySliceThreshold {
			for i := uint32(0); i < count; i++ {
				visit(fieldsStart + i*WordSize)
			}
			if scanning {
				WriteTag(mem, addr, TagArray)
			}
			return true
		}
		end := resumeIndex + ArraySliceBatch
		if end > count {
			end = count
		}
		for i := resumeIndex; i < end; i++ {
			visit(fieldsStart + i*WordSize)
		}
		if end >= count {
			WriteTag(mem, addr, TagArray)
			return true
		}
		WriteTag(mem, addr, ArraySliceMin+Tag(end))
		return false
	}

	switch tag {
	case TagObject:
		count := mem.Load32(addr + HeaderSize)
		fieldsStart := addr + HeaderSize + WordSize
		for i := uint32(0); i < count; i++ {
			visit(fieldsStart + i*WordSize)
		}
	case TagMutBox, TagSome, TagObjInd:
		visit(addr + HeaderSize)
	case TagVariant:
		visit(addr + HeaderSize + WordSize)
	case TagConcat:
		visit(addr + HeaderSize)
		visit(addr + HeaderSize + WordSize)
	case TagBlob, TagBigInt, TagBits32, TagBits64, TagRegion:
		// No outgoing pointers.
	default:
		panic("object: VisitPointerFields: unknown tag")
	}
	return true
}

// AllocArraySize returns the number of bytes an array of len elements
// occupies, header included — used by the allocator before any header
// is written.
func AllocArraySize(length uint32) uint32 {
	return HeaderSize + WordSize + length*WordSize
}

// AllocBlobSize returns the number of bytes a blob of sizeBytes payload
// occupies, header included.
func AllocBlobSize(sizeBytes uint32) uint32 {
	return HeaderSize + WordSize + alignWord(sizeBytes)
}

// WriteArrayHeader finalizes an array object's header and length word;
// callers must still initialize (or zero) the element words themselves.
func WriteArrayHeader(mem hostmem.Memory, addr uint32, length uint32) {
	InitHeader(mem, addr, TagArray)
	mem.Store32(addr+HeaderSize, length)
}

// WriteBlobHeader finalizes a blob object's header and length word.
func WriteBlobHeader(mem hostmem.Memory, addr uint32, sizeBytes uint32) {
	InitHeader(mem, addr, TagBlob)
	mem.Store32(addr+HeaderSize, sizeBytes)
}

// WriteOneWordFiller writes the one-word filler tag at addr.
func WriteOneWordFiller(mem hostmem.Memory, addr uint32) {
	mem.Store32(addr, uint32(TagOneWordFiller))
}

// WriteFreeSpace writes a free-space filler of totalSize bytes
// (including its own two-word header) at addr.
func WriteFreeSpace(mem hostmem.Memory, addr uint32, totalSize uint32) {
	mem.Store32(addr, uint32(TagFreeSpace))
	mem.Store32(addr+WordSize, totalSize)
}

// ArrayElement returns the address of element i of the array at addr.
func ArrayElement(addr uint32, i uint32) uint32 {
	return addr + HeaderSize + WordSize + i*WordSize
}

// ArrayLength reads the element count of the array at addr.
func ArrayLength(mem hostmem.Memory, addr uint32) uint32 {
	return mem.Load32(addr + HeaderSize)
}
