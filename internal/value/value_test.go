package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalarRoundTrip(t *testing.T) {
	v := FromScalar(12345)
	assert.False(t, IsPtr(v))
	assert.Equal(t, uint32(12345), ToScalar(v))
}

func TestPointerRoundTrip(t *testing.T) {
	v := FromPtr(1024)
	assert.True(t, IsPtr(v))
	assert.Equal(t, uint32(1024), GetPtr(v))
}

func TestNullIsNotAPointer(t *testing.T) {
	assert.True(t, IsNull(Null))
	assert.False(t, IsPtr(Null))
}

func TestScalarAndPointerNeverCollide(t *testing.T) {
	for _, n := range []uint32{0, 1, 2, 1000, 0x7fffffff} {
		assert.False(t, IsPtr(FromScalar(n)), "scalar %d misread as pointer", n)
	}
	for _, addr := range []uint32{8, 16, 1 << 20} {
		assert.True(t, IsPtr(FromPtr(addr)), "pointer at %d misread as scalar", addr)
	}
}
