package parity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemxor(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	for _, n := range []int{0, 1, 7, 8, 9, 16, 17, 64, 65} {
		dst := make([]byte, n)
		src := make([]byte, n)
		fillPattern(dst, 1)
		fillPattern(src, 2)

		want := make([]byte, n)
		for i := range want {
			want[i] = dst[i] ^ src[i]
		}
		memxor(dst, src)
		assert.Equal(want, dst)
	}
}

func TestMemxorSelfInverse(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	orig := make([]byte, 37)
	fillPattern(orig, 5)
	dst := make([]byte, len(orig))
	copy(dst, orig)

	other := make([]byte, len(orig))
	fillPattern(other, 9)

	memxor(dst, other)
	memxor(dst, other)
	assert.Equal(orig, dst)
}

func TestCountNonZero(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	assert.Equal(0, countNonZero(make([]byte, 16)))
	b := make([]byte, 16)
	b[0] = 1
	b[15] = 1
	assert.Equal(2, countNonZero(b))
}

func TestSwapEndian(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	assert.Equal(uint16(0x3412), swapEndian16(0x1234))
	assert.Equal(uint32(0x78563412), swapEndian32(0x12345678))
	assert.Equal(uint64(0xf0debc9a78563412), swapEndian64(0x123456789abcdef0))
	assert.Equal(uint64(0x123456789abcdef0), swapEndian64(swapEndian64(0x123456789abcdef0)))
}
