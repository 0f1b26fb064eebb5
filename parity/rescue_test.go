package parity

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"xorkevin.dev/klog"
)

// faultyReaderAt wraps a memImage and fails any read overlapping a declared
// bad byte range, simulating an unreadable sector.
type faultyReaderAt struct {
	img    *memImage
	ranges [][2]int64 // [start, end) pairs
}

func (f *faultyReaderAt) ReadAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	for _, r := range f.ranges {
		if end > r[0] && off < r[1] {
			return 0, io.ErrUnexpectedEOF
		}
	}
	return f.img.ReadAt(p, off)
}

// buildV1Artifact hand-assembles a complete v1 marker+parity artifact with
// four five-block stripes, for rescue tests.
func buildV1Artifact(t *testing.T) (*memImage, *LayoutV1, []byte) {
	t.Helper()
	assert := require.New(t)

	const blockBytes = int64(2048)
	const imageBlocks = int64(20)
	l, err := ComputeLayoutV1(imageBlocks, 27, blockBytes)
	assert.NoError(err)
	assert.Equal(int64(5), l.StripeBlocks)
	assert.Equal(int64(4), l.NumStripes)
	assert.Equal(int64(5), l.LastBlocks)

	imageData := make([]byte, l.ImageBytes())
	fillPattern(imageData, 0x11)

	acc := make([]byte, l.StripeBytes())
	for s := int64(0); s < l.NumStripes; s++ {
		srcOff := s * l.StripeBlocks * l.BlockBytes
		memxor(acc, imageData[srcOff:srcOff+l.StripeBytes()])
	}

	m := NewMarkerV1(l)
	markerBlock := m.FillBlock(l.BlockBytes)

	img := newMemImage(l.ParityOffsetBytes() + l.StripeBytes())
	copy(img.buf, imageData)
	copy(img.buf[l.Marker1OffsetBytes():], markerBlock)
	copy(img.buf[l.ParityOffsetBytes():], acc)

	return img, l, imageData
}

func TestRescueNoDamage(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, l, imageData := buildV1Artifact(t)
	dst := newMemImage(l.ImageBytes())

	result, err := Rescue(context.Background(), klog.Discard{}, l, img, dst)
	assert.NoError(err)
	assert.Equal(l.ImageBlocks, result.BlocksRecovered)
	assert.Empty(result.UnrecoverableCol)
	assert.Equal(0, result.ParityErrors)
	assert.True(bytes.Equal(imageData, dst.buf))
}

func TestRescueReconstructsOneBadBlock(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, l, imageData := buildV1Artifact(t)

	// stripe 2, column 3: a single image block made unreadable.
	badOff := 2*l.StripeBlocks*l.BlockBytes + 3*l.BlockBytes
	faulty := &faultyReaderAt{img: img, ranges: [][2]int64{{badOff, badOff + l.BlockBytes}}}

	dst := newMemImage(l.ImageBytes())
	result, err := Rescue(context.Background(), klog.Discard{}, l, faulty, dst)
	assert.NoError(err)
	assert.Equal(l.ImageBlocks, result.BlocksRecovered)
	assert.Empty(result.UnrecoverableCol)
	assert.Equal(0, result.ParityErrors)
	assert.True(bytes.Equal(imageData, dst.buf))
}

func TestRescueUnrecoverableWhenParityAndStripeBothBad(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, l, _ := buildV1Artifact(t)

	col := int64(3)
	imgBadOff := 2*l.StripeBlocks*l.BlockBytes + col*l.BlockBytes
	parityBadOff := l.ParityOffsetBytes() + col*l.BlockBytes

	// both the image block and its parity column counterpart are
	// unreadable, so column col can never be fully reconstructed.
	faulty := &faultyReaderAt{img: img, ranges: [][2]int64{
		{imgBadOff, imgBadOff + l.BlockBytes},
		{parityBadOff, parityBadOff + l.BlockBytes},
	}}

	dst := newMemImage(l.ImageBytes())
	result, err := Rescue(context.Background(), klog.Discard{}, l, faulty, dst)
	assert.NoError(err)
	assert.Contains(result.UnrecoverableCol, int(col))
	assert.True(result.BlocksRecovered < l.ImageBlocks)
}
