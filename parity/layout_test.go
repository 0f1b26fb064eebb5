package parity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeLayoutV2(t *testing.T) {
	t.Parallel()

	for _, blockBytes := range []int64{64, 512, 2048, 4096} {
		blockBytes := blockBytes
		t.Run("", func(t *testing.T) {
			t.Parallel()
			assert := require.New(t)

			for _, imageBlocks := range []int64{1, 2, 5, 1000} {
				l, err := ComputeLayoutV2(imageBlocks, 0, blockBytes)
				assert.NoError(err)
				assert.NoError(l.validate())
				assert.Equal(imageBlocks, l.ImageBlocks)
				assert.Equal(imageBlocks, l.FirstBlocks+l.StripeBlocks*(l.NumStripes-1))
				assert.True(l.FirstBlocks >= 1 && l.FirstBlocks <= l.StripeBlocks)
				assert.True(l.MarkerBlocks >= 1)
			}
		})
	}
}

func TestComputeLayoutV2ShortStripeBoundaries(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	blockBytes := int64(2048)
	l, err := ComputeLayoutV2(1, 0, blockBytes)
	assert.NoError(err)
	assert.Equal(int64(1), l.NumStripes)
	assert.Equal(int64(1), l.FirstBlocks)

	stripeBlocks := l.StripeBlocks
	for _, n := range []int64{stripeBlocks - 1, stripeBlocks, stripeBlocks + 1} {
		if n < 1 {
			continue
		}
		l, err := ComputeLayoutV2(n, 0, blockBytes)
		assert.NoError(err)
		assert.NoError(l.validate())
	}
}

func TestComputeLayoutV2EmptyImage(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	_, err := ComputeLayoutV2(0, 0, 2048)
	assert.Error(err)
	assert.True(errors.Is(err, ErrPolicy))
}

func TestComputeLayoutV2OversizedImage(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	_, err := ComputeLayoutV2(1<<40, 0, 2048)
	assert.Error(err)
	assert.True(errors.Is(err, ErrPolicy))
}

func TestComputeLayoutV1(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	for _, imageBlocks := range []int64{1, 2, 5, 1000} {
		l, err := ComputeLayoutV1(imageBlocks, 0, 2048)
		assert.NoError(err)
		assert.Equal(imageBlocks, l.StripeBlocks*(l.NumStripes-1)+l.LastBlocks)
		assert.True(l.LastBlocks >= 1 && l.LastBlocks <= l.StripeBlocks)
	}
}

func TestLayoutOffsets(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	l, err := ComputeLayoutV2(10, 0, 2048)
	assert.NoError(err)
	assert.Equal(l.ImageBlocks*l.BlockBytes, l.Marker1OffsetBytes())
	assert.Equal(l.Marker1OffsetBytes()+l.MarkerBytes(), l.ParityOffsetBytes())
	assert.Equal(l.ParityOffsetBytes()+l.StripeBytes(), l.Marker2OffsetBytes())
	assert.Equal(l.Marker2OffsetBytes()+l.MarkerBytes(), l.TotalBytes())
}
