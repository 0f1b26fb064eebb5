package parity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"xorkevin.dev/klog"
)

func buildAndVerify(t *testing.T, imageBlocks, blockBytes int64, opts BuildOptions) (*memImage, *Layout) {
	t.Helper()
	assert := require.New(t)

	img := newMemImage(imageBlocks * blockBytes)
	fillPattern(img.buf, 0x5a)

	opts.BlockBytes = blockBytes
	layout, err := BuildParity(context.Background(), klog.Discard{}, img, img.size(), opts)
	assert.NoError(err)
	assert.Equal(imageBlocks, layout.ImageBlocks)

	result, err := Verify(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.Equal(2, result.Version)
	assert.Equal(0, result.ParityErrors)

	return img, layout
}

func TestBuildParityRoundTrip(t *testing.T) {
	t.Parallel()

	for _, blockBytes := range []int64{64, 512, 2048, 4096} {
		blockBytes := blockBytes
		for _, imageBlocks := range []int64{1, 2, 5, 1000} {
			imageBlocks := imageBlocks
			t.Run("", func(t *testing.T) {
				t.Parallel()
				buildAndVerify(t, imageBlocks, blockBytes, BuildOptions{})
			})
		}
	}
}

func TestBuildParityNonAlignedRequiresPad(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img := newMemImage(1000)
	fillPattern(img.buf, 1)

	_, err := BuildParity(context.Background(), klog.Discard{}, img, img.size(), BuildOptions{BlockBytes: 2048})
	assert.Error(err)
	assert.True(errors.Is(err, ErrPolicy))
}

func TestBuildParityPadGrowsImage(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img := newMemImage(1000)
	fillPattern(img.buf, 1)

	layout, err := BuildParity(context.Background(), klog.Discard{}, img, img.size(), BuildOptions{BlockBytes: 2048, Pad: true})
	assert.NoError(err)
	assert.Equal(int64(1), layout.ImageBlocks)

	result, err := Verify(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.Equal(0, result.ParityErrors)
}

func TestBuildParityRefusesExistingWithoutForce(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, _ := buildAndVerify(t, 5, 2048, BuildOptions{})

	_, err := BuildParity(context.Background(), klog.Discard{}, img, img.size(), BuildOptions{BlockBytes: 2048})
	assert.Error(err)
	assert.True(errors.Is(err, ErrPolicy))
}

func TestBuildParityForceAppendsSecondLayer(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, firstLayout := buildAndVerify(t, 5, 2048, BuildOptions{})
	firstTotal := firstLayout.TotalBytes()

	secondLayout, err := BuildParity(context.Background(), klog.Discard{}, img, img.size(), BuildOptions{BlockBytes: 2048, Force: true})
	assert.NoError(err)
	assert.Equal(firstTotal, secondLayout.ImageBlocks*secondLayout.BlockBytes)
	assert.True(secondLayout.TotalBytes() > firstTotal)

	result, err := Verify(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.Equal(0, result.ParityErrors)
}
