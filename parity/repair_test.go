package parity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"xorkevin.dev/klog"
)

func TestRepairNoCorruption(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, _ := buildMultiStripeImage(t)

	result, err := Repair(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.Equal(int64(-1), result.RepairedStripe)
	assert.False(result.RepairedParity)
}

func TestRepairFixesCorruptStripe(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, layout := buildMultiStripeImage(t)
	off := stripeSourceOffset(layout, 1)
	img.buf[off] ^= 0xff

	result, err := Repair(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.Equal(int64(1), result.RepairedStripe)

	verifyResult, err := Verify(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.Equal(0, verifyResult.ParityErrors)
}

func TestRepairFixesCorruptParity(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, layout := buildMultiStripeImage(t)
	img.buf[layout.ParityOffsetBytes()] ^= 0xff

	result, err := Repair(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.True(result.RepairedParity)

	verifyResult, err := Verify(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.Equal(0, verifyResult.ParityErrors)
}

func TestRepairFixesCorruptMarkerCopy(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, layout := buildMultiStripeImage(t)
	img.buf[layout.Marker1OffsetBytes()+10] ^= 0xff

	result, err := Repair(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.True(result.RepairedMarker1)

	verifyResult, err := Verify(context.Background(), klog.Discard{}, img, img.size())
	assert.NoError(err)
	assert.Equal(0, verifyResult.ParityErrors)
}

func TestRepairFailsWithTwoCorruptStripes(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	img, layout := buildMultiStripeImage(t)
	img.buf[stripeSourceOffset(layout, 1)] ^= 0xff
	img.buf[stripeSourceOffset(layout, 2)] ^= 0xff

	_, err := Repair(context.Background(), klog.Discard{}, img, img.size())
	assert.Error(err)
	assert.True(errors.Is(err, ErrTooManyErrors))
}
