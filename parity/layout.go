package parity

import (
	"xorkevin.dev/kerrors"
)

// guessThresholdsV2 are the fixed final-size guesses (in MiB) tried, in
// order, when the caller does not specify a final size for a v2 artifact.
var guessThresholdsV2 = []int64{650, 700, 4482, 23600}

// guessThresholdsV1 are the corresponding thresholds for the legacy v1
// format, which never grew beyond CD-sized media in practice.
var guessThresholdsV1 = []int64{650, 700}

const mib = 1024 * 1024

// Layout describes the v2 geometry of a parity-protected image.
type Layout struct {
	BlockBytes   int64
	ImageBlocks  int64
	StripeBlocks int64
	NumStripes   int64
	FirstBlocks  int64
	FirstOffset  int64
	MarkerBlocks int64
}

// LayoutV1 describes the v1 geometry, which differs only in where the short
// stripe lives.
type LayoutV1 struct {
	BlockBytes   int64
	ImageBlocks  int64
	StripeBlocks int64
	NumStripes   int64
	LastBlocks   int64
	StripeOffset int64
}

// GuessFinalBlocks picks the smallest fixed threshold at or above
// imageBlocks*blockBytes, for the given format generation. It returns
// ErrPolicy if the image exceeds every threshold.
func GuessFinalBlocks(imageBlocks, blockBytes int64, v2 bool) (int64, error) {
	thresholds := guessThresholdsV1
	if v2 {
		thresholds = guessThresholdsV2
	}
	for _, mb := range thresholds {
		finalBlocks := mb * mib / blockBytes
		if imageBlocks <= finalBlocks {
			return finalBlocks, nil
		}
	}
	return 0, kerrors.WithKind(nil, ErrPolicy, "Large image, must specify final size")
}

// ComputeLayoutV2 computes the v2 geometry per §4.2. finalBlocks == 0 means
// "guess" using GuessFinalBlocks.
func ComputeLayoutV2(imageBlocks, finalBlocks, blockBytes int64) (*Layout, error) {
	if imageBlocks < 1 {
		return nil, kerrors.WithKind(nil, ErrPolicy, "Image is empty")
	}
	if blockBytes < 64 || blockBytes&(blockBytes-1) != 0 {
		return nil, kerrors.WithKind(nil, ErrGeometry, "Block size must be a power of two >= 64")
	}
	if finalBlocks == 0 {
		var err error
		finalBlocks, err = GuessFinalBlocks(imageBlocks, blockBytes, true)
		if err != nil {
			return nil, err
		}
	}

	m0Lim := blockBytes/8 - 6
	miLim := blockBytes/8 - 2

	var stripeBlocks, numStripes, markerBlocks int64
	for markerBlocks = 1; ; markerBlocks++ {
		stripeBlocks = finalBlocks - imageBlocks - 2*markerBlocks
		if stripeBlocks < 1 {
			return nil, kerrors.WithKind(nil, ErrPolicy, "Final size is too small for image")
		}
		if stripeBlocks > imageBlocks {
			stripeBlocks = imageBlocks
		}
		numStripes = (imageBlocks + stripeBlocks - 1) / stripeBlocks
		if numStripes <= m0Lim+(markerBlocks-1)*miLim {
			break
		}
	}

	firstBlocks := imageBlocks - stripeBlocks*(numStripes-1)
	firstOffset := stripeBlocks - firstBlocks

	l := &Layout{
		BlockBytes:   blockBytes,
		ImageBlocks:  imageBlocks,
		StripeBlocks: stripeBlocks,
		NumStripes:   numStripes,
		FirstBlocks:  firstBlocks,
		FirstOffset:  firstOffset,
		MarkerBlocks: markerBlocks,
	}
	if err := l.validate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layout) validate() error {
	if l.FirstBlocks < 1 || l.FirstBlocks > l.StripeBlocks || l.StripeBlocks > l.ImageBlocks {
		return kerrors.WithKind(nil, ErrGeometry, "Invalid first stripe size")
	}
	if l.ImageBlocks != l.FirstBlocks+l.StripeBlocks*(l.NumStripes-1) {
		return kerrors.WithKind(nil, ErrGeometry, "Invalid number of stripes")
	}
	return nil
}

// StripeHashCapacity returns how many stripe hashes fit in marker block i
// (0 is the header block, with fewer slots than the continuation blocks).
func (l *Layout) StripeHashCapacity(i int64) int64 {
	if i == 0 {
		return l.BlockBytes/8 - 6
	}
	return l.BlockBytes/8 - 2
}

// MarkerBytes returns the total size, in bytes, of the marker.
func (l *Layout) MarkerBytes() int64 {
	return l.MarkerBlocks * l.BlockBytes
}

// StripeBytes returns the size, in bytes, of one full stripe (the parity
// buffer size).
func (l *Layout) StripeBytes() int64 {
	return l.StripeBlocks * l.BlockBytes
}

// ImageBytes, Marker1OffsetBytes, ParityOffsetBytes, Marker2OffsetBytes,
// TotalBytes report byte offsets of the on-disk layout in §6.
func (l *Layout) ImageBytes() int64         { return l.ImageBlocks * l.BlockBytes }
func (l *Layout) Marker1OffsetBytes() int64 { return l.ImageBytes() }
func (l *Layout) ParityOffsetBytes() int64  { return l.Marker1OffsetBytes() + l.MarkerBytes() }
func (l *Layout) Marker2OffsetBytes() int64 { return l.ParityOffsetBytes() + l.StripeBytes() }
func (l *Layout) TotalBytes() int64         { return l.Marker2OffsetBytes() + l.MarkerBytes() }

// ComputeLayoutV1 computes the legacy v1 geometry: marker_blocks is always 1
// and the short stripe is last, not first.
func ComputeLayoutV1(imageBlocks, finalBlocks, blockBytes int64) (*LayoutV1, error) {
	if imageBlocks < 1 {
		return nil, kerrors.WithKind(nil, ErrPolicy, "Image is empty")
	}
	if blockBytes < 64 {
		return nil, kerrors.WithKind(nil, ErrGeometry, "Block size too small for v1 marker")
	}
	if finalBlocks == 0 {
		var err error
		finalBlocks, err = GuessFinalBlocks(imageBlocks, blockBytes, false)
		if err != nil {
			return nil, err
		}
	}

	stripeBlocks := finalBlocks - imageBlocks - 2
	if stripeBlocks < 1 {
		return nil, kerrors.WithKind(nil, ErrPolicy, "Final size is too small for image")
	}
	if stripeBlocks > imageBlocks {
		stripeBlocks = imageBlocks
	}
	numStripes := (imageBlocks + stripeBlocks - 1) / stripeBlocks
	lastBlocks := imageBlocks - stripeBlocks*(numStripes-1)
	stripeOffset := stripeBlocks - lastBlocks

	l := &LayoutV1{
		BlockBytes:   blockBytes,
		ImageBlocks:  imageBlocks,
		StripeBlocks: stripeBlocks,
		NumStripes:   numStripes,
		LastBlocks:   lastBlocks,
		StripeOffset: stripeOffset,
	}
	if l.LastBlocks < 1 || l.LastBlocks > l.StripeBlocks || l.StripeBlocks > l.ImageBlocks {
		return nil, kerrors.WithKind(nil, ErrGeometry, "Invalid last stripe size")
	}
	if l.ImageBlocks != l.StripeBlocks*(l.NumStripes-1)+l.LastBlocks {
		return nil, kerrors.WithKind(nil, ErrGeometry, "Invalid number of stripes")
	}
	return l, nil
}

func (l *LayoutV1) StripeBytes() int64        { return l.StripeBlocks * l.BlockBytes }
func (l *LayoutV1) ImageBytes() int64         { return l.ImageBlocks * l.BlockBytes }
func (l *LayoutV1) Marker1OffsetBytes() int64 { return l.ImageBytes() }
func (l *LayoutV1) ParityOffsetBytes() int64  { return l.Marker1OffsetBytes() + l.BlockBytes }
func (l *LayoutV1) Marker2OffsetBytes() int64 { return l.ParityOffsetBytes() + l.StripeBytes() }
func (l *LayoutV1) TotalBytes() int64         { return l.Marker2OffsetBytes() + l.BlockBytes }
