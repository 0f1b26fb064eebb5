package parity

import (
	"context"
	"io"

	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"
)

// rescueBufferBytes bounds the large sequential read Pass A issues at a
// time, per §5's "large I/O buffer (≤16 MiB)".
const rescueBufferBytes = 16 * 1024 * 1024

// LocateLayoutV1 scans the tail of src for a v1 marker and reconstructs its
// geometry. Rescue callers use this against the source media before any
// blocks are known to be damaged; Rescue itself takes the resulting layout
// rather than locating its own marker, since a damaged source may not have a
// readable marker by the time rescue runs.
func LocateLayoutV1(src io.ReaderAt, totalSize int64) (*LayoutV1, error) {
	res, _, err := scanTail(src, totalSize)
	if err != nil {
		return nil, err
	}
	if res.V1 == nil {
		return nil, kerrors.WithKind(nil, ErrGeometry, "Rescue requires a v1 marker")
	}
	return layoutFromMarkerV1(res.V1), nil
}

// RescueResult reports the outcome of a rescue run, per §4.8.
type RescueResult struct {
	ImageBlocks      int64
	BlocksRecovered  int64
	UnrecoverableCol []int
	ParityErrors     int
}

// Rescue implements the v1 rescuer described in §4.8. Unlike Verify and
// Repair, it does not locate its own marker: the caller supplies an already
// validated v1 layout, since the whole point of rescue is recovering from
// sector errors on the very media that would otherwise hold a readable
// marker. src is read-only with possible per-read failures at any offset;
// dst is a freshly created, write-only output sized to at least
// l.ImageBytes().
func Rescue(ctx context.Context, log klog.Logger, l *LayoutV1, src io.ReaderAt, dst io.WriterAt) (*RescueResult, error) {
	lg := klog.NewLevelLogger(log)

	totalBlocks := l.ImageBlocks + l.StripeBlocks + 1
	numRows := int(l.NumStripes) + 1
	parityRow := numRows - 1
	lastRow := int(l.NumStripes) - 1

	seen := newBitmap2d(numRows, int(l.StripeBlocks))
	// columns beyond last_blocks have no block in the short last stripe;
	// mark them seen there from the start so column-completeness checks for
	// the other rows don't wait on a block that doesn't exist.
	for col := int(l.LastBlocks); col < int(l.StripeBlocks); col++ {
		seen.Set(lastRow, col)
	}

	accBuf := make([]byte, l.StripeBlocks*l.BlockBytes)
	columnOf := func(col int) []byte {
		return accBuf[int64(col)*l.BlockBytes : int64(col+1)*l.BlockBytes]
	}

	var recovered int64

	applyBlock := func(idx int64, data []byte) error {
		row, col, isParity, isMarker := classifyV1(l, idx)
		if isMarker {
			return nil
		}
		memxor(columnOf(col), data)
		if isParity {
			seen.Set(parityRow, col)
			return nil
		}
		if _, err := dst.WriteAt(data, idx*l.BlockBytes); err != nil {
			return kerrors.WithMsg(err, "Failed writing output")
		}
		seen.Set(row, col)
		recovered++
		return nil
	}

	blocksPerRead := rescueBufferBytes / int(l.BlockBytes)
	if blocksPerRead < 1 {
		blocksPerRead = 1
	}
	buf := make([]byte, int64(blocksPerRead)*l.BlockBytes)

	for base := int64(0); base < totalBlocks; base += int64(blocksPerRead) {
		n := int64(blocksPerRead)
		if base+n > totalBlocks {
			n = totalBlocks - base
		}
		chunk := buf[:n*l.BlockBytes]
		if _, err := src.ReadAt(chunk, base*l.BlockBytes); err != nil {
			lg.Warn(ctx, "Sequential sweep read failed",
				klog.AInt64("firstBlock", base), klog.AInt64("blocks", n))
			continue
		}
		for i := int64(0); i < n; i++ {
			if err := applyBlock(base+i, chunk[i*l.BlockBytes:(i+1)*l.BlockBytes]); err != nil {
				return nil, err
			}
		}
	}

	scratch := make([]byte, l.BlockBytes)
	for recovered < l.ImageBlocks {
		progressed := false
		for idx := int64(0); idx < totalBlocks; idx++ {
			row, col, isParity, isMarker := classifyV1(l, idx)
			if isMarker {
				continue
			}
			targetRow := row
			if isParity {
				targetRow = parityRow
			}
			if seen.Test(targetRow, col) {
				continue
			}

			if seen.ColumnKnownExcept(col, targetRow) {
				region := columnOf(col)
				if !isParity {
					if _, err := dst.WriteAt(region, idx*l.BlockBytes); err != nil {
						return nil, kerrors.WithMsg(err, "Failed writing output")
					}
					recovered++
				}
				clear(region)
				seen.Set(targetRow, col)
				progressed = true
				continue
			}

			if _, err := src.ReadAt(scratch, idx*l.BlockBytes); err != nil {
				continue
			}
			if err := applyBlock(idx, scratch); err != nil {
				return nil, err
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}

	var unrecoverable []int
	for col := 0; col < int(l.StripeBlocks); col++ {
		if !seen.ColumnKnownExcept(col, -1) {
			unrecoverable = append(unrecoverable, col)
		}
	}

	if recovered < l.ImageBlocks {
		lg.Warn(ctx, "Rescue ended with unrecovered blocks",
			klog.AInt64("recovered", recovered),
			klog.AInt64("imageBlocks", l.ImageBlocks),
			klog.AInt("unrecoverableColumns", len(unrecoverable)))
	} else {
		lg.Info(ctx, "Rescue recovered full image", klog.AInt64("imageBlocks", l.ImageBlocks))
	}

	return &RescueResult{
		ImageBlocks:      l.ImageBlocks,
		BlocksRecovered:  recovered,
		UnrecoverableCol: unrecoverable,
		ParityErrors:     countNonZero(accBuf),
	}, nil
}

// classifyV1 maps a global block index in [0, image_blocks+stripe_blocks+1)
// to its (row, column) position in the rescue bitmap, per §4.8's Pass A
// classification.
func classifyV1(l *LayoutV1, idx int64) (row, col int, isParity, isMarker bool) {
	switch {
	case idx < l.ImageBlocks:
		return int(idx / l.StripeBlocks), int(idx % l.StripeBlocks), false, false
	case idx == l.ImageBlocks:
		return 0, 0, false, true
	default:
		seq := idx - l.ImageBlocks - 1
		col := int((seq + l.StripeBlocks - l.StripeOffset) % l.StripeBlocks)
		return 0, col, true, false
	}
}
