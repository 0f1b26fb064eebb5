package parity

import (
	"context"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"time"

	"golang.org/x/crypto/blake2b"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"
)

// maxChunkBytes bounds a single positional write, per §4.5: writes larger
// than this are split to accommodate OS limits. It does not change the byte
// layout, only how many syscalls produce it.
const maxChunkBytes = 1 << 30

const defaultBlockBytes = 2048

// Image is the random-access surface the builder, verifier, and repairer
// need over an on-disk artifact: positional reads and writes, plus
// truncation to pad an image to a block boundary.
type Image interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
}

// BuildOptions carries the parity-add command line surface from §6.
type BuildOptions struct {
	BlockBytes  int64
	FinalBytes  int64 // 0 means guess, per §4.2 step 1
	Pad         bool
	Force       bool
	ContentHash bool
}

// BuildParity implements §4.4 and §4.5: it folds imageSize bytes of img into
// a fresh v2 marker and parity region and appends them in place. imageSize is
// the caller's own stat of the image before any padding this call performs.
func BuildParity(ctx context.Context, log klog.Logger, img Image, imageSize int64, opts BuildOptions) (*Layout, error) {
	l := klog.NewLevelLogger(log)

	blockBytes := opts.BlockBytes
	if blockBytes == 0 {
		blockBytes = defaultBlockBytes
	}

	imageBlocks := imageSize / blockBytes
	if rem := imageSize % blockBytes; rem != 0 {
		if !opts.Pad {
			return nil, kerrors.WithKind(nil, ErrPolicy, "Image size is not a multiple of block size")
		}
		imageBlocks++
		padded := imageBlocks * blockBytes
		if err := img.Truncate(padded); err != nil {
			return nil, kerrors.WithMsg(err, "Failed padding image")
		}
		imageSize = padded
		l.Debug(ctx, "Padded image to block boundary", klog.AInt64("bytes", padded))
	}

	if !opts.Force {
		if existing, err := hasExistingParity(img, imageSize); err != nil {
			return nil, err
		} else if existing {
			return nil, kerrors.WithKind(nil, ErrPolicy, "Image already has parity, use -f to force")
		}
	}

	finalBlocks := opts.FinalBytes / blockBytes
	layout, err := ComputeLayoutV2(imageBlocks, finalBlocks, blockBytes)
	if err != nil {
		return nil, err
	}

	l.Info(ctx, "Computed layout",
		klog.AInt64("imageBlocks", layout.ImageBlocks),
		klog.AInt64("stripeBlocks", layout.StripeBlocks),
		klog.AInt64("numStripes", layout.NumStripes),
		klog.AInt64("markerBlocks", layout.MarkerBlocks),
	)

	marker := NewMarkerV2(layout, time.Now().UnixNano())
	parityBuf := make([]byte, layout.StripeBytes())

	var contentHash hash.Hash
	if opts.ContentHash {
		contentHash, err = blake2b.New512(nil)
		if err != nil {
			return nil, kerrors.WithMsg(err, "Failed to create content hash")
		}
	}

	if _, err := foldStripesV2(img, layout, marker, parityBuf, foldModeBuild, contentHash); err != nil {
		return nil, err
	}
	marker.ParityHash = marker.ComputeParityHash(parityBuf)

	if contentHash != nil {
		l.Info(ctx, "Image content hash",
			klog.AString("algo", "blake2b-512"),
			klog.AString("hash", hex.EncodeToString(contentHash.Sum(nil))),
		)
	}

	markerBytes := marker.MarshalAll()
	if err := writeChunked(img, layout.Marker1OffsetBytes(), markerBytes); err != nil {
		return nil, kerrors.WithMsg(err, "Failed writing marker copy 1")
	}
	if err := writeChunked(img, layout.ParityOffsetBytes(), parityBuf); err != nil {
		return nil, kerrors.WithMsg(err, "Failed writing parity")
	}
	if err := writeChunked(img, layout.Marker2OffsetBytes(), markerBytes); err != nil {
		return nil, kerrors.WithMsg(err, "Failed writing marker copy 2")
	}

	l.Info(ctx, "Wrote parity", klog.AInt64("totalBytes", layout.TotalBytes()))
	return layout, nil
}

// hasExistingParity reports whether a marker can already be found in the
// tail of the image, per the -f policy check in §6.
func hasExistingParity(img io.ReaderAt, imageSize int64) (bool, error) {
	window := scanWindowBytes
	if int64(window) > imageSize {
		window = int(imageSize)
	}
	if window == 0 {
		return false, nil
	}
	buf := make([]byte, window)
	if _, err := img.ReadAt(buf, imageSize-int64(window)); err != nil && err != io.EOF {
		return false, kerrors.WithMsg(err, "Failed reading image")
	}
	_, err := ScanBuffer(buf)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrSignatureNotFound) {
		return false, nil
	}
	return false, err
}

func writeChunked(img io.WriterAt, offset int64, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > maxChunkBytes {
			n = maxChunkBytes
		}
		written, err := img.WriteAt(data[:n], offset)
		if err != nil {
			return err
		}
		if written != n {
			return io.ErrShortWrite
		}
		offset += int64(written)
		data = data[n:]
	}
	return nil
}

// stripeSourceOffset returns the byte offset within the image of stripe s's
// first block. Stripe 0 is the short first stripe in v2 geometry.
func stripeSourceOffset(l *Layout, s int64) int64 {
	if s == 0 {
		return 0
	}
	return (l.FirstBlocks + (s-1)*l.StripeBlocks) * l.BlockBytes
}

type stripeFoldMode int

const (
	// foldModeBuild writes freshly computed hashes into marker.StripeHashes.
	foldModeBuild stripeFoldMode = iota
	// foldModeCheck compares computed hashes against marker.StripeHashes,
	// leaving the marker untouched.
	foldModeCheck
)

// foldStripesV2 XORs every image stripe into acc, in v2's column alignment
// (stripe 0 is short and aligned to the tail of the stripe buffer), and
// either records or checks each stripe's keyed hash depending on mode. It
// returns, per stripe, whether the computed hash is valid (always true in
// build mode). contentHash, if non-nil, additionally accumulates every block
// read for an operator-facing whole-image digest.
func foldStripesV2(img io.ReaderAt, l *Layout, marker *MarkerV2, acc []byte, mode stripeFoldMode, contentHash hash.Hash) ([]bool, error) {
	stripeOK := make([]bool, l.NumStripes)
	scratch := make([]byte, l.BlockBytes)

	for s := int64(0); s < l.NumStripes; s++ {
		blocks := l.StripeBlocks
		dstOff := int64(0)
		if s == 0 {
			blocks = l.FirstBlocks
			dstOff = l.FirstOffset * l.BlockBytes
		}
		srcOff := stripeSourceOffset(l, s)

		prf := NewPRF(marker.markerHashKey(uint16(s)))
		for b := int64(0); b < blocks; b++ {
			if _, err := img.ReadAt(scratch, srcOff+b*l.BlockBytes); err != nil {
				return nil, kerrors.WithMsg(err, "Failed reading image")
			}
			memxor(acc[dstOff+b*l.BlockBytes:dstOff+(b+1)*l.BlockBytes], scratch)
			if _, err := prf.Write(scratch); err != nil {
				return nil, kerrors.WithMsg(err, "Failed updating stripe hash")
			}
			if contentHash != nil {
				if _, err := contentHash.Write(scratch); err != nil {
					return nil, kerrors.WithMsg(err, "Failed updating content hash")
				}
			}
		}

		sum := prf.Sum64()
		if mode == foldModeBuild {
			marker.StripeHashes[s] = sum
			stripeOK[s] = true
		} else {
			stripeOK[s] = sum == marker.StripeHashes[s]
		}
	}
	return stripeOK, nil
}
