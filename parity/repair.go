package parity

import (
	"context"

	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"
)

// RepairResult summarizes what a repair run found and fixed, per §4.7.
type RepairResult struct {
	Layout          *Layout
	RepairedStripe  int64 // -1 if no stripe was repaired
	RepairedParity  bool
	RepairedMarker1 bool
	RepairedMarker2 bool
}

// Repair implements the v2 repairer described in §4.7: it performs
// everything Verify does, but records per-region validity instead of
// aborting on the first failure, and attempts single-region recovery.
func Repair(ctx context.Context, log klog.Logger, img Image, totalSize int64) (*RepairResult, error) {
	l := klog.NewLevelLogger(log)

	res, tailOff, err := scanTail(img, totalSize)
	if err != nil {
		return nil, err
	}
	if res.V2 == nil {
		return nil, kerrors.WithKind(nil, ErrGeometry, "Repair only supports v2 artifacts")
	}
	found := res.V2
	marker2Offset := tailOff + res.Offset

	layout := layoutFromMarkerV2(found)
	if err := layout.validate(); err != nil {
		return nil, err
	}
	if layout.TotalBytes() != totalSize || layout.Marker2OffsetBytes() != marker2Offset {
		return nil, kerrors.WithKind(nil, ErrGeometry, "Marker geometry does not match media size")
	}

	result := &RepairResult{Layout: layout, RepairedStripe: -1}

	marker1, err1 := readMarkerCopyV2(img, layout.Marker1OffsetBytes(), found)
	marker2, err2 := readMarkerCopyV2(img, layout.Marker2OffsetBytes(), found)
	if err1 != nil && err2 != nil {
		return nil, kerrors.WithKind(err1, ErrMarkerChecksum, "Both marker copies are unreadable")
	}

	var marker *MarkerV2
	switch {
	case err1 != nil:
		l.Warn(ctx, "Marker copy 1 corrupt, repairing from copy 2")
		if err := writeChunked(img, layout.Marker1OffsetBytes(), marker2.MarshalAll()); err != nil {
			return nil, kerrors.WithMsg(err, "Failed rewriting marker copy 1")
		}
		result.RepairedMarker1 = true
		marker = marker2
	case err2 != nil:
		l.Warn(ctx, "Marker copy 2 corrupt, repairing from copy 1")
		if err := writeChunked(img, layout.Marker2OffsetBytes(), marker1.MarshalAll()); err != nil {
			return nil, kerrors.WithMsg(err, "Failed rewriting marker copy 2")
		}
		result.RepairedMarker2 = true
		marker = marker1
	default:
		if !markersAgreeOnHeader(marker1, marker2) {
			return nil, kerrors.WithKind(nil, ErrGeometry, "Marker copies disagree on block 0")
		}
		marker = marker1
	}

	parity := make([]byte, layout.StripeBytes())
	if _, err := img.ReadAt(parity, layout.ParityOffsetBytes()); err != nil {
		return nil, kerrors.WithMsg(err, "Failed reading parity")
	}
	parityOK := marker.ComputeParityHash(parity) == marker.ParityHash

	acc := make([]byte, len(parity))
	copy(acc, parity)
	stripeOK, err := foldStripesV2(img, layout, marker, acc, foldModeCheck, nil)
	if err != nil {
		return nil, err
	}

	bad := 0
	if !parityOK {
		bad++
	}
	var badStripe int64 = -1
	for i, ok := range stripeOK {
		if !ok {
			bad++
			badStripe = int64(i)
		}
	}

	switch {
	case bad == 0:
		if countNonZero(acc) != 0 {
			return nil, kerrors.WithKind(nil, ErrParityMismatch, "Undetectable corruption: parity residual is non-zero")
		}
		l.Info(ctx, "Repair: no corruption found")
		return result, nil

	case bad == 1:
		if !parityOK {
			if err := repairParity(img, layout, marker, parity, acc); err != nil {
				return nil, err
			}
			result.RepairedParity = true
			l.Info(ctx, "Repaired parity region")
			return result, nil
		}
		if err := repairStripe(img, layout, marker, acc, badStripe); err != nil {
			return nil, err
		}
		result.RepairedStripe = badStripe
		l.Info(ctx, "Repaired stripe", klog.AInt64("stripe", badStripe))
		return result, nil

	default:
		return nil, kerrors.WithKind(nil, ErrTooManyErrors, "Too many errors")
	}
}

// markersAgreeOnHeader reports whether two independently decoded marker
// copies describe the same geometry. Disagreement here means block 0 itself
// is inconsistent between copies, which §4.7 treats as unrecoverable.
func markersAgreeOnHeader(a, b *MarkerV2) bool {
	return a.BlockBytes == b.BlockBytes &&
		a.DateTime == b.DateTime &&
		a.NumStripes == b.NumStripes &&
		a.FirstBlocks == b.FirstBlocks &&
		a.StripeBlocks == b.StripeBlocks &&
		a.ImageBlocks == b.ImageBlocks &&
		a.ParityHash == b.ParityHash
}

// repairParity rewrites the parity region in place. acc, after folding every
// on-disk stripe into a copy of the on-disk parity, holds only the error
// pattern between the true and on-disk parity (per cdrrepair.c:387-392): the
// true parity is recovered by XORing that error pattern back into the
// original on-disk parity bytes, not by using acc as-is.
func repairParity(img Image, l *Layout, marker *MarkerV2, parity, acc []byte) error {
	trueParity := make([]byte, len(parity))
	copy(trueParity, parity)
	memxor(trueParity, acc)
	if marker.ComputeParityHash(trueParity) != marker.ParityHash {
		return kerrors.WithKind(nil, ErrParityMismatch, "Repair failed: reconstructed parity does not match hash")
	}
	return writeChunked(img, l.ParityOffsetBytes(), trueParity)
}

// repairStripe reconstructs stripe s and rewrites it in place on the image.
// The corresponding region of acc holds only the error pattern between the
// true and on-disk stripe (every other stripe folded cleanly to zero): the
// true stripe is recovered by re-reading the on-disk stripe and XORing that
// error pattern back into it, per cdrrepair.c:124-166.
func repairStripe(img Image, l *Layout, marker *MarkerV2, acc []byte, s int64) error {
	blocks := l.StripeBlocks
	dstOff := int64(0)
	if s == 0 {
		blocks = l.FirstBlocks
		dstOff = l.FirstOffset * l.BlockBytes
		// every byte of acc outside the short stripe's tail alignment must be
		// zero: the only nonzero region is the error pattern itself.
		if countNonZero(acc[:dstOff]) != 0 {
			return kerrors.WithKind(nil, ErrTooManyErrors, "Repair failed: corruption outside the short stripe")
		}
	}
	errPattern := acc[dstOff : dstOff+blocks*l.BlockBytes]

	srcOff := stripeSourceOffset(l, s)
	region := make([]byte, blocks*l.BlockBytes)
	if _, err := img.ReadAt(region, srcOff); err != nil {
		return kerrors.WithMsg(err, "Failed reading stripe")
	}
	memxor(region, errPattern)

	prf := NewPRF(marker.markerHashKey(uint16(s)))
	if _, err := prf.Write(region); err != nil {
		return kerrors.WithMsg(err, "Failed hashing reconstructed stripe")
	}
	if prf.Sum64() != marker.StripeHashes[s] {
		return kerrors.WithKind(nil, ErrStripeHash, "Repair failed: reconstructed stripe does not match hash")
	}

	return writeChunked(img, srcOff, region)
}
