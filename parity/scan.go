package parity

import (
	"xorkevin.dev/kerrors"
)

// scanWindowBytes is how much of the end of a media image the scanner reads
// into memory before walking it backwards for a marker.
const scanWindowBytes = 16 * 1024 * 1024

// ScanResult identifies the marker found nearest the end of a scanned
// buffer, along with its decoded block 0.
type ScanResult struct {
	// Offset is the byte offset, within the scanned buffer, of the marker's
	// block 0 (v2), or of the v1 record copy nearest the end of the buffer
	// (v1, whose record repeats across its whole block).
	Offset int64
	V1     *MarkerV1
	V2     *MarkerV2
}

// ScanBuffer walks buf from the high end backwards for a v1 or v2 marker,
// returning the hit closest to the end of the buffer. When both versions hit,
// v2 takes precedence if it is at or after v1's position.
func ScanBuffer(buf []byte) (*ScanResult, error) {
	v1Off, v1m := scanV1(buf)
	v2Off, v2m := scanV2(buf)

	if v1m == nil && v2m == nil {
		return nil, kerrors.WithKind(nil, ErrSignatureNotFound, "Marker not found")
	}
	if v2m != nil && (v1m == nil || v2Off >= v1Off) {
		return &ScanResult{Offset: v2Off, V2: v2m}, nil
	}
	return &ScanResult{Offset: v1Off, V1: v1m}, nil
}

func scanV1(buf []byte) (int64, *MarkerV1) {
	for off := len(buf) - MarkerV1Bytes; off >= 0; off -= MarkerV1Bytes {
		m, err := ParseMarkerV1(buf[off : off+MarkerV1Bytes])
		if err == nil {
			return int64(off), m
		}
	}
	return 0, nil
}

// v2 candidates are tested at 64-byte strides measured back from the end of
// buf: every real marker offset is block-size-aligned, and every supported
// block size is itself a multiple of 64 (the smallest supported size), so
// every candidate offset is reachable by stepping back from the end in
// fixed 64-byte strides.
const scanStrideV2 = 64

func scanV2(buf []byte) (int64, *MarkerV2) {
	start := len(buf) - scanStrideV2
	for off := start; off >= 0; off -= scanStrideV2 {
		m, err := ParseMarkerV2Block0(buf[off:])
		if err == nil {
			return int64(off), m
		}
	}
	return 0, nil
}
