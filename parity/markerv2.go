package parity

import (
	"bytes"
	"encoding/binary"

	"xorkevin.dev/kerrors"
)

const sigV2 = uint32(0x972fae43)
const sigRV2 = uint32(0x43ae2f97)

// header0FieldWords is the number of u64 words occupied by block 0's fixed
// header fields, before the packed stripe hashes begin: signature+log2+index
// (1 word), date_time (1 word), num_stripes+first_blocks (1 word),
// stripe_blocks+image_blocks (1 word), parity_hash (1 word).
const header0FieldWords = 5

// header0Words is the total overhead, in words, reserved out of every
// marker_blocks capacity computation for block 0: the fixed header fields
// plus the trailing block checksum word.
const header0Words = header0FieldWords + 1

// headerIFieldWords is the corresponding fixed-field width for continuation
// blocks: just the signature+log2+index word.
const headerIFieldWords = 1

// headerIWords is the total overhead for continuation blocks: the header
// word plus the trailing checksum word.
const headerIWords = headerIFieldWords + 1

// MarkerV2 is the in-memory representation of a v2 marker: the block-0
// header fields plus the full, logically-contiguous set of per-stripe
// hashes, which are packed across marker_blocks on the wire.
type MarkerV2 struct {
	BlockBytes   int64
	Index        uint16 // block-0 index, always 0; hashing passes the stripe ordinal to markerHashKey instead
	DateTime     int64  // unix nanoseconds
	NumStripes   int64
	FirstBlocks  int64
	StripeBlocks int64
	ImageBlocks  int64
	ParityHash   uint64
	StripeHashes []uint64 // len == NumStripes

	wrongEndian bool // set when decoded from a byte-swapped artifact
}

// NewMarkerV2 builds an empty marker from a layout, ready to have its
// stripe hashes and parity hash filled in by the parity builder.
func NewMarkerV2(l *Layout, dateTime int64) *MarkerV2 {
	return &MarkerV2{
		BlockBytes:   l.BlockBytes,
		NumStripes:   l.NumStripes,
		FirstBlocks:  l.FirstBlocks,
		StripeBlocks: l.StripeBlocks,
		ImageBlocks:  l.ImageBlocks,
		DateTime:     dateTime,
		StripeHashes: make([]uint64, l.NumStripes),
	}
}

func (m *MarkerV2) blockLog2() uint16 {
	v := uint16(0)
	for b := m.BlockBytes; b > 1; b >>= 1 {
		v++
	}
	return v
}

func (m *MarkerV2) m0Lim() int64 { return m.BlockBytes/8 - header0Words }
func (m *MarkerV2) miLim() int64 { return m.BlockBytes/8 - headerIWords }

// MarkerBlocks returns how many marker blocks are needed to pack every
// stripe hash.
func (m *MarkerV2) MarkerBlocks() int64 {
	n := m.NumStripes
	m0 := m.m0Lim()
	if n <= m0 {
		return 1
	}
	mi := m.miLim()
	return 1 + (n-m0+mi-1)/mi
}

// hashRange returns the half-open [lo, hi) slice of StripeHashes packed into
// marker block i.
func (m *MarkerV2) hashRange(i int64) (int64, int64) {
	m0 := m.m0Lim()
	if i == 0 {
		hi := m0
		if hi > m.NumStripes {
			hi = m.NumStripes
		}
		return 0, hi
	}
	mi := m.miLim()
	lo := m0 + (i-1)*mi
	hi := lo + mi
	if hi > m.NumStripes {
		hi = m.NumStripes
	}
	if lo > m.NumStripes {
		lo = m.NumStripes
	}
	return lo, hi
}

// markerHashKey returns the 16-byte immutable header prefix used to key the
// per-stripe and parity PRF: signature, block_log2, idx, and date_time, per
// the original's siphash key. idx is the stripe ordinal (or num_stripes for
// the parity hash), entangling the hash with stripe position so that
// swapped stripes are detected. Unlike the old "mutable header" key, this
// deliberately excludes parity_hash and every geometry field: those are
// written after the stripe hashes are computed, and a key built from them
// would not survive the build-to-verify round trip.
func (m *MarkerV2) markerHashKey(idx uint16) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], sigV2)
	binary.LittleEndian.PutUint16(buf[4:], m.blockLog2())
	binary.LittleEndian.PutUint16(buf[6:], idx)
	binary.LittleEndian.PutUint64(buf[8:], uint64(m.DateTime))
	return buf
}

// marshalHeader0 encodes the fixed-size block-0 header fields (the first
// header0FieldWords*8 bytes) in canonical, little-endian bytes.
// Byte-swapping for a wrong-endian artifact is applied afterward, as a
// single whole-block transform, never baked into this encoding.
func (m *MarkerV2) marshalHeader0() []byte {
	buf := make([]byte, header0FieldWords*8)
	binary.LittleEndian.PutUint32(buf[0:], sigV2)
	binary.LittleEndian.PutUint16(buf[4:], m.blockLog2())
	binary.LittleEndian.PutUint16(buf[6:], m.Index)
	binary.LittleEndian.PutUint64(buf[8:], uint64(m.DateTime))
	binary.LittleEndian.PutUint32(buf[16:], uint32(m.NumStripes))
	binary.LittleEndian.PutUint32(buf[20:], uint32(m.FirstBlocks))
	binary.LittleEndian.PutUint32(buf[24:], uint32(m.StripeBlocks))
	binary.LittleEndian.PutUint32(buf[28:], uint32(m.ImageBlocks))
	binary.LittleEndian.PutUint64(buf[32:], m.ParityHash)
	return buf
}

// MarshalBlock encodes marker block i (0-based) in full, including the
// trailing PRF block checksum keyed by the all-zero key. Markers produced by
// this package are always written little-endian.
func (m *MarkerV2) MarshalBlock(i int64) []byte {
	return m.marshalBlockSwapped(i, false)
}

// marshalBlockCanonical builds marker block i's bytes in little-endian order,
// including the trailing block checksum computed over those canonical
// bytes. Swapping, when needed, is applied afterward to the whole buffer by
// marshalBlockSwapped, so the checksum word is swapped exactly like every
// other field instead of being computed over already-swapped data.
func (m *MarkerV2) marshalBlockCanonical(i int64) []byte {
	buf := make([]byte, m.BlockBytes)
	if i == 0 {
		copy(buf, m.marshalHeader0())
		lo, hi := m.hashRange(0)
		off := header0FieldWords * 8
		for _, h := range m.StripeHashes[lo:hi] {
			binary.LittleEndian.PutUint64(buf[off:], h)
			off += 8
		}
	} else {
		binary.LittleEndian.PutUint32(buf[0:], sigV2)
		binary.LittleEndian.PutUint16(buf[4:], m.blockLog2())
		binary.LittleEndian.PutUint16(buf[6:], uint16(i))
		lo, hi := m.hashRange(i)
		off := 8
		for _, h := range m.StripeHashes[lo:hi] {
			binary.LittleEndian.PutUint64(buf[off:], h)
			off += 8
		}
	}
	checksum := prfOnce(zeroKey, buf[:m.BlockBytes-8])
	binary.LittleEndian.PutUint64(buf[m.BlockBytes-8:], checksum)
	return buf
}

func (m *MarkerV2) marshalBlockSwapped(i int64, swap bool) []byte {
	buf := m.marshalBlockCanonical(i)
	if !swap {
		return buf
	}
	if i == 0 {
		return swapBlock0(buf)
	}
	return swapBlockI(buf)
}

// swapBlock0 returns a copy of a canonical (or fully byte-swapped) block-0
// buffer with every multi-byte field reversed in place at its native width:
// signature (u32), block_log2 and index (u16 each), date_time (u64), the
// four u32 geometry fields, and then parity_hash, every packed stripe hash,
// and the trailing block checksum as one contiguous run of u64 words -- they
// sit back to back on the wire, so a single loop covers all three. Because
// swapEndian16/32/64 are involutions, swapBlock0 is its own inverse: it both
// produces a wrong-endian block from a canonical one and recovers a
// canonical block from a wrong-endian one.
func swapBlock0(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	binary.LittleEndian.PutUint32(out[0:], swapEndian32(binary.LittleEndian.Uint32(b[0:])))
	binary.LittleEndian.PutUint16(out[4:], swapEndian16(binary.LittleEndian.Uint16(b[4:])))
	binary.LittleEndian.PutUint16(out[6:], swapEndian16(binary.LittleEndian.Uint16(b[6:])))
	binary.LittleEndian.PutUint64(out[8:], swapEndian64(binary.LittleEndian.Uint64(b[8:])))
	for off := 16; off < 32; off += 4 {
		binary.LittleEndian.PutUint32(out[off:], swapEndian32(binary.LittleEndian.Uint32(b[off:])))
	}
	for off := 32; off+8 <= len(b); off += 8 {
		binary.LittleEndian.PutUint64(out[off:], swapEndian64(binary.LittleEndian.Uint64(b[off:])))
	}
	return out
}

// swapBlockI is swapBlock0's counterpart for continuation blocks: signature,
// block_log2 and index, then every packed stripe hash and the trailing
// checksum as one contiguous run of u64 words starting right after the
// header word. Also its own inverse.
func swapBlockI(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	binary.LittleEndian.PutUint32(out[0:], swapEndian32(binary.LittleEndian.Uint32(b[0:])))
	binary.LittleEndian.PutUint16(out[4:], swapEndian16(binary.LittleEndian.Uint16(b[4:])))
	binary.LittleEndian.PutUint16(out[6:], swapEndian16(binary.LittleEndian.Uint16(b[6:])))
	for off := 8; off+8 <= len(b); off += 8 {
		binary.LittleEndian.PutUint64(out[off:], swapEndian64(binary.LittleEndian.Uint64(b[off:])))
	}
	return out
}

// MarshalAll encodes every marker block, concatenated, little-endian.
func (m *MarkerV2) MarshalAll() []byte {
	return m.marshalAllSwapped(false)
}

// MarshalAllCanonical reconstructs the marker exactly as it should appear on
// disk, including byte order: used to bit-compare a decoded marker's two
// on-disk copies against what the header+hashes predict.
func (m *MarkerV2) MarshalAllCanonical() []byte {
	return m.marshalAllSwapped(m.wrongEndian)
}

func (m *MarkerV2) marshalAllSwapped(swap bool) []byte {
	blocks := m.MarkerBlocks()
	buf := make([]byte, 0, blocks*m.BlockBytes)
	for i := int64(0); i < blocks; i++ {
		buf = append(buf, m.marshalBlockSwapped(i, swap)...)
	}
	return buf
}

// ParseMarkerV2Block0 decodes and validates block 0 of a candidate marker,
// detecting and reversing the wrong-endian case, but does not yet know how
// many marker blocks follow (that requires re-deriving marker_blocks from
// num_stripes, done by the caller once decoded).
func ParseMarkerV2Block0(b []byte) (*MarkerV2, error) {
	if len(b) < int(headerIWords*8) {
		return nil, kerrors.WithKind(nil, ErrShortHeader, "Short v2 marker block")
	}
	sig := binary.LittleEndian.Uint32(b[0:])
	swap := false
	switch sig {
	case sigV2:
	case sigRV2:
		swap = true
	default:
		return nil, kerrors.WithKind(nil, ErrMarkerChecksum, "Invalid v2 signature")
	}

	g16 := binary.LittleEndian.Uint16
	g32 := binary.LittleEndian.Uint32
	g64 := binary.LittleEndian.Uint64

	blockLog2 := g16(b[4:])
	index := g16(b[6:])
	if swap {
		blockLog2 = swapEndian16(blockLog2)
		index = swapEndian16(index)
	}
	if index != 0 {
		return nil, kerrors.WithKind(nil, ErrMarkerChecksum, "Not a block-0 header")
	}
	if blockLog2 >= 30 {
		return nil, kerrors.WithKind(nil, ErrGeometry, "Invalid block size exponent")
	}
	blockBytes := int64(1) << blockLog2
	if blockBytes < 64 || int64(len(b)) < blockBytes {
		return nil, kerrors.WithKind(nil, ErrShortHeader, "Short v2 marker block")
	}
	b = b[:blockBytes]

	// Canonicalize the whole block, including the trailing checksum word,
	// before verifying it: a wrong-endian writer swaps every field of the
	// struct uniformly, the checksum included, so the checksum can only be
	// verified against bytes that have already been swapped back.
	canon := b
	if swap {
		canon = swapBlock0(b)
	}
	if !verifyMarkerBlockChecksum(canon) {
		return nil, kerrors.WithKind(nil, ErrMarkerChecksum, "Marker block checksum failed")
	}

	dateTime := g64(canon[8:])
	numStripes := g32(canon[16:])
	firstBlocks := g32(canon[20:])
	stripeBlocks := g32(canon[24:])
	imageBlocks := g32(canon[28:])
	parityHash := g64(canon[32:])

	m := &MarkerV2{
		BlockBytes:   blockBytes,
		Index:        0,
		DateTime:     int64(dateTime),
		NumStripes:   int64(numStripes),
		FirstBlocks:  int64(firstBlocks),
		StripeBlocks: int64(stripeBlocks),
		ImageBlocks:  int64(imageBlocks),
		ParityHash:   parityHash,
		wrongEndian:  swap,
	}
	if err := m.validateGeometry(); err != nil {
		return nil, err
	}
	m.StripeHashes = make([]uint64, m.NumStripes)

	lo, hi := m.hashRange(0)
	off := int64(header0FieldWords * 8)
	for idx := lo; idx < hi; idx++ {
		m.StripeHashes[idx] = g64(canon[off:])
		off += 8
	}
	return m, nil
}

func (m *MarkerV2) validateGeometry() error {
	if m.FirstBlocks < 1 || m.FirstBlocks > m.StripeBlocks || m.StripeBlocks > m.ImageBlocks {
		return kerrors.WithKind(nil, ErrGeometry, "Invalid first stripe size")
	}
	if m.ImageBlocks != m.FirstBlocks+m.StripeBlocks*(m.NumStripes-1) {
		return kerrors.WithKind(nil, ErrGeometry, "Invalid number of stripes")
	}
	return nil
}

// WrongEndian reports whether this marker was decoded from a byte-swapped
// artifact.
func (m *MarkerV2) WrongEndian() bool { return m.wrongEndian }

// ParseMarkerV2ContinuationBlock decodes and merges stripe hashes from
// continuation block i (i >= 1) into m.
func (m *MarkerV2) ParseMarkerV2ContinuationBlock(i int64, b []byte) error {
	if int64(len(b)) < m.BlockBytes {
		return kerrors.WithKind(nil, ErrShortHeader, "Short v2 marker block")
	}
	b = b[:m.BlockBytes]
	canon := b
	if m.wrongEndian {
		canon = swapBlockI(b)
	}
	if !verifyMarkerBlockChecksum(canon) {
		return kerrors.WithKind(nil, ErrMarkerChecksum, "Marker block checksum failed")
	}
	sig := binary.LittleEndian.Uint32(canon[0:])
	idx := binary.LittleEndian.Uint16(canon[6:])
	if sig != sigV2 || int64(idx) != i {
		return kerrors.WithKind(nil, ErrMarkerChecksum, "Marker block index mismatch")
	}
	lo, hi := m.hashRange(i)
	off := int64(8)
	for idx := lo; idx < hi; idx++ {
		m.StripeHashes[idx] = binary.LittleEndian.Uint64(canon[off:])
		off += 8
	}
	return nil
}

func verifyMarkerBlockChecksum(b []byte) bool {
	n := len(b)
	want := binary.LittleEndian.Uint64(b[n-8:])
	got := prfOnce(zeroKey, b[:n-8])
	return got == want
}

// StripeHash computes the hash used to verify or produce the hash for
// stripe ordinal. ordinal 0 is always the short first stripe.
func (m *MarkerV2) StripeHash(ordinal int64, stripe []byte) uint64 {
	key := m.markerHashKey(uint16(ordinal))
	return prfOnce(key, stripe)
}

// ComputeParityHash computes the PRF of the parity buffer, keyed with
// idx == num_stripes, matching the original's verify_stripe_hash(parity,
// ..., num_stripes, ...) convention: the parity region is keyed as if it
// were one past the last real stripe.
func (m *MarkerV2) ComputeParityHash(parity []byte) uint64 {
	key := m.markerHashKey(uint16(m.NumStripes))
	return prfOnce(key, parity)
}

// MatchesCanonical reports whether raw (the bytes of an on-disk marker copy)
// bit-for-bit matches the canonical reconstruction of m.
func (m *MarkerV2) MatchesCanonical(raw []byte) bool {
	canon := m.MarshalAllCanonical()
	return len(raw) >= len(canon) && bytes.Equal(raw[:len(canon)], canon)
}
