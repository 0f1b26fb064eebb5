package parity

import (
	"encoding/binary"

	"xorkevin.dev/kerrors"
)

// MarkerV1Bytes is the size, in bytes, of a v1 marker record. It is
// replicated to fill a whole block.
const MarkerV1Bytes = 64

const (
	sig1V1  = uint64(0xc56a5d888149eee7)
	sig2V1  = uint64(0x4139ef05dda34f80)
	sig1RV1 = uint64(0xe7ee4981885d6ac5)
	sig2RV1 = uint64(0x804fa3dd05ef3941)
)

// MarkerV1 is the legacy marker record: a 64-byte structure duplicated to
// fill a whole block, self-checked with a plain XOR checksum rather than a
// keyed hash.
type MarkerV1 struct {
	Signature1   uint64
	Signature2   uint64
	BlockBytes   uint64
	ImageBlocks  uint64
	StripeBlocks uint64
	NumStripes   uint64
	StripeOffset uint64
	Checksum     uint64
}

// NewMarkerV1 builds a marker from a computed layout, with a fresh checksum.
func NewMarkerV1(l *LayoutV1) *MarkerV1 {
	m := &MarkerV1{
		Signature1:   sig1V1,
		Signature2:   sig2V1,
		BlockBytes:   uint64(l.BlockBytes),
		ImageBlocks:  uint64(l.ImageBlocks),
		StripeBlocks: uint64(l.StripeBlocks),
		NumStripes:   uint64(l.NumStripes),
		StripeOffset: uint64(l.StripeOffset),
	}
	m.SetChecksum()
	return m
}

func (m *MarkerV1) fields() [7]uint64 {
	return [7]uint64{
		m.Signature1, m.Signature2, m.BlockBytes, m.ImageBlocks,
		m.StripeBlocks, m.NumStripes, m.StripeOffset,
	}
}

// SetChecksum recomputes and stores the XOR checksum.
func (m *MarkerV1) SetChecksum() {
	m.Checksum = xorFields(m.fields())
}

func xorFields(f [7]uint64) uint64 {
	var c uint64
	for _, v := range f {
		c ^= v
	}
	return c
}

// CheckChecksum reports whether the stored checksum matches the fields.
func (m *MarkerV1) CheckChecksum() bool {
	return xorFields(m.fields())^m.Checksum == 0
}

// CheckSignature reports whether the signature pair is one of the two valid
// (forward or byte-swapped) variants.
func (m *MarkerV1) CheckSignature() bool {
	return (m.Signature1 == sig1V1 && m.Signature2 == sig2V1) ||
		(m.Signature1 == sig1RV1 && m.Signature2 == sig2RV1)
}

// WrongEndian reports whether this marker was written in the opposite byte
// order from the host's.
func (m *MarkerV1) WrongEndian() bool {
	return m.Signature1 == sig1RV1
}

// FixEndian byte-swaps every field if the marker is wrong-endian.
func (m *MarkerV1) FixEndian() {
	if !m.WrongEndian() {
		return
	}
	m.Signature1 = swapEndian64(m.Signature1)
	m.Signature2 = swapEndian64(m.Signature2)
	m.BlockBytes = swapEndian64(m.BlockBytes)
	m.ImageBlocks = swapEndian64(m.ImageBlocks)
	m.StripeBlocks = swapEndian64(m.StripeBlocks)
	m.NumStripes = swapEndian64(m.NumStripes)
	m.StripeOffset = swapEndian64(m.StripeOffset)
	m.Checksum = swapEndian64(m.Checksum)
}

// MarshalBinary encodes the marker record in host byte order.
func (m *MarkerV1) MarshalBinary() []byte {
	buf := make([]byte, MarkerV1Bytes)
	order := binary.NativeEndian
	order.PutUint64(buf[0:], m.Signature1)
	order.PutUint64(buf[8:], m.Signature2)
	order.PutUint64(buf[16:], m.BlockBytes)
	order.PutUint64(buf[24:], m.ImageBlocks)
	order.PutUint64(buf[32:], m.StripeBlocks)
	order.PutUint64(buf[40:], m.NumStripes)
	order.PutUint64(buf[48:], m.StripeOffset)
	order.PutUint64(buf[56:], m.Checksum)
	return buf
}

// UnmarshalMarkerV1 decodes a raw 64-byte record without validating it.
func UnmarshalMarkerV1(b []byte) (*MarkerV1, error) {
	if len(b) < MarkerV1Bytes {
		return nil, kerrors.WithKind(nil, ErrShortHeader, "Short v1 marker")
	}
	order := binary.NativeEndian
	return &MarkerV1{
		Signature1:   order.Uint64(b[0:]),
		Signature2:   order.Uint64(b[8:]),
		BlockBytes:   order.Uint64(b[16:]),
		ImageBlocks:  order.Uint64(b[24:]),
		StripeBlocks: order.Uint64(b[32:]),
		NumStripes:   order.Uint64(b[40:]),
		StripeOffset: order.Uint64(b[48:]),
		Checksum:     order.Uint64(b[56:]),
	}, nil
}

// ParseMarkerV1 decodes, endian-normalizes, and fully validates a candidate
// v1 marker record.
func ParseMarkerV1(b []byte) (*MarkerV1, error) {
	m, err := UnmarshalMarkerV1(b)
	if err != nil {
		return nil, err
	}
	if !m.CheckSignature() {
		return nil, kerrors.WithKind(nil, ErrMarkerChecksum, "Invalid v1 signature")
	}
	if !m.CheckChecksum() {
		return nil, kerrors.WithKind(nil, ErrMarkerChecksum, "Invalid v1 checksum")
	}
	m.FixEndian()
	return m, nil
}

// FillBlock duplicates the marshaled record to fill a whole block.
func (m *MarkerV1) FillBlock(blockBytes int64) []byte {
	rec := m.MarshalBinary()
	buf := make([]byte, blockBytes)
	for off := int64(0); off < blockBytes; off += MarkerV1Bytes {
		n := MarkerV1Bytes
		if off+int64(n) > blockBytes {
			n = int(blockBytes - off)
		}
		copy(buf[off:], rec[:n])
	}
	return buf
}
