package parity

import "github.com/cespare/xxhash/v2"

// PRF is a keyed 64-bit pseudorandom function with incremental update,
// standing in for the original implementation's keyed SipHash. The key may
// be of any length -- such as the 16-byte marker header prefix used to key
// the per-stripe hash (see markerHashKey) -- since it is first folded down to
// a 64-bit seed with an unkeyed pass of the same hash family.
type PRF struct {
	d *xxhash.Digest
}

// zeroKey is the fixed all-zero key used for the per-marker-block checksum.
var zeroKey = make([]byte, 64)

// NewPRF initializes a PRF keyed by key.
func NewPRF(key []byte) *PRF {
	seed := xxhash.Sum64(key)
	return &PRF{d: xxhash.NewWithSeed(seed)}
}

// Write feeds bytes into the running digest. It never returns an error, per
// the contract of [hash.Hash].
func (p *PRF) Write(b []byte) (int, error) {
	return p.d.Write(b)
}

// Sum64 finalizes and returns the 64-bit digest. It does not reset the PRF.
func (p *PRF) Sum64() uint64 {
	return p.d.Sum64()
}

// prfOnce computes the PRF of data in one call, keyed by key.
func prfOnce(key, data []byte) uint64 {
	p := NewPRF(key)
	_, _ = p.Write(data)
	return p.Sum64()
}
