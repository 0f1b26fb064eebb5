// Package parity implements the marker-and-parity disk image format shared by
// the parity-add, verify, repair, and rescue tools: layout calculation,
// marker encoding/decoding for both format generations, parity folding, and
// the single-stripe recovery logic used by repair and rescue.
package parity

var (
	// ErrShortHeader is returned when a marker buffer is too small to contain
	// a full header.
	ErrShortHeader errShortHeader
	// ErrGeometry is returned when a marker describes an impossible or
	// inconsistent block layout.
	ErrGeometry errGeometry
	// ErrSignatureNotFound is returned when no marker could be located in the
	// scanned region.
	ErrSignatureNotFound errSignatureNotFound
	// ErrMarkerChecksum is returned when a marker block fails its own
	// checksum or signature test.
	ErrMarkerChecksum errMarkerChecksum
	// ErrStripeHash is returned when a stripe's computed hash disagrees with
	// its stored hash.
	ErrStripeHash errStripeHash
	// ErrParityMismatch is returned when the residual XOR across all stripes
	// and the parity region is not all-zero.
	ErrParityMismatch errParityMismatch
	// ErrTooManyErrors is returned when repair finds more than one corrupt
	// region and cannot disambiguate which one to fix.
	ErrTooManyErrors errTooManyErrors
	// ErrPolicy is returned for user-actionable policy violations such as
	// existing parity without -f, or unaligned image size without -p.
	ErrPolicy errPolicy
	// ErrNotImplemented is returned for accepted-but-unimplemented behaviour
	// (stripping existing parity).
	ErrNotImplemented errNotImplemented
)

type (
	errShortHeader       struct{}
	errGeometry          struct{}
	errSignatureNotFound struct{}
	errMarkerChecksum    struct{}
	errStripeHash        struct{}
	errParityMismatch    struct{}
	errTooManyErrors     struct{}
	errPolicy            struct{}
	errNotImplemented    struct{}
)

func (e errShortHeader) Error() string       { return "Short marker header" }
func (e errGeometry) Error() string          { return "Invalid geometry" }
func (e errSignatureNotFound) Error() string { return "Marker not found" }
func (e errMarkerChecksum) Error() string    { return "Marker checksum failed" }
func (e errStripeHash) Error() string        { return "Stripe hash mismatch" }
func (e errParityMismatch) Error() string    { return "Invalid parity" }
func (e errTooManyErrors) Error() string     { return "Too many errors" }
func (e errPolicy) Error() string            { return "Policy error" }
func (e errNotImplemented) Error() string    { return "Not implemented" }
