// Package fhe models opaque ciphertext handles and the external homomorphic
// arithmetic capability the settlement engine orchestrates. The engine never
// inspects plaintexts; it only moves handles between the ledger, the
// aggregator and the decryption oracle.
package fhe

import (
	"bytes"
	"fmt"
)

const (
	// envelopeV1 tags the first (and only) ciphertext envelope version.
	envelopeV1 = 0x01

	// minEnvelopeSize is the smallest well-formed envelope: version + scheme.
	minEnvelopeSize = 2
)

// Ciphertext is an opaque handle to an encrypted value. The zero value is
// uninitialized and rejected by every operation that consumes handles.
type Ciphertext struct {
	data []byte // data is the canonical envelope: [version][scheme][payload]
}

// FromBytes wraps serialized envelope bytes in a handle. The bytes are copied.
func FromBytes(data []byte) Ciphertext {
	buf := make([]byte, len(data))
	copy(buf, data)

	return Ciphertext{data: buf}
}

// Initialized reports whether the handle carries a well-formed envelope.
// A default/zero handle is not initialized.
func (c Ciphertext) Initialized() bool {
	return len(c.data) >= minEnvelopeSize && c.data[0] == envelopeV1
}

// Bytes returns a copy of the canonical envelope encoding. The encoding is
// byte-stable: two handles to the same ciphertext serialize identically.
func (c Ciphertext) Bytes() []byte {
	buf := make([]byte, len(c.data))
	copy(buf, c.data)

	return buf
}

// Equal reports whether two handles carry the identical envelope.
func (c Ciphertext) Equal(other Ciphertext) bool {
	return bytes.Equal(c.data, other.data)
}

// scheme returns the envelope's scheme byte, or 0 for malformed envelopes.
func (c Ciphertext) scheme() byte {
	if len(c.data) < minEnvelopeSize {
		return 0
	}

	return c.data[1]
}

// payload returns the envelope payload following the version and scheme bytes.
func (c Ciphertext) payload() []byte {
	if len(c.data) < minEnvelopeSize {
		return nil
	}

	return c.data[minEnvelopeSize:]
}

// Arithmetic is the external homomorphic arithmetic capability. All three
// operations are atomic black boxes over opaque handles; implementations must
// be deterministic so repeated aggregation of unchanged inputs is bit-identical.
type Arithmetic interface {
	// Add returns the encryption of a + b.
	Add(a, b Ciphertext) (Ciphertext, error)

	// Multiply returns the encryption of a * b.
	Multiply(a, b Ciphertext) (Ciphertext, error)

	// DivideByConstant returns the encryption of a / divisor (integer division).
	DivideByConstant(a Ciphertext, divisor uint64) (Ciphertext, error)
}

// ErrUninitialized is returned when an operation receives a default or
// malformed ciphertext handle.
var ErrUninitialized = fmt.Errorf("ciphertext handle is not initialized")
