package fhe

import (
	"encoding/binary"
	"fmt"
)

// schemeDev tags envelopes produced by the development backend.
// Dev envelopes carry the plaintext as a little-endian uint64; they exist so
// the engine, the dev oracle and the tests can run end to end without real
// FHE infrastructure. Production deployments inject a different Arithmetic.
const schemeDev = 0xD1

// devPayloadSize is the payload size of a dev envelope.
const devPayloadSize = 8

// DevEncrypt produces a dev-scheme handle carrying the given value.
func DevEncrypt(value uint64) Ciphertext {
	buf := make([]byte, minEnvelopeSize+devPayloadSize)
	buf[0] = envelopeV1
	buf[1] = schemeDev
	binary.LittleEndian.PutUint64(buf[minEnvelopeSize:], value)

	return Ciphertext{data: buf}
}

// DevDecrypt recovers the value carried by a dev-scheme handle.
func DevDecrypt(c Ciphertext) (uint64, error) {
	value, err := devValue(c)
	if err != nil {
		return 0, err
	}

	return value, nil
}

// DevArithmetic implements Arithmetic over dev-scheme envelopes.
// All operations are deterministic: the same operands always yield the same
// envelope bytes.
type DevArithmetic struct{}

// Add returns the encryption of a + b.
func (DevArithmetic) Add(a, b Ciphertext) (Ciphertext, error) {
	x, err := devValue(a)
	if err != nil {
		return Ciphertext{}, err
	}

	y, err := devValue(b)
	if err != nil {
		return Ciphertext{}, err
	}

	return DevEncrypt(x + y), nil
}

// Multiply returns the encryption of a * b.
func (DevArithmetic) Multiply(a, b Ciphertext) (Ciphertext, error) {
	x, err := devValue(a)
	if err != nil {
		return Ciphertext{}, err
	}

	y, err := devValue(b)
	if err != nil {
		return Ciphertext{}, err
	}

	return DevEncrypt(x * y), nil
}

// DivideByConstant returns the encryption of a / divisor (integer division).
func (DevArithmetic) DivideByConstant(a Ciphertext, divisor uint64) (Ciphertext, error) {
	if divisor == 0 {
		return Ciphertext{}, fmt.Errorf("division by zero")
	}

	x, err := devValue(a)
	if err != nil {
		return Ciphertext{}, err
	}

	return DevEncrypt(x / divisor), nil
}

// devValue extracts the uint64 payload from a dev-scheme handle.
func devValue(c Ciphertext) (uint64, error) {
	if !c.Initialized() {
		return 0, ErrUninitialized
	}

	if c.scheme() != schemeDev {
		return 0, fmt.Errorf("unexpected ciphertext scheme: 0x%02x", c.scheme())
	}

	payload := c.payload()
	if len(payload) != devPayloadSize {
		return 0, fmt.Errorf("invalid dev payload size: %d", len(payload))
	}

	return binary.LittleEndian.Uint64(payload), nil
}
