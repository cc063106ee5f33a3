package oracle

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// maxMessageSize caps any single wire message (4 MB). Aggregate
	// ciphertexts are small; this only bounds a misbehaving peer.
	maxMessageSize = 4 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4

	// requestIDSize is the size of an oracle-assigned request id.
	requestIDSize = 32
)

// writeMessage writes a length-prefixed message to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// readMessage reads a length-prefixed message from the reader.
func readMessage(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}

// encodeJob serializes a decryption job's ciphertexts.
// Format: [4B count] then per ciphertext [4B length] [bytes]
func encodeJob(ciphertexts [][]byte) []byte {
	size := 4
	for _, ct := range ciphertexts {
		size += 4 + len(ct)
	}

	buf := make([]byte, 0, size)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(ciphertexts)))
	buf = append(buf, u32[:]...)

	for _, ct := range ciphertexts {
		binary.BigEndian.PutUint32(u32[:], uint32(len(ct)))
		buf = append(buf, u32[:]...)
		buf = append(buf, ct...)
	}

	return buf
}

// decodeJob parses a decryption job's ciphertexts.
func decodeJob(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("job too short: %d", len(data))
	}

	count := binary.BigEndian.Uint32(data[:4])
	data = data[4:]

	ciphertexts := make([][]byte, 0, count)

	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("job ciphertext %d truncated", i)
		}

		length := binary.BigEndian.Uint32(data[:4])
		data = data[4:]

		if uint32(len(data)) < length {
			return nil, fmt.Errorf("job ciphertext %d truncated", i)
		}

		ct := make([]byte, length)
		copy(ct, data[:length])
		ciphertexts = append(ciphertexts, ct)
		data = data[length:]
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("job has %d trailing bytes", len(data))
	}

	return ciphertexts, nil
}

// encodeCallback serializes a decryption callback.
// Format: [32B request id] [4B cleartext length] [cleartexts] [4B proof length] [proof]
func encodeCallback(requestID [32]byte, cleartexts, proof []byte) []byte {
	buf := make([]byte, 0, requestIDSize+4+len(cleartexts)+4+len(proof))
	buf = append(buf, requestID[:]...)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(cleartexts)))
	buf = append(buf, u32[:]...)
	buf = append(buf, cleartexts...)

	binary.BigEndian.PutUint32(u32[:], uint32(len(proof)))
	buf = append(buf, u32[:]...)
	buf = append(buf, proof...)

	return buf
}

// decodeCallback parses a decryption callback.
func decodeCallback(data []byte) (requestID [32]byte, cleartexts, proof []byte, err error) {
	if len(data) < requestIDSize+8 {
		return requestID, nil, nil, fmt.Errorf("callback too short: %d", len(data))
	}

	copy(requestID[:], data[:requestIDSize])
	data = data[requestIDSize:]

	// Length fields are peer-controlled; widen before adding so values near
	// MaxUint32 cannot wrap the bounds check.
	ctLen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(ctLen)+4 > uint64(len(data)) {
		return requestID, nil, nil, fmt.Errorf("callback cleartexts truncated")
	}

	cleartexts = make([]byte, ctLen)
	copy(cleartexts, data[:ctLen])
	data = data[ctLen:]

	proofLen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) != proofLen {
		return requestID, nil, nil, fmt.Errorf("callback proof truncated")
	}

	proof = make([]byte, proofLen)
	copy(proof, data)

	return requestID, cleartexts, proof, nil
}
