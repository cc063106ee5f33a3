// Package bridge connects the ledger to the decryption oracle. It turns a
// provider's decryption request into an oracle job bound to a state hash, and
// validates the oracle's asynchronous callback before the result is accepted.
package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"CipherPay/internal/aggregate"
	"CipherPay/internal/fhe"
	"CipherPay/internal/ledger"
	"CipherPay/internal/logger"
)

// cleartextSize is the callback payload size: two big-endian uint32 values,
// total salary followed by total invested.
const cleartextSize = 8

// Oracle is the decryption service the bridge hands aggregates to.
type Oracle interface {
	// RegisterDecryptionJob submits serialized ciphertexts for asynchronous
	// decryption and returns the oracle-assigned request id.
	RegisterDecryptionJob(ciphertexts [][]byte) ([32]byte, error)

	// VerifyProof checks the oracle's proof over (requestID, cleartexts).
	VerifyProof(requestID [32]byte, cleartexts, proof []byte) bool
}

// Bridge orchestrates decryption round trips between the ledger and an oracle.
type Bridge struct {
	led      *ledger.Ledger // led holds all settlement state
	arith    fhe.Arithmetic // arith is the homomorphic arithmetic backend
	oracle   Oracle         // oracle decrypts aggregates and proves its results
	identity [32]byte       // identity is bound into every state hash
}

// New creates a bridge. identity distinguishes this engine instance so a
// callback produced for one deployment can never validate against another.
func New(led *ledger.Ledger, arith fhe.Arithmetic, oracle Oracle, identity [32]byte) *Bridge {
	return &Bridge{
		led:      led,
		arith:    arith,
		oracle:   oracle,
		identity: identity,
	}
}

// RequestSummaryDecryption aggregates the batch, registers a decryption job
// with the oracle and records the pending context bound to the state hash of
// the exact aggregates sent. Returns the oracle-assigned request id.
func (b *Bridge) RequestSummaryDecryption(caller ledger.Address, batchID uint64) ([32]byte, error) {
	batch, err := b.led.AuthorizeDecryptionRequest(caller, batchID)
	if err != nil {
		return [32]byte{}, err
	}

	totals, err := aggregate.Compute(batch, b.arith)
	if err != nil {
		return [32]byte{}, err
	}

	stateHash := b.stateHash(totals)

	requestID, err := b.oracle.RegisterDecryptionJob([][]byte{
		totals.Salary.Bytes(),
		totals.Invested.Bytes(),
	})
	if err != nil {
		return [32]byte{}, fmt.Errorf("register decryption job:\n%w", err)
	}

	if err := b.led.RecordDecryptionRequest(caller, requestID, batchID, stateHash); err != nil {
		return [32]byte{}, err
	}

	logger.Info("decryption requested",
		"batch", batchID,
		"request", fmt.Sprintf("%x", requestID[:8]),
	)

	return requestID, nil
}

// HandleCallback processes the oracle's decryption result. The aggregates are
// recomputed from the batch's current records and their hash compared against
// the one bound at request time, so any submission landing between request and
// callback invalidates the result instead of surfacing stale totals.
func (b *Bridge) HandleCallback(requestID [32]byte, cleartexts, proof []byte) (uint32, uint32, error) {
	recompute := func(batch *ledger.Batch) ([32]byte, error) {
		totals, err := aggregate.Compute(batch, b.arith)
		if err != nil {
			return [32]byte{}, err
		}

		return b.stateHash(totals), nil
	}

	verify := func() bool {
		return b.oracle.VerifyProof(requestID, cleartexts, proof)
	}

	decode := func() (uint32, uint32, error) {
		return DecodeCleartexts(cleartexts)
	}

	salary, invested, err := b.led.CompleteDecryption(requestID, recompute, verify, decode)
	if err != nil {
		logger.Warn("decryption callback rejected",
			"request", fmt.Sprintf("%x", requestID[:8]),
			"error", err.Error(),
		)

		return 0, 0, err
	}

	logger.Info("decryption completed",
		"request", fmt.Sprintf("%x", requestID[:8]),
		"totalSalary", salary,
		"totalInvested", invested,
	)

	return salary, invested, nil
}

// stateHash hashes the serialized aggregates together with the engine
// identity. Each field is length-prefixed so distinct aggregate pairs can
// never collide by concatenation.
func (b *Bridge) stateHash(totals aggregate.Totals) [32]byte {
	hasher := blake3.New()

	writeField := func(data []byte) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
		hasher.Write(lenBuf[:])
		hasher.Write(data)
	}

	writeField(totals.Salary.Bytes())
	writeField(totals.Invested.Bytes())
	hasher.Write(b.identity[:])

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	return hash
}

// EncodeCleartexts serializes the decrypted totals for the callback payload.
func EncodeCleartexts(totalSalary, totalInvested uint32) []byte {
	buf := make([]byte, cleartextSize)
	binary.BigEndian.PutUint32(buf[:4], totalSalary)
	binary.BigEndian.PutUint32(buf[4:], totalInvested)

	return buf
}

// DecodeCleartexts parses a callback payload into the two totals.
func DecodeCleartexts(data []byte) (uint32, uint32, error) {
	if len(data) != cleartextSize {
		return 0, 0, fmt.Errorf("cleartext payload wrong size: %d", len(data))
	}

	return binary.BigEndian.Uint32(data[:4]), binary.BigEndian.Uint32(data[4:]), nil
}
