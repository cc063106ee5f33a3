package ledger

import "errors"

// Every rejected operation surfaces exactly one of these kinds so callers can
// distinguish "try again later" (ErrPaused, ErrCooldownActive) from "this will
// never succeed" (ErrReplayAttempt, ErrInvalidProof) from configuration
// mistakes (ErrInvalidAddress, ErrInvalidCooldown). Failures never leave
// partial state behind.
var (
	// ErrNotOwner is returned when a caller lacks owner authority.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotProvider is returned when a caller lacks provider authority.
	ErrNotProvider = errors.New("caller is not a provider")

	// ErrPaused is returned while the global circuit breaker is engaged.
	ErrPaused = errors.New("engine is paused")

	// ErrCooldownActive is returned when the caller's rate limit has not elapsed.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrBatchClosed is returned when writing to a non-open batch, or closing
	// an already-closed one.
	ErrBatchClosed = errors.New("batch is not open")

	// ErrInvalidAddress is returned when a zero address is supplied where a
	// real principal is required.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidCooldown is returned for a non-positive cooldown configuration.
	ErrInvalidCooldown = errors.New("cooldown must be positive")

	// ErrEmptyBatch is returned when aggregation is attempted over a batch
	// with zero active employees.
	ErrEmptyBatch = errors.New("batch has no active employees")

	// ErrNotInitialized is returned when a supplied ciphertext handle is not a
	// valid encrypted value.
	ErrNotInitialized = errors.New("ciphertext handle not initialized")

	// ErrReplayAttempt is returned when a decryption callback targets an
	// already-processed request.
	ErrReplayAttempt = errors.New("decryption request already processed")

	// ErrStateMismatch is returned when the recomputed aggregate hash disagrees
	// with the one bound at request time.
	ErrStateMismatch = errors.New("batch state changed since decryption request")

	// ErrInvalidProof is returned when the oracle-supplied proof fails
	// verification.
	ErrInvalidProof = errors.New("oracle proof verification failed")

	// ErrUnknownBatch is returned when an operation references a batch id that
	// was never opened.
	ErrUnknownBatch = errors.New("unknown batch")

	// ErrUnknownRequest is returned when a callback references a request id
	// with no recorded decryption context.
	ErrUnknownRequest = errors.New("unknown decryption request")
)
