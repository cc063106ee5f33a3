package ledger

import (
	"encoding/hex"
	"fmt"
	"sort"

	"CipherPay/internal/fhe"
)

// Address identifies a principal (owner, provider) or the engine instance.
// The zero value is the null address and is never a valid principal.
type Address [32]byte

// ParseAddress decodes a 64-character hex string into an Address.
func ParseAddress(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return Address{}, fmt.Errorf("invalid address: %q", s)
	}

	var a Address
	copy(a[:], raw)

	return a, nil
}

// String returns the hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the null address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// EmployeeRecord is one employee's encrypted compensation data.
// A record is owned by exactly one (batch, employee id) slot; submissions
// overwrite it in place and never delete it.
type EmployeeRecord struct {
	Salary        fhe.Ciphertext // Salary is the encrypted salary amount
	InvestmentPct fhe.Ciphertext // InvestmentPct is the encrypted investment percentage (0-100 by convention)
	Active        bool           // Active marks the record as contributing to aggregation
}

// Batch is a versioned collection of employee records aggregated together.
// Employee ids are dense over [0, EmployeeCount): EmployeeCount increments
// exactly once per distinct id, on first insertion.
type Batch struct {
	ID            uint64                    // ID is the monotonically increasing batch id, starting at 1
	Open          bool                      // Open is true until the batch is closed; a closed batch never reopens
	EmployeeCount uint64                    // EmployeeCount is the dense upper bound on employee ids
	records       map[uint64]EmployeeRecord // records maps employee id to record
}

// NewBatch builds a detached batch, for reconstructing state outside the
// ledger (snapshot restore, aggregation tests).
func NewBatch(id uint64, open bool, employeeCount uint64) *Batch {
	return &Batch{
		ID:            id,
		Open:          open,
		EmployeeCount: employeeCount,
		records:       make(map[uint64]EmployeeRecord),
	}
}

// Record returns the employee record at the given id, if present.
func (b *Batch) Record(employeeID uint64) (EmployeeRecord, bool) {
	rec, ok := b.records[employeeID]
	return rec, ok
}

// SetRecord places a record at the given employee id without adjusting the
// employee count. Only for detached batches built with NewBatch.
func (b *Batch) SetRecord(employeeID uint64, rec EmployeeRecord) {
	b.records[employeeID] = rec
}

// EmployeeIDs returns the ids of all stored records, ascending.
func (b *Batch) EmployeeIDs() []uint64 {
	ids := make([]uint64, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// clone returns a deep copy of the batch. Ciphertext handles are immutable
// values, so sharing them across copies is safe.
func (b *Batch) clone() *Batch {
	records := make(map[uint64]EmployeeRecord, len(b.records))
	for id, rec := range b.records {
		records[id] = rec
	}

	return &Batch{
		ID:            b.ID,
		Open:          b.Open,
		EmployeeCount: b.EmployeeCount,
		records:       records,
	}
}

// DecryptionContext binds a pending decryption request to the exact aggregate
// state it was requested against. Contexts are never deleted; a processed
// context is the permanent replay-protection record for its request id.
type DecryptionContext struct {
	RequestID [32]byte // RequestID is the oracle-assigned request identifier
	BatchID   uint64   // BatchID is the batch the request aggregates
	StateHash [32]byte // StateHash binds the serialized aggregates and engine identity
	Processed bool     // Processed flips to true exactly once, on a valid callback
}
