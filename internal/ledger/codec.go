package ledger

import (
	"encoding/binary"
	"fmt"

	"CipherPay/internal/fhe"
)

// Storage key prefixes. Each ledger entity lives under its own prefix so
// prefix scans can rebuild the in-memory state at startup.
var (
	keyOwner    = []byte("m:owner")    // 32-byte owner address
	keyPaused   = []byte("m:paused")   // 1-byte pause flag
	keyCooldown = []byte("m:cooldown") // 8-byte big-endian cooldown seconds
	keyHead     = []byte("m:head")     // 8-byte big-endian current batch id
	keyEventSeq = []byte("m:eseq")     // 8-byte big-endian next event sequence

	prefixProvider     = []byte("p:")  // + 32-byte address
	prefixBatch        = []byte("b:")  // + 8-byte batch id
	prefixRecord       = []byte("r:")  // + 8-byte batch id + 8-byte employee id
	prefixSubmitStamp  = []byte("cs:") // + 32-byte address; last submission time
	prefixDecryptStamp = []byte("cd:") // + 32-byte address; last decryption-request time
	prefixContext      = []byte("q:")  // + 32-byte request id
	prefixEvent        = []byte("e:")  // + 8-byte event sequence
)

// providerKey builds the storage key for a provider entry.
func providerKey(addr Address) []byte {
	return append(append([]byte{}, prefixProvider...), addr[:]...)
}

// batchKey builds the storage key for batch metadata.
func batchKey(id uint64) []byte {
	key := make([]byte, len(prefixBatch)+8)
	copy(key, prefixBatch)
	binary.BigEndian.PutUint64(key[len(prefixBatch):], id)

	return key
}

// recordKey builds the storage key for an employee record.
func recordKey(batchID, employeeID uint64) []byte {
	key := make([]byte, len(prefixRecord)+16)
	copy(key, prefixRecord)
	binary.BigEndian.PutUint64(key[len(prefixRecord):], batchID)
	binary.BigEndian.PutUint64(key[len(prefixRecord)+8:], employeeID)

	return key
}

// stampKey builds the storage key for a cooldown timestamp.
func stampKey(prefix []byte, addr Address) []byte {
	return append(append([]byte{}, prefix...), addr[:]...)
}

// contextKey builds the storage key for a decryption context.
func contextKey(requestID [32]byte) []byte {
	return append(append([]byte{}, prefixContext...), requestID[:]...)
}

// eventKey builds the storage key for an event log entry.
func eventKey(seq uint64) []byte {
	key := make([]byte, len(prefixEvent)+8)
	copy(key, prefixEvent)
	binary.BigEndian.PutUint64(key[len(prefixEvent):], seq)

	return key
}

// encodeU64 encodes a uint64 as 8 big-endian bytes.
func encodeU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)

	return buf
}

// decodeU64 decodes 8 big-endian bytes; malformed input decodes to zero.
func decodeU64(data []byte) uint64 {
	if len(data) != 8 {
		return 0
	}

	return binary.BigEndian.Uint64(data)
}

// encodeBool encodes a bool as a single byte.
func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}

	return []byte{0}
}

// decodeBool decodes a single-byte bool.
func decodeBool(data []byte) bool {
	return len(data) == 1 && data[0] == 1
}

// encodeBatchMeta encodes batch metadata.
// Format: [1B open] [8B employee count]
func encodeBatchMeta(b *Batch) []byte {
	buf := make([]byte, 9)
	if b.Open {
		buf[0] = 1
	}
	binary.BigEndian.PutUint64(buf[1:], b.EmployeeCount)

	return buf
}

// decodeBatchMeta decodes batch metadata into a Batch shell (no records).
func decodeBatchMeta(id uint64, data []byte) (*Batch, error) {
	if len(data) != 9 {
		return nil, fmt.Errorf("batch meta wrong size: %d", len(data))
	}

	return &Batch{
		ID:            id,
		Open:          data[0] == 1,
		EmployeeCount: binary.BigEndian.Uint64(data[1:]),
		records:       make(map[uint64]EmployeeRecord),
	}, nil
}

// encodeRecord encodes an employee record.
// Format: [1B active] [4B salary len] [salary bytes] [4B pct len] [pct bytes]
func encodeRecord(rec EmployeeRecord) []byte {
	salary := rec.Salary.Bytes()
	pct := rec.InvestmentPct.Bytes()

	buf := make([]byte, 0, 1+4+len(salary)+4+len(pct))
	buf = append(buf, encodeBool(rec.Active)...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(salary)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, salary...)

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(pct)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, pct...)

	return buf
}

// decodeRecord decodes an employee record.
func decodeRecord(data []byte) (EmployeeRecord, error) {
	if len(data) < 5 {
		return EmployeeRecord{}, fmt.Errorf("record too short: %d", len(data))
	}

	active := data[0] == 1
	data = data[1:]

	// Widen before adding so an oversized length field cannot wrap the check.
	salaryLen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(salaryLen)+4 > uint64(len(data)) {
		return EmployeeRecord{}, fmt.Errorf("record salary truncated")
	}

	salary := fhe.FromBytes(data[:salaryLen])
	data = data[salaryLen:]

	pctLen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < pctLen {
		return EmployeeRecord{}, fmt.Errorf("record percentage truncated")
	}

	pct := fhe.FromBytes(data[:pctLen])

	return EmployeeRecord{
		Salary:        salary,
		InvestmentPct: pct,
		Active:        active,
	}, nil
}

// encodeContext encodes a decryption context.
// Format: [8B batch id] [32B state hash] [1B processed]
func encodeContext(ctx DecryptionContext) []byte {
	buf := make([]byte, 41)
	binary.BigEndian.PutUint64(buf[:8], ctx.BatchID)
	copy(buf[8:40], ctx.StateHash[:])
	if ctx.Processed {
		buf[40] = 1
	}

	return buf
}

// decodeContext decodes a decryption context.
func decodeContext(requestID [32]byte, data []byte) (DecryptionContext, error) {
	if len(data) != 41 {
		return DecryptionContext{}, fmt.Errorf("context wrong size: %d", len(data))
	}

	ctx := DecryptionContext{
		RequestID: requestID,
		BatchID:   binary.BigEndian.Uint64(data[:8]),
		Processed: data[40] == 1,
	}
	copy(ctx.StateHash[:], data[8:40])

	return ctx, nil
}
