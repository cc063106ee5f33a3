// Package snapshot exports and imports the engine's full persisted state as a
// single compressed, checksummed archive. An archive restored into an empty
// storage reproduces the exact ledger the exporting engine held.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"CipherPay/internal/storage"
)

const (
	// snapshotVersion is the current archive format version.
	snapshotVersion = 1

	// checksumSize is the size of the trailing blake3 checksum.
	checksumSize = 32
)

// entry is one key/value pair of the archive.
type entry struct {
	key   []byte
	value []byte
}

// Export serializes all persisted state into a compressed archive.
func Export(db *storage.Storage) ([]byte, error) {
	entries, err := collectEntries(db)
	if err != nil {
		return nil, fmt.Errorf("collect entries:\n%w", err)
	}

	raw := encodeArchive(entries)

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(raw, nil), nil
}

// Import verifies and writes an archive into storage. All pairs are applied
// atomically; a corrupted archive leaves storage untouched.
func Import(db *storage.Storage, data []byte) (int, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return 0, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return 0, fmt.Errorf("decompress archive:\n%w", err)
	}

	entries, err := decodeArchive(raw)
	if err != nil {
		return 0, err
	}

	pairs := make([]storage.KeyValue, len(entries))
	for i, e := range entries {
		pairs[i] = storage.KeyValue{Key: e.key, Value: e.value}
	}

	if err := db.Apply(pairs); err != nil {
		return 0, fmt.Errorf("write entries:\n%w", err)
	}

	return len(entries), nil
}

// collectEntries reads every key/value pair from storage.
func collectEntries(db *storage.Storage) ([]entry, error) {
	var entries []entry

	err := db.Iterate(func(key, value []byte) error {
		keyCopy := make([]byte, len(key))
		copy(keyCopy, key)

		valueCopy := make([]byte, len(value))
		copy(valueCopy, value)

		entries = append(entries, entry{key: keyCopy, value: valueCopy})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// encodeArchive builds the canonical archive bytes.
// Format: [4B version] [8B entry count] then per entry
// [4B key length] [key] [4B value length] [value], followed by a 32-byte
// blake3 checksum over everything before it.
func encodeArchive(entries []entry) []byte {
	sortEntries(entries)

	var buf bytes.Buffer

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], snapshotVersion)
	buf.Write(u32[:])

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(len(entries)))
	buf.Write(u64[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(u32[:], uint32(len(e.key)))
		buf.Write(u32[:])
		buf.Write(e.key)

		binary.BigEndian.PutUint32(u32[:], uint32(len(e.value)))
		buf.Write(u32[:])
		buf.Write(e.value)
	}

	checksum := blake3.Sum256(buf.Bytes())
	buf.Write(checksum[:])

	return buf.Bytes()
}

// decodeArchive parses and verifies canonical archive bytes.
func decodeArchive(raw []byte) ([]entry, error) {
	if len(raw) < 12+checksumSize {
		return nil, fmt.Errorf("archive too short: %d", len(raw))
	}

	body := raw[:len(raw)-checksumSize]
	stored := raw[len(raw)-checksumSize:]

	computed := blake3.Sum256(body)
	if !bytes.Equal(computed[:], stored) {
		return nil, fmt.Errorf("checksum mismatch")
	}

	version := binary.BigEndian.Uint32(body[:4])
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported archive version: %d", version)
	}

	count := binary.BigEndian.Uint64(body[4:12])
	data := body[12:]

	entries := make([]entry, 0, count)

	for i := uint64(0); i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("entry %d key truncated", i)
		}

		// The checksum is unkeyed, so a forged archive carries a matching
		// one; widen before adding so oversized length fields cannot wrap.
		keyLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(keyLen)+4 > uint64(len(data)) {
			return nil, fmt.Errorf("entry %d truncated", i)
		}

		key := make([]byte, keyLen)
		copy(key, data[:keyLen])
		data = data[keyLen:]

		valueLen := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint32(len(data)) < valueLen {
			return nil, fmt.Errorf("entry %d value truncated", i)
		}

		value := make([]byte, valueLen)
		copy(value, data[:valueLen])
		data = data[valueLen:]

		entries = append(entries, entry{key: key, value: value})
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("archive has %d trailing bytes", len(data))
	}

	return entries, nil
}

// sortEntries sorts entries by key for deterministic archives.
func sortEntries(entries []entry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
}
