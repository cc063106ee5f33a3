package ledger

import (
	"encoding/json"
	"fmt"
)

// Event kinds, one per externally observable state change.
const (
	EventOwnershipTransferred  = "OwnershipTransferred"
	EventProviderAdded         = "ProviderAdded"
	EventProviderRemoved       = "ProviderRemoved"
	EventPauseToggled          = "PauseToggled"
	EventCooldownSet           = "CooldownSet"
	EventBatchOpened           = "BatchOpened"
	EventBatchClosed           = "BatchClosed"
	EventEmployeeDataSubmitted = "EmployeeDataSubmitted"
	EventDecryptionRequested   = "DecryptionRequested"
	EventDecryptionCompleted   = "DecryptionCompleted"
)

// Event is one entry of the append-only, externally observable event log.
// Only the fields relevant to the event's kind are populated; the sequence
// number totally orders all events.
type Event struct {
	Seq  uint64 `json:"seq"`
	Kind string `json:"kind"`
	Unix int64  `json:"unix"`

	Actor   string `json:"actor,omitempty"`   // hex address of the acting principal
	Subject string `json:"subject,omitempty"` // hex address affected (new owner, provider)

	BatchID    uint64 `json:"batchId,omitempty"`
	EmployeeID uint64 `json:"employeeId"`

	RequestID string `json:"requestId,omitempty"` // hex request id for decryption events

	Paused        bool   `json:"paused,omitempty"`
	Cooldown      uint64 `json:"cooldown,omitempty"`
	TotalSalary   uint32 `json:"totalSalary,omitempty"`
	TotalInvested uint32 `json:"totalInvested,omitempty"`
}

// encodeEvent serializes an event for the log.
func encodeEvent(ev Event) []byte {
	data, _ := json.Marshal(ev)
	return data
}

// decodeEvent deserializes an event log entry.
func decodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event:\n%w", err)
	}

	return ev, nil
}
