// Package client is a small HTTP SDK for the CipherPay engine API.
package client

import (
	"encoding/hex"
	"fmt"
)

// Client talks to one engine instance on behalf of one caller address.
type Client struct {
	baseURL string // baseURL is the engine's HTTP address, e.g. "127.0.0.1:8080"
	caller  string // caller is the hex address sent with every mutating request
}

// New creates a client for the engine at addr acting as caller.
func New(addr, caller string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		caller:  caller,
	}
}

// Status mirrors GET /status.
type Status struct {
	Owner     string `json:"owner"`
	Paused    bool   `json:"paused"`
	Cooldown  uint64 `json:"cooldown"`
	HeadBatch uint64 `json:"headBatch"`
	Providers int    `json:"providers"`
}

// BatchInfo mirrors GET /batches/{id}.
type BatchInfo struct {
	BatchID       uint64 `json:"batchId"`
	Open          bool   `json:"open"`
	EmployeeCount uint64 `json:"employeeCount"`
}

// DecryptionInfo mirrors GET /decryptions/{id}.
type DecryptionInfo struct {
	RequestID string `json:"requestId"`
	BatchID   uint64 `json:"batchId"`
	StateHash string `json:"stateHash"`
	Processed bool   `json:"processed"`
}

// Event mirrors one event log entry.
type Event struct {
	Seq           uint64 `json:"seq"`
	Kind          string `json:"kind"`
	Unix          int64  `json:"unix"`
	Actor         string `json:"actor,omitempty"`
	Subject       string `json:"subject,omitempty"`
	BatchID       uint64 `json:"batchId,omitempty"`
	EmployeeID    uint64 `json:"employeeId"`
	RequestID     string `json:"requestId,omitempty"`
	Paused        bool   `json:"paused,omitempty"`
	Cooldown      uint64 `json:"cooldown,omitempty"`
	TotalSalary   uint32 `json:"totalSalary,omitempty"`
	TotalInvested uint32 `json:"totalInvested,omitempty"`
}

// Status fetches the engine status.
func (c *Client) Status() (*Status, error) {
	var status Status
	if err := httpGet(c.baseURL+"/status", &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// TransferOwnership hands the owner role to newOwner.
func (c *Client) TransferOwnership(newOwner string) error {
	var resp map[string]string

	return httpPostJSON(c.baseURL+"/owner/transfer", map[string]string{
		"caller":   c.caller,
		"newOwner": newOwner,
	}, &resp)
}

// AddProvider authorizes addr as a data provider.
func (c *Client) AddProvider(addr string) error {
	var resp map[string]string

	return httpPostJSON(c.baseURL+"/providers/add", map[string]string{
		"caller":  c.caller,
		"address": addr,
	}, &resp)
}

// RemoveProvider revokes addr's provider role.
func (c *Client) RemoveProvider(addr string) error {
	var resp map[string]string

	return httpPostJSON(c.baseURL+"/providers/remove", map[string]string{
		"caller":  c.caller,
		"address": addr,
	}, &resp)
}

// SetPaused toggles the engine's circuit breaker.
func (c *Client) SetPaused(paused bool) error {
	var resp map[string]bool

	return httpPostJSON(c.baseURL+"/pause", map[string]any{
		"caller": c.caller,
		"paused": paused,
	}, &resp)
}

// SetCooldown configures the shared cooldown in seconds.
func (c *Client) SetCooldown(seconds uint64) error {
	var resp map[string]uint64

	return httpPostJSON(c.baseURL+"/cooldown", map[string]any{
		"caller":  c.caller,
		"seconds": seconds,
	}, &resp)
}

// OpenBatch opens the next batch and returns its id.
func (c *Client) OpenBatch() (uint64, error) {
	var resp struct {
		BatchID uint64 `json:"batchId"`
	}

	err := httpPostJSON(c.baseURL+"/batches/open", map[string]string{
		"caller": c.caller,
	}, &resp)
	if err != nil {
		return 0, err
	}

	return resp.BatchID, nil
}

// CloseBatch closes the current batch.
func (c *Client) CloseBatch() error {
	var resp map[string]uint64

	return httpPostJSON(c.baseURL+"/batches/close", map[string]string{
		"caller": c.caller,
	}, &resp)
}

// SubmitEmployee submits encrypted compensation data for one employee slot.
// salary and investmentPct are serialized ciphertext envelopes.
func (c *Client) SubmitEmployee(employeeID uint64, salary, investmentPct []byte) error {
	var resp map[string]uint64

	return httpPostJSON(c.baseURL+"/employees", map[string]any{
		"caller":        c.caller,
		"employeeId":    employeeID,
		"salary":        hex.EncodeToString(salary),
		"investmentPct": hex.EncodeToString(investmentPct),
	}, &resp)
}

// RequestDecryption asks the oracle to decrypt the batch aggregates.
// Returns the hex request id to poll via Decryption.
func (c *Client) RequestDecryption(batchID uint64) (string, error) {
	var resp struct {
		RequestID string `json:"requestId"`
	}

	err := httpPostJSON(c.baseURL+"/decryptions", map[string]any{
		"caller":  c.caller,
		"batchId": batchID,
	}, &resp)
	if err != nil {
		return "", err
	}

	return resp.RequestID, nil
}

// Batch fetches batch metadata.
func (c *Client) Batch(batchID uint64) (*BatchInfo, error) {
	var info BatchInfo
	if err := httpGet(fmt.Sprintf("%s/batches/%d", c.baseURL, batchID), &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// Decryption fetches the state of a decryption request.
func (c *Client) Decryption(requestID string) (*DecryptionInfo, error) {
	var info DecryptionInfo
	if err := httpGet(c.baseURL+"/decryptions/"+requestID, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// Providers lists the provider addresses.
func (c *Client) Providers() ([]string, error) {
	var resp struct {
		Providers []string `json:"providers"`
	}

	if err := httpGet(c.baseURL+"/providers", &resp); err != nil {
		return nil, err
	}

	return resp.Providers, nil
}

// Events fetches events with sequence >= since.
func (c *Client) Events(since uint64) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}

	if err := httpGet(fmt.Sprintf("%s/events?since=%d", c.baseURL, since), &resp); err != nil {
		return nil, err
	}

	return resp.Events, nil
}

// Snapshot downloads the engine's state archive.
func (c *Client) Snapshot() ([]byte, error) {
	return httpGetRaw(c.baseURL + "/snapshot")
}
