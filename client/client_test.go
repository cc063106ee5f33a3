package client

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"CipherPay/internal/api"
	"CipherPay/internal/bridge"
	"CipherPay/internal/fhe"
	"CipherPay/internal/ledger"
	"CipherPay/internal/storage"
)

// stubOracle satisfies the bridge's oracle dependency without a network.
type stubOracle struct {
	nextID byte
}

func (o *stubOracle) RegisterDecryptionJob(ciphertexts [][]byte) ([32]byte, error) {
	o.nextID++
	return [32]byte{o.nextID}, nil
}

func (o *stubOracle) VerifyProof(requestID [32]byte, cleartexts, proof []byte) bool {
	return true
}

// newTestEngine starts an in-process engine API and returns a client bound to
// the owner address.
func newTestEngine(t *testing.T) *Client {
	t.Helper()

	dir, err := os.MkdirTemp("", "client_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	db, err := storage.New(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	var owner ledger.Address
	owner[0] = 0x01

	led, err := ledger.New(db, owner)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}

	if err := led.SetCooldown(owner, 1); err != nil {
		t.Fatalf("failed to set cooldown: %v", err)
	}

	bri := bridge.New(led, fhe.DevArithmetic{}, &stubOracle{}, [32]byte{0xEE})
	server := api.New(":0", led, bri, db)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return New(strings.TrimPrefix(ts.URL, "http://"), owner.String())
}

func TestClientStatus(t *testing.T) {
	c := newTestEngine(t)

	status, err := c.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if status.Paused {
		t.Error("fresh engine should not be paused")
	}

	if status.HeadBatch != 0 {
		t.Errorf("expected head batch 0, got %d", status.HeadBatch)
	}
}

func TestClientBatchFlow(t *testing.T) {
	c := newTestEngine(t)

	batchID, err := c.OpenBatch()
	if err != nil {
		t.Fatalf("open batch failed: %v", err)
	}

	if batchID != 1 {
		t.Errorf("expected batch id 1, got %d", batchID)
	}

	err = c.SubmitEmployee(0, fhe.DevEncrypt(5000).Bytes(), fhe.DevEncrypt(10).Bytes())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	info, err := c.Batch(batchID)
	if err != nil {
		t.Fatalf("get batch failed: %v", err)
	}

	if info.EmployeeCount != 1 || !info.Open {
		t.Errorf("unexpected batch info: %+v", info)
	}

	requestID, err := c.RequestDecryption(batchID)
	if err != nil {
		t.Fatalf("request decryption failed: %v", err)
	}

	pending, err := c.Decryption(requestID)
	if err != nil {
		t.Fatalf("get decryption failed: %v", err)
	}

	if pending.Processed {
		t.Error("request should still be pending")
	}

	if err := c.CloseBatch(); err != nil {
		t.Fatalf("close batch failed: %v", err)
	}

	events, err := c.Events(0)
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}

	if len(events) == 0 {
		t.Error("expected events")
	}
}

func TestClientProviderErrors(t *testing.T) {
	c := newTestEngine(t)

	var provider ledger.Address
	provider[0] = 0x02

	if err := c.AddProvider(provider.String()); err != nil {
		t.Fatalf("add provider failed: %v", err)
	}

	providers, err := c.Providers()
	if err != nil {
		t.Fatalf("list providers failed: %v", err)
	}

	if len(providers) != 1 || providers[0] != provider.String() {
		t.Errorf("unexpected providers: %v", providers)
	}

	// A non-owner client sees the engine's error message
	stranger := New(strings.TrimPrefix(c.baseURL, "http://"), strings.Repeat("09", 32))

	err = stranger.AddProvider(provider.String())
	if err == nil {
		t.Fatal("expected error for non-owner caller")
	}

	if !strings.Contains(err.Error(), "owner") {
		t.Errorf("expected owner error, got: %v", err)
	}
}

func TestClientSnapshot(t *testing.T) {
	c := newTestEngine(t)

	archive, err := c.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	if len(archive) == 0 {
		t.Error("expected non-empty archive")
	}
}
