package oracle

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"CipherPay/internal/fhe"
)

type callbackResult struct {
	requestID  [32]byte
	cleartexts []byte
	proof      []byte
}

// newTestServer starts a dev oracle on a loopback port.
func newTestServer(t *testing.T, delay time.Duration) (*Server, ed25519.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	blsKey, err := DeriveBLSKey(priv)
	if err != nil {
		t.Fatalf("failed to derive BLS key: %v", err)
	}

	server, err := NewServer(ServerConfig{
		ListenAddr: "127.0.0.1:0",
		PrivateKey: priv,
		BLSKey:     blsKey,
		Delay:      delay,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	server.Start()

	t.Cleanup(func() {
		server.Close()
	})

	return server, pub
}

func newTestClient(t *testing.T, server *Server, oracleKey ed25519.PublicKey) *Client {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	client, err := Connect(ClientConfig{
		OracleAddr:   server.Addr(),
		PrivateKey:   priv,
		OracleKey:    oracleKey,
		OracleBLSKey: server.BLSPublicKey(),
	})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestDecryptionJobRoundTrip(t *testing.T) {
	server, oracleKey := newTestServer(t, 0)
	client := newTestClient(t, server, oracleKey)

	results := make(chan callbackResult, 1)
	client.OnCallback(func(requestID [32]byte, cleartexts, proof []byte) {
		results <- callbackResult{requestID, cleartexts, proof}
	})

	requestID, err := client.RegisterDecryptionJob([][]byte{
		fhe.DevEncrypt(11000).Bytes(),
		fhe.DevEncrypt(1700).Bytes(),
	})
	if err != nil {
		t.Fatalf("register job failed: %v", err)
	}

	select {
	case result := <-results:
		if result.requestID != requestID {
			t.Error("callback request id does not match registration")
		}

		if len(result.cleartexts) != 8 {
			t.Fatalf("expected 8 cleartext bytes, got %d", len(result.cleartexts))
		}

		// Two big-endian uint32 values in job order
		salary := uint32(result.cleartexts[0])<<24 | uint32(result.cleartexts[1])<<16 |
			uint32(result.cleartexts[2])<<8 | uint32(result.cleartexts[3])
		if salary != 11000 {
			t.Errorf("expected salary 11000, got %d", salary)
		}

		if !client.VerifyProof(result.requestID, result.cleartexts, result.proof) {
			t.Error("proof verification failed")
		}

		// Tampered cleartexts invalidate the proof
		tampered := append([]byte{}, result.cleartexts...)
		tampered[7] ^= 0x01
		if client.VerifyProof(result.requestID, tampered, result.proof) {
			t.Error("tampered cleartexts should fail proof verification")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback not delivered")
	}
}

func TestDistinctJobsGetDistinctRequestIDs(t *testing.T) {
	server, oracleKey := newTestServer(t, 0)
	client := newTestClient(t, server, oracleKey)
	client.OnCallback(func([32]byte, []byte, []byte) {})

	job := [][]byte{fhe.DevEncrypt(1).Bytes(), fhe.DevEncrypt(2).Bytes()}

	first, err := client.RegisterDecryptionJob(job)
	if err != nil {
		t.Fatalf("register job failed: %v", err)
	}

	second, err := client.RegisterDecryptionJob(job)
	if err != nil {
		t.Fatalf("register job failed: %v", err)
	}

	if first == second {
		t.Error("identical jobs must still get distinct request ids")
	}
}

func TestCloseWaitsForCallbackDispatch(t *testing.T) {
	server, oracleKey := newTestServer(t, 0)
	client := newTestClient(t, server, oracleKey)

	started := make(chan struct{})
	release := make(chan struct{})
	client.OnCallback(func([32]byte, []byte, []byte) {
		close(started)
		<-release
	})

	if _, err := client.RegisterDecryptionJob([][]byte{fhe.DevEncrypt(1).Bytes()}); err != nil {
		t.Fatalf("register job failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not delivered")
	}

	closed := make(chan struct{})
	go func() {
		client.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a callback was still being dispatched")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the callback finished")
	}
}

func TestConnectRejectsWrongOracleIdentity(t *testing.T) {
	server, _ := newTestServer(t, 0)

	wrongKey, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	_, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	_, err = Connect(ClientConfig{
		OracleAddr:   server.Addr(),
		PrivateKey:   clientPriv,
		OracleKey:    wrongKey,
		OracleBLSKey: server.BLSPublicKey(),
	})
	if err == nil {
		t.Error("expected identity mismatch error")
	}
}

func TestConnectRequiresBLSKey(t *testing.T) {
	server, oracleKey := newTestServer(t, 0)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	_, err = Connect(ClientConfig{
		OracleAddr: server.Addr(),
		PrivateKey: priv,
		OracleKey:  oracleKey,
	})
	if err == nil {
		t.Error("expected error for missing BLS key")
	}
}
