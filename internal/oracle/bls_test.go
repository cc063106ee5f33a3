package oracle

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func TestBLSSignVerify(t *testing.T) {
	key, err := GenerateBLSKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	message := []byte("decryption result")
	sig := key.Sign(message)

	if len(sig) != BLSSignatureSize {
		t.Errorf("expected signature size %d, got %d", BLSSignatureSize, len(sig))
	}

	if !VerifySignature(sig, message, key.PublicKeyBytes()) {
		t.Error("valid signature rejected")
	}

	if VerifySignature(sig, []byte("other message"), key.PublicKeyBytes()) {
		t.Error("signature verified against wrong message")
	}

	other, _ := GenerateBLSKey()
	if VerifySignature(sig, message, other.PublicKeyBytes()) {
		t.Error("signature verified against wrong key")
	}
}

func TestBLSKeyDerivationDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)

	first, err := DeriveBLSKey(priv)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	second, err := DeriveBLSKey(priv)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	if !bytes.Equal(first.PublicKeyBytes(), second.PublicKeyBytes()) {
		t.Error("same seed must derive the same BLS key")
	}

	otherPriv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x43}, ed25519.SeedSize))
	otherKey, _ := DeriveBLSKey(otherPriv)

	if bytes.Equal(first.PublicKeyBytes(), otherKey.PublicKeyBytes()) {
		t.Error("different seeds must derive different BLS keys")
	}
}

func TestGenerateBLSKeyFromSeedRejectsShortSeed(t *testing.T) {
	if _, err := GenerateBLSKeyFromSeed([]byte("short")); err == nil {
		t.Error("expected error for short seed")
	}
}

func TestProofBindsRequestAndCleartexts(t *testing.T) {
	key, err := GenerateBLSKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	requestID := [32]byte{0x01}
	cleartexts := []byte{0x00, 0x00, 0x2A, 0xF8, 0x00, 0x00, 0x06, 0xA4}

	proof := SignProof(key, requestID, cleartexts)

	if !VerifyProof(key.PublicKeyBytes(), requestID, cleartexts, proof) {
		t.Error("valid proof rejected")
	}

	// Tampered cleartexts
	tampered := append([]byte{}, cleartexts...)
	tampered[3] ^= 0x01

	if VerifyProof(key.PublicKeyBytes(), requestID, tampered, proof) {
		t.Error("proof verified over tampered cleartexts")
	}

	// Different request id
	if VerifyProof(key.PublicKeyBytes(), [32]byte{0x02}, cleartexts, proof) {
		t.Error("proof verified for a different request")
	}

	// Garbage proof
	if VerifyProof(key.PublicKeyBytes(), requestID, cleartexts, []byte("junk")) {
		t.Error("garbage proof verified")
	}
}
