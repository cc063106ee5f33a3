package oracle

import (
	"github.com/zeebo/blake3"
)

// proofDomain separates decryption proofs from any other message the oracle
// key might ever sign.
var proofDomain = []byte("cipherpay-decryption-proof-v1")

// proofDigest builds the message a decryption proof signs: the request id and
// the exact cleartext payload delivered in the callback.
func proofDigest(requestID [32]byte, cleartexts []byte) []byte {
	h := blake3.New()
	h.Write(proofDomain)
	h.Write(requestID[:])
	h.Write(cleartexts)

	digest := h.Sum(nil)

	return digest
}

// SignProof produces the BLS proof for a decryption result.
func SignProof(key *BLSKeyPair, requestID [32]byte, cleartexts []byte) []byte {
	return key.Sign(proofDigest(requestID, cleartexts))
}

// VerifyProof checks a decryption proof against the oracle's BLS public key.
// Any tampering with the request id or the cleartexts invalidates the proof.
func VerifyProof(publicKey []byte, requestID [32]byte, cleartexts, proof []byte) bool {
	return VerifySignature(proof, proofDigest(requestID, cleartexts), publicKey)
}
