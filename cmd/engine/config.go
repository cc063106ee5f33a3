package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
)

// Config holds the engine configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// OracleAddress is the decryption oracle's QUIC address.
	OracleAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the engine's Ed25519 transport key.
	PrivateKey ed25519.PrivateKey

	// Owner is the hex address that becomes owner on first start.
	Owner string

	// OracleKey is the hex ed25519 public key pinning the oracle's
	// transport identity. Empty disables pinning (dev only).
	OracleKey string

	// OracleBLSKey is the hex BLS public key verifying decryption proofs.
	OracleBLSKey string

	// RestorePath is an optional snapshot archive imported before startup.
	RestorePath string
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.OracleAddress, "oracle", "127.0.0.1:9400", "Decryption oracle QUIC address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.Owner, "owner", "", "Owner address (hex, required on first start)")
	flag.StringVar(&cfg.OracleKey, "oracle-key", "", "Oracle transport public key (hex, pins the oracle identity)")
	flag.StringVar(&cfg.OracleBLSKey, "oracle-bls-key", "", "Oracle BLS public key (hex, verifies decryption proofs)")
	flag.StringVar(&cfg.RestorePath, "restore", "", "Snapshot archive to import before startup")
	flag.Parse()

	return cfg
}

// loadOrGenerateKey returns the Ed25519 key stored at keyPath, creating and
// persisting a fresh one when the file does not exist yet. An empty path
// yields an ephemeral key.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath != "" {
		data, err := os.ReadFile(keyPath)

		switch {
		case err == nil:
			if len(data) != ed25519.PrivateKeySize {
				return nil, fmt.Errorf("key file %s: got %d bytes, want %d",
					keyPath, len(data), ed25519.PrivateKeySize)
			}

			return ed25519.PrivateKey(data), nil

		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read key file:\n%w", err)
		}
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	if keyPath != "" {
		if err := os.WriteFile(keyPath, priv, 0600); err != nil {
			return nil, fmt.Errorf("save key to %s:\n%w", keyPath, err)
		}
	}

	return priv, nil
}
