package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CipherPay/internal/logger"
	"CipherPay/internal/oracle"
)

// Config holds the oracle configuration.
type Config struct {
	// ListenAddress is the QUIC listen address.
	ListenAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// EngineKey is the hex ed25519 public key pinning the engine's
	// transport identity. Empty accepts any engine (dev only).
	EngineKey string

	// Delay simulates decryption latency before each callback.
	Delay time.Duration
}

func main() {
	logger.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg := parseFlags()

	priv, err := loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	blsKey, err := oracle.DeriveBLSKey(priv)
	if err != nil {
		return fmt.Errorf("derive BLS key:\n%w", err)
	}

	var engineKey ed25519.PublicKey
	if cfg.EngineKey != "" {
		raw, err := hex.DecodeString(cfg.EngineKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return fmt.Errorf("invalid engine key: %q", cfg.EngineKey)
		}

		engineKey = ed25519.PublicKey(raw)
	}

	server, err := oracle.NewServer(oracle.ServerConfig{
		ListenAddr: cfg.ListenAddress,
		PrivateKey: priv,
		BLSKey:     blsKey,
		EngineKey:  engineKey,
		Delay:      cfg.Delay,
	})
	if err != nil {
		return fmt.Errorf("create oracle:\n%w", err)
	}

	server.Start()

	// Engines pin both keys; print them so deployments can copy them over.
	logger.Info("starting CipherPay oracle",
		"addr", server.Addr(),
		"pubkey", hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
		"blsPubkey", hex.EncodeToString(server.BLSPublicKey()),
		"delay", cfg.Delay.String(),
	)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("shutting down")

	return server.Close()
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddress, "listen", ":9400", "QUIC listen address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.EngineKey, "engine-key", "", "Engine transport public key (hex, pins the engine identity)")
	flag.DurationVar(&cfg.Delay, "delay", 0, "Artificial decryption latency (e.g. 2s)")
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
