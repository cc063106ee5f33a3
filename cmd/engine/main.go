package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"CipherPay/internal/logger"
)

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

	var err error
	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	engine, err := NewEngine(cfg)
	if err != nil {
		return fmt.Errorf("create engine:\n%w", err)
	}

	printStartupInfo(cfg)

	return engine.Run()
}

// printStartupInfo displays engine configuration at startup.
func printStartupInfo(cfg *Config) {
	pubKey := cfg.PrivateKey.Public().(ed25519.PublicKey)

	logger.Info("starting CipherPay engine",
		"pubkey", hex.EncodeToString(pubKey),
		"http", cfg.HTTPAddress,
		"oracle", cfg.OracleAddress,
		"data", cfg.DataPath,
	)
}
