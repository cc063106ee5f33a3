package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeebo/blake3"

	"CipherPay/internal/api"
	"CipherPay/internal/bridge"
	"CipherPay/internal/fhe"
	"CipherPay/internal/ledger"
	"CipherPay/internal/logger"
	"CipherPay/internal/oracle"
	"CipherPay/internal/snapshot"
	"CipherPay/internal/storage"
)

// Engine bundles the running engine's components.
type Engine struct {
	db     *storage.Storage
	led    *ledger.Ledger
	client *oracle.Client
	server *api.Server
}

// NewEngine wires storage, ledger, oracle link, bridge and HTTP API together.
func NewEngine(cfg *Config) (*Engine, error) {
	db, err := storage.New(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open storage:\n%w", err)
	}

	if cfg.RestorePath != "" {
		if err := restore(db, cfg.RestorePath); err != nil {
			db.Close()
			return nil, err
		}
	}

	owner, err := parseOwner(cfg.Owner)
	if err != nil {
		db.Close()
		return nil, err
	}

	led, err := ledger.New(db, owner)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger:\n%w", err)
	}

	oracleKey, blsKey, err := parseOracleKeys(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	client, err := oracle.Connect(oracle.ClientConfig{
		OracleAddr:   cfg.OracleAddress,
		PrivateKey:   cfg.PrivateKey,
		OracleKey:    oracleKey,
		OracleBLSKey: blsKey,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect oracle:\n%w", err)
	}

	// The engine identity folds the transport key into every state hash, so
	// oracle callbacks are bound to this deployment.
	identity := blake3.Sum256(cfg.PrivateKey.Public().(ed25519.PublicKey))

	bri := bridge.New(led, fhe.DevArithmetic{}, client, identity)

	client.OnCallback(func(requestID [32]byte, cleartexts, proof []byte) {
		// Rejected callbacks are logged by the bridge; nothing to do here.
		bri.HandleCallback(requestID, cleartexts, proof)
	})

	server := api.New(cfg.HTTPAddress, led, bri, db)

	return &Engine{
		db:     db,
		led:    led,
		client: client,
		server: server,
	}, nil
}

// Run starts the HTTP API and blocks until shutdown.
func (e *Engine) Run() error {
	if err := e.server.Start(); err != nil {
		return fmt.Errorf("start http api:\n%w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("shutting down")

	e.server.Stop()
	e.client.Close()

	return e.db.Close()
}

// restore imports a snapshot archive into storage before the ledger opens.
func restore(db *storage.Storage, path string) error {
	archive, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot:\n%w", err)
	}

	count, err := snapshot.Import(db, archive)
	if err != nil {
		return fmt.Errorf("import snapshot:\n%w", err)
	}

	logger.Info("snapshot restored", "path", path, "entries", count)

	return nil
}

// parseOwner decodes the owner flag. A missing owner is only an error on
// first start; the ledger ignores the deployer once initialized, so a zero
// address is passed through and rejected there if the ledger is fresh.
func parseOwner(raw string) (ledger.Address, error) {
	if raw == "" {
		return ledger.Address{}, nil
	}

	owner, err := ledger.ParseAddress(raw)
	if err != nil {
		return ledger.Address{}, fmt.Errorf("invalid owner address:\n%w", err)
	}

	return owner, nil
}

// parseOracleKeys decodes the oracle pinning flags.
func parseOracleKeys(cfg *Config) (ed25519.PublicKey, []byte, error) {
	var oracleKey ed25519.PublicKey

	if cfg.OracleKey != "" {
		raw, err := hex.DecodeString(cfg.OracleKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, nil, fmt.Errorf("invalid oracle key: %q", cfg.OracleKey)
		}

		oracleKey = ed25519.PublicKey(raw)
	}

	if cfg.OracleBLSKey == "" {
		return nil, nil, fmt.Errorf("oracle BLS key is required (-oracle-bls-key)")
	}

	blsKey, err := hex.DecodeString(cfg.OracleBLSKey)
	if err != nil || len(blsKey) != oracle.BLSPublicKeySize {
		return nil, nil, fmt.Errorf("invalid oracle BLS key: %q", cfg.OracleBLSKey)
	}

	return oracleKey, blsKey, nil
}
