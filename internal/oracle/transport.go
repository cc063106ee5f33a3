package oracle

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"CipherPay/internal/logger"
)

const (
	// defaultRequestTimeout bounds a job registration round trip.
	defaultRequestTimeout = 30 * time.Second
)

// ClientConfig configures the engine's connection to the oracle.
type ClientConfig struct {
	OracleAddr     string             // OracleAddr is the oracle's QUIC address
	PrivateKey     ed25519.PrivateKey // PrivateKey is the engine's transport key
	OracleKey      ed25519.PublicKey  // OracleKey pins the oracle's transport identity
	OracleBLSKey   []byte             // OracleBLSKey pins the oracle's proof verification key
	RequestTimeout time.Duration      // RequestTimeout bounds job registration; 0 means default
}

// Client is the engine's half of the oracle link. Jobs go out on
// bidirectional streams; the oracle pushes callbacks on unidirectional ones.
// Client satisfies the bridge's Oracle interface.
type Client struct {
	conn           *quic.Conn
	blsPublicKey   []byte
	requestTimeout time.Duration

	onCallback func(requestID [32]byte, cleartexts, proof []byte)
	handlersMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Connect dials the oracle and verifies its pinned transport identity.
func Connect(cfg ClientConfig) (*Client, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if len(cfg.OracleBLSKey) != BLSPublicKeySize {
		return nil, fmt.Errorf("oracle BLS key must be %d bytes", BLSPublicKeySize)
	}

	tlsConfig, err := identityTLSConfig(cfg.PrivateKey, false)
	if err != nil {
		return nil, fmt.Errorf("build TLS config:\n%w", err)
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	conn, err := quic.DialAddr(ctx, cfg.OracleAddr, tlsConfig, quicConfig)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial oracle: %w", err)
	}

	remoteKey, err := peerIdentity(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(1, "identity check failed")
		cancel()

		return nil, fmt.Errorf("extract oracle key: %w", err)
	}

	if cfg.OracleKey != nil && !bytes.Equal(remoteKey, cfg.OracleKey) {
		conn.CloseWithError(1, "identity mismatch")
		cancel()

		return nil, fmt.Errorf("oracle identity mismatch: got %x", remoteKey[:8])
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	client := &Client{
		conn:           conn,
		blsPublicKey:   append([]byte{}, cfg.OracleBLSKey...),
		requestTimeout: timeout,
		ctx:            ctx,
		cancel:         cancel,
	}

	client.wg.Add(1)
	go client.callbackLoop()

	logger.Info("connected to oracle", "addr", cfg.OracleAddr, "identity", fmt.Sprintf("%x", remoteKey[:8]))

	return client, nil
}

// OnCallback sets the handler invoked for each decryption callback.
func (c *Client) OnCallback(fn func(requestID [32]byte, cleartexts, proof []byte)) {
	c.handlersMu.Lock()
	c.onCallback = fn
	c.handlersMu.Unlock()
}

// RegisterDecryptionJob submits serialized ciphertexts for decryption and
// returns the oracle-assigned request id.
func (c *Client) RegisterDecryptionJob(ciphertexts [][]byte) ([32]byte, error) {
	var requestID [32]byte

	ctx, cancel := context.WithTimeout(c.ctx, c.requestTimeout)
	defer cancel()

	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return requestID, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, _ := ctx.Deadline()
	stream.SetDeadline(deadline)

	if err := writeMessage(stream, encodeJob(ciphertexts)); err != nil {
		return requestID, fmt.Errorf("write job:\n%w", err)
	}

	response, err := readMessage(stream)
	if err != nil {
		return requestID, fmt.Errorf("read job response:\n%w", err)
	}

	if len(response) != requestIDSize {
		return requestID, fmt.Errorf("job response wrong size: %d", len(response))
	}

	copy(requestID[:], response)

	return requestID, nil
}

// VerifyProof checks the oracle's proof against its pinned BLS key. Purely
// local; no round trip to the oracle.
func (c *Client) VerifyProof(requestID [32]byte, cleartexts, proof []byte) bool {
	return VerifyProof(c.blsPublicKey, requestID, cleartexts, proof)
}

// Close tears down the oracle connection.
func (c *Client) Close() error {
	c.cancel()
	err := c.conn.CloseWithError(0, "closed")
	c.wg.Wait()

	return err
}

// callbackLoop accepts unidirectional streams carrying decryption callbacks.
func (c *Client) callbackLoop() {
	defer c.wg.Done()

	for {
		stream, err := c.conn.AcceptUniStream(c.ctx)
		if err != nil {
			return // Connection closed
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleCallbackStream(stream)
		}()
	}
}

// handleCallbackStream reads and dispatches one callback.
func (c *Client) handleCallbackStream(stream *quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("callback read error", "error", err.Error())
		return
	}

	requestID, cleartexts, proof, err := decodeCallback(data)
	if err != nil {
		logger.Warn("malformed callback", "error", err.Error())
		return
	}

	c.handlersMu.RLock()
	fn := c.onCallback
	c.handlersMu.RUnlock()

	if fn != nil {
		fn(requestID, cleartexts, proof)
	}
}
