package oracle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"CipherPay/internal/fhe"
	"CipherPay/internal/logger"
)

// ServerConfig configures the dev oracle service.
type ServerConfig struct {
	ListenAddr string             // ListenAddr is the QUIC address to listen on (e.g., ":9400")
	PrivateKey ed25519.PrivateKey // PrivateKey is the oracle's transport key
	BLSKey     *BLSKeyPair        // BLSKey signs decryption proofs
	EngineKey  ed25519.PublicKey  // EngineKey optionally pins the engine's transport identity
	Delay      time.Duration      // Delay simulates decryption latency before each callback
}

// Server is the development oracle. It decrypts dev-scheme ciphertexts,
// signs the results with its BLS key and pushes callbacks over the engine's
// connection. A production oracle would swap the decryption step for real
// FHE key material and keep the same wire protocol.
type Server struct {
	listener  *quic.Listener
	blsKey    *BLSKeyPair
	engineKey ed25519.PublicKey
	delay     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a dev oracle service.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.BLSKey == nil {
		return nil, fmt.Errorf("BLS key is required")
	}

	tlsConfig, err := identityTLSConfig(cfg.PrivateKey, true)
	if err != nil {
		return nil, fmt.Errorf("build TLS config:\n%w", err)
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	listener, err := quic.ListenAddr(cfg.ListenAddr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		listener:  listener,
		blsKey:    cfg.BLSKey,
		engineKey: cfg.EngineKey,
		delay:     cfg.Delay,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Addr returns the listener's address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// BLSPublicKey returns the compressed proof verification key engines pin.
func (s *Server) BLSPublicKey() []byte {
	return s.blsKey.PublicKeyBytes()
}

// Start begins accepting engine connections.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.acceptLoop()
}

// Close stops the service.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()

	return err
}

// acceptLoop accepts incoming engine connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return // Listener closed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn verifies the engine's identity and serves its job streams.
func (s *Server) handleConn(conn *quic.Conn) {
	remoteKey, err := peerIdentity(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(1, "identity check failed")
		return
	}

	if s.engineKey != nil && !remoteKey.Equal(s.engineKey) {
		logger.Warn("rejected unknown engine", "identity", fmt.Sprintf("%x", remoteKey[:8]))
		conn.CloseWithError(1, "identity mismatch")

		return
	}

	logger.Info("engine connected", "identity", fmt.Sprintf("%x", remoteKey[:8]))

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			return // Connection closed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleJob(conn, stream)
		}()
	}
}

// handleJob registers one decryption job and schedules its callback.
func (s *Server) handleJob(conn *quic.Conn, stream *quic.Stream) {
	defer stream.Close()

	data, err := readMessage(stream)
	if err != nil {
		return
	}

	ciphertexts, err := decodeJob(data)
	if err != nil {
		logger.Warn("malformed job", "error", err.Error())
		return
	}

	var requestID [32]byte
	if _, err := rand.Read(requestID[:]); err != nil {
		return
	}

	if err := writeMessage(stream, requestID[:]); err != nil {
		return
	}

	logger.Debug("job registered",
		"request", fmt.Sprintf("%x", requestID[:8]),
		"ciphertexts", len(ciphertexts),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(conn, requestID, ciphertexts)
	}()
}

// deliver decrypts the job after the configured delay and pushes the callback.
func (s *Server) deliver(conn *quic.Conn, requestID [32]byte, ciphertexts [][]byte) {
	if s.delay > 0 {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}

	cleartexts, err := s.decrypt(ciphertexts)
	if err != nil {
		logger.Warn("decryption failed",
			"request", fmt.Sprintf("%x", requestID[:8]),
			"error", err.Error(),
		)

		return
	}

	proof := SignProof(s.blsKey, requestID, cleartexts)

	stream, err := conn.OpenUniStreamSync(s.ctx)
	if err != nil {
		return
	}
	defer stream.Close()

	if err := writeMessage(stream, encodeCallback(requestID, cleartexts, proof)); err != nil {
		logger.Warn("callback delivery failed",
			"request", fmt.Sprintf("%x", requestID[:8]),
			"error", err.Error(),
		)

		return
	}

	logger.Info("callback delivered", "request", fmt.Sprintf("%x", requestID[:8]))
}

// decrypt decodes each dev-scheme ciphertext into a big-endian uint32,
// concatenated in job order.
func (s *Server) decrypt(ciphertexts [][]byte) ([]byte, error) {
	cleartexts := make([]byte, 0, 4*len(ciphertexts))

	for i, ct := range ciphertexts {
		value, err := fhe.DevDecrypt(fhe.FromBytes(ct))
		if err != nil {
			return nil, fmt.Errorf("ciphertext %d:\n%w", i, err)
		}

		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], uint32(value))
		cleartexts = append(cleartexts, u32[:]...)
	}

	return cleartexts, nil
}
