// Package api exposes the settlement engine over HTTP. Callers identify
// themselves by their 32-byte hex address in the request body; transport
// authentication sits in front of this server and is out of scope here.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"CipherPay/internal/bridge"
	"CipherPay/internal/fhe"
	"CipherPay/internal/ledger"
	"CipherPay/internal/logger"
	"CipherPay/internal/snapshot"
	"CipherPay/internal/storage"
)

// maxBodySize caps request bodies (1 MB).
const maxBodySize = 1 << 20

// Server is the HTTP API server.
type Server struct {
	addr   string         // addr is the HTTP listen address
	led    *ledger.Ledger // led holds all settlement state
	bri    *bridge.Bridge // bri drives decryption round trips
	db     *storage.Storage
	server *http.Server
}

// New creates a new HTTP API server.
func New(addr string, led *ledger.Ledger, bri *bridge.Bridge, db *storage.Storage) *Server {
	return &Server{
		addr: addr,
		led:  led,
		bri:  bri,
		db:   db,
	}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /owner/transfer", s.handleTransferOwnership)
	mux.HandleFunc("POST /providers/add", s.handleAddProvider)
	mux.HandleFunc("POST /providers/remove", s.handleRemoveProvider)
	mux.HandleFunc("POST /pause", s.handleSetPaused)
	mux.HandleFunc("POST /cooldown", s.handleSetCooldown)

	mux.HandleFunc("POST /batches/open", s.handleOpenBatch)
	mux.HandleFunc("POST /batches/close", s.handleCloseBatch)
	mux.HandleFunc("POST /employees", s.handleSubmitEmployee)
	mux.HandleFunc("POST /decryptions", s.handleRequestDecryption)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /providers", s.handleListProviders)
	mux.HandleFunc("GET /batches/{id}", s.handleGetBatch)
	mux.HandleFunc("GET /decryptions/{id}", s.handleGetDecryption)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)

	return mux
}

// Handler returns the request handler, for serving through an external
// listener (tests, embedding).
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// --- admin ---

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		NewOwner string `json:"newOwner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, newOwner, ok := parseAddressPair(w, req.Caller, req.NewOwner)
	if !ok {
		return
	}

	if err := s.led.TransferOwnership(caller, newOwner); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"owner": newOwner.String()})
}

func (s *Server) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, addr, ok := parseAddressPair(w, req.Caller, req.Address)
	if !ok {
		return
	}

	if err := s.led.AddProvider(caller, addr); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"provider": addr.String()})
}

func (s *Server) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, addr, ok := parseAddressPair(w, req.Caller, req.Address)
	if !ok {
		return
	}

	if err := s.led.RemoveProvider(caller, addr); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"removed": addr.String()})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Paused bool   `json:"paused"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	if err := s.led.SetPaused(caller, req.Paused); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (s *Server) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		Seconds uint64 `json:"seconds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	if err := s.led.SetCooldown(caller, req.Seconds); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"cooldown": req.Seconds})
}

// --- batches ---

func (s *Server) handleOpenBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	batchID, err := s.led.OpenBatch(caller)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]uint64{"batchId": batchID})
}

func (s *Server) handleCloseBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	if err := s.led.CloseBatch(caller); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"batchId": s.led.HeadBatch()})
}

func (s *Server) handleSubmitEmployee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller        string `json:"caller"`
		EmployeeID    uint64 `json:"employeeId"`
		Salary        string `json:"salary"`        // hex ciphertext envelope
		InvestmentPct string `json:"investmentPct"` // hex ciphertext envelope
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	salary, err := parseCiphertext(req.Salary)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid salary: %v", err))
		return
	}

	pct, err := parseCiphertext(req.InvestmentPct)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid investmentPct: %v", err))
		return
	}

	if err := s.led.SubmitEmployeeData(caller, req.EmployeeID, salary, pct); err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{
		"batchId":    s.led.HeadBatch(),
		"employeeId": req.EmployeeID,
	})
}

func (s *Server) handleRequestDecryption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		BatchID uint64 `json:"batchId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	caller, ok := parseCaller(w, req.Caller)
	if !ok {
		return
	}

	requestID, err := s.bri.RequestSummaryDecryption(caller, req.BatchID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"requestId": hex.EncodeToString(requestID[:]),
	})
}

// --- reads ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     s.led.Owner().String(),
		"paused":    s.led.Paused(),
		"cooldown":  s.led.CooldownSeconds(),
		"headBatch": s.led.HeadBatch(),
		"providers": len(s.led.Providers()),
	})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.led.Providers()

	list := make([]string, len(providers))
	for i, p := range providers {
		list[i] = p.String()
	}

	writeJSON(w, http.StatusOK, map[string]any{"providers": list})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	batch, err := s.led.BatchSnapshot(id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batchId":       batch.ID,
		"open":          batch.Open,
		"employeeCount": batch.EmployeeCount,
	})
}

func (s *Server) handleGetDecryption(w http.ResponseWriter, r *http.Request) {
	raw, err := hex.DecodeString(r.PathValue("id"))
	if err != nil || len(raw) != 32 {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var requestID [32]byte
	copy(requestID[:], raw)

	ctx, ok := s.led.Context(requestID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown decryption request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requestId": hex.EncodeToString(ctx.RequestID[:]),
		"batchId":   ctx.BatchID,
		"stateHash": hex.EncodeToString(ctx.StateHash[:]),
		"processed": ctx.Processed,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64

	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}

		since = parsed
	}

	events, err := s.led.Events(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	if events == nil {
		events = []ledger.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	archive, err := snapshot.Export(s.db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "snapshot export failed")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(archive)
}

// --- helpers ---

// decodeBody parses the JSON request body; on failure it writes the error
// response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}

	return true
}

func parseCaller(w http.ResponseWriter, raw string) (ledger.Address, bool) {
	caller, err := ledger.ParseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return ledger.Address{}, false
	}

	return caller, true
}

func parseAddressPair(w http.ResponseWriter, rawCaller, rawSubject string) (ledger.Address, ledger.Address, bool) {
	caller, ok := parseCaller(w, rawCaller)
	if !ok {
		return ledger.Address{}, ledger.Address{}, false
	}

	subject, err := ledger.ParseAddress(rawSubject)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subject address")
		return ledger.Address{}, ledger.Address{}, false
	}

	return caller, subject, true
}

func parseCiphertext(raw string) (fhe.Ciphertext, error) {
	data, err := hex.DecodeString(raw)
	if err != nil {
		return fhe.Ciphertext{}, fmt.Errorf("not valid hex")
	}

	return fhe.FromBytes(data), nil
}

// writeLedgerError maps ledger error kinds to HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ledger.ErrNotOwner), errors.Is(err, ledger.ErrNotProvider):
		status = http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidAddress),
		errors.Is(err, ledger.ErrInvalidCooldown),
		errors.Is(err, ledger.ErrNotInitialized):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnknownBatch), errors.Is(err, ledger.ErrUnknownRequest):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrPaused),
		errors.Is(err, ledger.ErrCooldownActive),
		errors.Is(err, ledger.ErrBatchClosed),
		errors.Is(err, ledger.ErrEmptyBatch),
		errors.Is(err, ledger.ErrReplayAttempt),
		errors.Is(err, ledger.ErrStateMismatch),
		errors.Is(err, ledger.ErrInvalidProof):
		status = http.StatusConflict
	}

	writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
