// Package ledger holds the settlement engine's entire mutable state: the
// access registry, batches of encrypted employee records, per-actor cooldown
// stamps, decryption contexts and the event log. Every mutating operation is
// an atomic, serialized unit: it validates against the latest committed state
// under one lock and commits all of its writes (including the emitted event)
// through a single storage batch, so a rejected call is never observable.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"CipherPay/internal/fhe"
	"CipherPay/internal/logger"
	"CipherPay/internal/storage"
)

// defaultCooldownSeconds is the cooldown applied until the owner configures one.
const defaultCooldownSeconds = 60

// Ledger is the aggregate root for all settlement state.
type Ledger struct {
	db  *storage.Storage
	now func() time.Time

	mu           sync.Mutex
	owner        Address
	paused       bool
	cooldown     uint64 // seconds, applies to both per-actor timers
	head         uint64 // current batch id for submissions; 0 before the first openBatch
	providers    map[Address]bool
	batches      map[uint64]*Batch
	submitStamp  map[Address]int64 // unix seconds of last submission per actor
	decryptStamp map[Address]int64 // unix seconds of last decryption request per actor
	contexts     map[[32]byte]DecryptionContext
	eventSeq     uint64 // next event sequence number
}

// New opens the ledger backed by db. On first use the deployer becomes the
// owner and the cooldown gets its default; on restart all state is rebuilt
// from storage and deployer is ignored.
func New(db *storage.Storage, deployer Address) (*Ledger, error) {
	return NewWithClock(db, deployer, time.Now)
}

// NewWithClock is New with an injected clock, used by tests to step time.
func NewWithClock(db *storage.Storage, deployer Address, now func() time.Time) (*Ledger, error) {
	l := &Ledger{
		db:           db,
		now:          now,
		providers:    make(map[Address]bool),
		batches:      make(map[uint64]*Batch),
		submitStamp:  make(map[Address]int64),
		decryptStamp: make(map[Address]int64),
		contexts:     make(map[[32]byte]DecryptionContext),
	}

	ownerRaw, err := db.Get(keyOwner)
	if err != nil {
		return nil, fmt.Errorf("read owner:\n%w", err)
	}

	if ownerRaw == nil {
		if err := l.initialize(deployer); err != nil {
			return nil, fmt.Errorf("initialize ledger:\n%w", err)
		}

		return l, nil
	}

	if err := l.load(ownerRaw); err != nil {
		return nil, fmt.Errorf("load ledger:\n%w", err)
	}

	return l, nil
}

// initialize writes the genesis state for a fresh ledger.
func (l *Ledger) initialize(deployer Address) error {
	if deployer.IsZero() {
		return ErrInvalidAddress
	}

	l.owner = deployer
	l.cooldown = defaultCooldownSeconds

	err := l.db.Apply([]storage.KeyValue{
		{Key: keyOwner, Value: deployer[:]},
		{Key: keyPaused, Value: encodeBool(false)},
		{Key: keyCooldown, Value: encodeU64(defaultCooldownSeconds)},
		{Key: keyHead, Value: encodeU64(0)},
		{Key: keyEventSeq, Value: encodeU64(0)},
	})
	if err != nil {
		return err
	}

	logger.Info("ledger initialized", "owner", deployer.String())

	return nil
}

// load rebuilds the in-memory state from storage.
func (l *Ledger) load(ownerRaw []byte) error {
	copy(l.owner[:], ownerRaw)

	pausedRaw, err := l.db.Get(keyPaused)
	if err != nil {
		return err
	}
	l.paused = decodeBool(pausedRaw)

	cooldownRaw, err := l.db.Get(keyCooldown)
	if err != nil {
		return err
	}
	l.cooldown = decodeU64(cooldownRaw)

	headRaw, err := l.db.Get(keyHead)
	if err != nil {
		return err
	}
	l.head = decodeU64(headRaw)

	seqRaw, err := l.db.Get(keyEventSeq)
	if err != nil {
		return err
	}
	l.eventSeq = decodeU64(seqRaw)

	err = l.db.IteratePrefix(prefixProvider, func(key, _ []byte) error {
		var addr Address
		copy(addr[:], key[len(prefixProvider):])
		l.providers[addr] = true

		return nil
	})
	if err != nil {
		return err
	}

	err = l.db.IteratePrefix(prefixBatch, func(key, value []byte) error {
		id := decodeU64(key[len(prefixBatch):])

		batch, err := decodeBatchMeta(id, value)
		if err != nil {
			return err
		}

		l.batches[id] = batch

		return nil
	})
	if err != nil {
		return err
	}

	err = l.db.IteratePrefix(prefixRecord, func(key, value []byte) error {
		batchID := decodeU64(key[len(prefixRecord) : len(prefixRecord)+8])
		employeeID := decodeU64(key[len(prefixRecord)+8:])

		rec, err := decodeRecord(value)
		if err != nil {
			return err
		}

		batch, ok := l.batches[batchID]
		if !ok {
			return fmt.Errorf("record for unknown batch %d", batchID)
		}

		batch.records[employeeID] = rec

		return nil
	})
	if err != nil {
		return err
	}

	err = l.db.IteratePrefix(prefixSubmitStamp, func(key, value []byte) error {
		var addr Address
		copy(addr[:], key[len(prefixSubmitStamp):])
		l.submitStamp[addr] = int64(decodeU64(value))

		return nil
	})
	if err != nil {
		return err
	}

	err = l.db.IteratePrefix(prefixDecryptStamp, func(key, value []byte) error {
		var addr Address
		copy(addr[:], key[len(prefixDecryptStamp):])
		l.decryptStamp[addr] = int64(decodeU64(value))

		return nil
	})
	if err != nil {
		return err
	}

	err = l.db.IteratePrefix(prefixContext, func(key, value []byte) error {
		var requestID [32]byte
		copy(requestID[:], key[len(prefixContext):])

		ctx, err := decodeContext(requestID, value)
		if err != nil {
			return err
		}

		l.contexts[requestID] = ctx

		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("ledger loaded",
		"batches", len(l.batches),
		"providers", len(l.providers),
		"contexts", len(l.contexts),
	)

	return nil
}

// --- access control ---

// TransferOwnership hands the owner role to newOwner.
func (l *Ledger) TransferOwnership(caller, newOwner Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	if newOwner.IsZero() {
		return ErrInvalidAddress
	}

	ev := l.nextEvent(EventOwnershipTransferred)
	ev.Actor = caller.String()
	ev.Subject = newOwner.String()

	err := l.commit([]storage.KeyValue{
		{Key: keyOwner, Value: newOwner[:]},
	}, ev)
	if err != nil {
		return err
	}

	l.owner = newOwner

	return nil
}

// AddProvider authorizes addr to submit data and request decryption.
// Adding an existing provider is a no-op and emits no event.
func (l *Ledger) AddProvider(caller, addr Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	if addr.IsZero() {
		return ErrInvalidAddress
	}

	if l.providers[addr] {
		return nil
	}

	ev := l.nextEvent(EventProviderAdded)
	ev.Actor = caller.String()
	ev.Subject = addr.String()

	err := l.commit([]storage.KeyValue{
		{Key: providerKey(addr), Value: encodeBool(true)},
	}, ev)
	if err != nil {
		return err
	}

	l.providers[addr] = true

	return nil
}

// RemoveProvider revokes addr's provider role.
// Removing a non-provider is a no-op and emits no event.
func (l *Ledger) RemoveProvider(caller, addr Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	if !l.providers[addr] {
		return nil
	}

	ev := l.nextEvent(EventProviderRemoved)
	ev.Actor = caller.String()
	ev.Subject = addr.String()

	err := l.commit([]storage.KeyValue{
		{Key: providerKey(addr), Value: nil},
	}, ev)
	if err != nil {
		return err
	}

	delete(l.providers, addr)

	return nil
}

// SetPaused engages or releases the global circuit breaker. While paused,
// every state-mutating batch and decryption-request operation fails; oracle
// callbacks are unaffected.
func (l *Ledger) SetPaused(caller Address, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	ev := l.nextEvent(EventPauseToggled)
	ev.Actor = caller.String()
	ev.Paused = paused

	err := l.commit([]storage.KeyValue{
		{Key: keyPaused, Value: encodeBool(paused)},
	}, ev)
	if err != nil {
		return err
	}

	l.paused = paused

	return nil
}

// SetCooldown configures the shared cooldown duration in seconds.
func (l *Ledger) SetCooldown(caller Address, seconds uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	if seconds == 0 {
		return ErrInvalidCooldown
	}

	ev := l.nextEvent(EventCooldownSet)
	ev.Actor = caller.String()
	ev.Cooldown = seconds

	err := l.commit([]storage.KeyValue{
		{Key: keyCooldown, Value: encodeU64(seconds)},
	}, ev)
	if err != nil {
		return err
	}

	l.cooldown = seconds

	return nil
}

// --- batch lifecycle ---

// OpenBatch allocates the next batch id and marks it open. The previous batch
// need not be closed; only the newest id receives submissions.
func (l *Ledger) OpenBatch(caller Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return 0, ErrNotOwner
	}

	if l.paused {
		return 0, ErrPaused
	}

	id := l.head + 1
	batch := &Batch{
		ID:      id,
		Open:    true,
		records: make(map[uint64]EmployeeRecord),
	}

	ev := l.nextEvent(EventBatchOpened)
	ev.Actor = caller.String()
	ev.BatchID = id

	err := l.commit([]storage.KeyValue{
		{Key: keyHead, Value: encodeU64(id)},
		{Key: batchKey(id), Value: encodeBatchMeta(batch)},
	}, ev)
	if err != nil {
		return 0, err
	}

	l.head = id
	l.batches[id] = batch

	return id, nil
}

// CloseBatch closes the current batch. A batch closes exactly once and never
// reopens; closing again fails with ErrBatchClosed.
func (l *Ledger) CloseBatch(caller Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	if l.paused {
		return ErrPaused
	}

	batch, ok := l.batches[l.head]
	if !ok || !batch.Open {
		return ErrBatchClosed
	}

	closed := batch.clone()
	closed.Open = false

	ev := l.nextEvent(EventBatchClosed)
	ev.Actor = caller.String()
	ev.BatchID = batch.ID

	err := l.commit([]storage.KeyValue{
		{Key: batchKey(batch.ID), Value: encodeBatchMeta(closed)},
	}, ev)
	if err != nil {
		return err
	}

	batch.Open = false

	return nil
}

// SubmitEmployeeData writes (or overwrites) the employee slot in the current
// batch. The employee count increments exactly once per distinct employee id,
// on first insertion, keeping ids dense for the aggregation loop.
func (l *Ledger) SubmitEmployeeData(caller Address, employeeID uint64, salary, pct fhe.Ciphertext) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.trusted(caller) {
		return ErrNotProvider
	}

	if l.paused {
		return ErrPaused
	}

	nowUnix := l.now().Unix()
	if !l.cooldownElapsed(l.submitStamp[caller], nowUnix) {
		return ErrCooldownActive
	}

	batch, ok := l.batches[l.head]
	if !ok || !batch.Open {
		return ErrBatchClosed
	}

	if !salary.Initialized() || !pct.Initialized() {
		return ErrNotInitialized
	}

	rec := EmployeeRecord{
		Salary:        salary,
		InvestmentPct: pct,
		Active:        true,
	}

	updated := batch.clone()
	if _, seen := updated.records[employeeID]; !seen {
		updated.EmployeeCount++
	}
	updated.records[employeeID] = rec

	ev := l.nextEvent(EventEmployeeDataSubmitted)
	ev.Actor = caller.String()
	ev.BatchID = batch.ID
	ev.EmployeeID = employeeID

	err := l.commit([]storage.KeyValue{
		{Key: batchKey(batch.ID), Value: encodeBatchMeta(updated)},
		{Key: recordKey(batch.ID, employeeID), Value: encodeRecord(rec)},
		{Key: stampKey(prefixSubmitStamp, caller), Value: encodeU64(uint64(nowUnix))},
	}, ev)
	if err != nil {
		return err
	}

	l.batches[batch.ID] = updated
	l.submitStamp[caller] = nowUnix

	return nil
}

// --- decryption contexts ---

// AuthorizeDecryptionRequest validates that caller may request aggregate
// decryption for batchID right now, and returns a snapshot of the batch for
// aggregation. It does not mutate state; RecordDecryptionRequest commits the
// request once the oracle has assigned an id.
func (l *Ledger) AuthorizeDecryptionRequest(caller Address, batchID uint64) (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.trusted(caller) {
		return nil, ErrNotProvider
	}

	if l.paused {
		return nil, ErrPaused
	}

	if !l.cooldownElapsed(l.decryptStamp[caller], l.now().Unix()) {
		return nil, ErrCooldownActive
	}

	batch, ok := l.batches[batchID]
	if !ok {
		// A batch that was never opened has no active employees.
		return nil, ErrEmptyBatch
	}

	return batch.clone(), nil
}

// RecordDecryptionRequest persists the pending decryption context and stamps
// the caller's decryption-request cooldown. The cooldown is re-checked so two
// authorized requests racing each other cannot both commit inside one window.
func (l *Ledger) RecordDecryptionRequest(caller Address, requestID [32]byte, batchID uint64, stateHash [32]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowUnix := l.now().Unix()
	if !l.cooldownElapsed(l.decryptStamp[caller], nowUnix) {
		return ErrCooldownActive
	}

	if _, exists := l.contexts[requestID]; exists {
		return fmt.Errorf("request id already recorded")
	}

	ctx := DecryptionContext{
		RequestID: requestID,
		BatchID:   batchID,
		StateHash: stateHash,
	}

	ev := l.nextEvent(EventDecryptionRequested)
	ev.Actor = caller.String()
	ev.BatchID = batchID
	ev.RequestID = fmt.Sprintf("%x", requestID)

	err := l.commit([]storage.KeyValue{
		{Key: contextKey(requestID), Value: encodeContext(ctx)},
		{Key: stampKey(prefixDecryptStamp, caller), Value: encodeU64(uint64(nowUnix))},
	}, ev)
	if err != nil {
		return err
	}

	l.contexts[requestID] = ctx
	l.decryptStamp[caller] = nowUnix

	return nil
}

// CompleteDecryption runs the callback validation sequence against the latest
// committed state and, on success, marks the context processed (a terminal,
// once-only transition) and emits the completion event carrying the decoded
// totals. The validation order is fixed: replay check, state-hash
// recomputation against current batch state, proof verification, cleartext
// decoding. Any failure leaves the context untouched. Callbacks are
// deliberately not gated on the pause switch.
func (l *Ledger) CompleteDecryption(
	requestID [32]byte,
	recompute func(batch *Batch) ([32]byte, error),
	verifyProof func() bool,
	decode func() (totalSalary, totalInvested uint32, err error),
) (uint32, uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, ok := l.contexts[requestID]
	if !ok {
		return 0, 0, ErrUnknownRequest
	}

	if ctx.Processed {
		return 0, 0, ErrReplayAttempt
	}

	batch, ok := l.batches[ctx.BatchID]
	if !ok {
		return 0, 0, ErrStateMismatch
	}

	currentHash, err := recompute(batch)
	if err != nil {
		return 0, 0, fmt.Errorf("recompute aggregate:\n%w", err)
	}

	if currentHash != ctx.StateHash {
		return 0, 0, ErrStateMismatch
	}

	if !verifyProof() {
		return 0, 0, ErrInvalidProof
	}

	totalSalary, totalInvested, err := decode()
	if err != nil {
		return 0, 0, fmt.Errorf("decode cleartexts:\n%w", err)
	}

	processed := ctx
	processed.Processed = true

	ev := l.nextEvent(EventDecryptionCompleted)
	ev.BatchID = ctx.BatchID
	ev.RequestID = fmt.Sprintf("%x", requestID)
	ev.TotalSalary = totalSalary
	ev.TotalInvested = totalInvested

	err = l.commit([]storage.KeyValue{
		{Key: contextKey(requestID), Value: encodeContext(processed)},
	}, ev)
	if err != nil {
		return 0, 0, err
	}

	l.contexts[requestID] = processed

	return totalSalary, totalInvested, nil
}

// --- reads ---

// Owner returns the current owner address.
func (l *Ledger) Owner() Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.owner
}

// IsProvider reports whether addr holds the provider role. The owner is
// implicitly trusted by write paths but is not reported as a provider here.
func (l *Ledger) IsProvider(addr Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.providers[addr]
}

// Providers returns the provider set, sorted by address.
func (l *Ledger) Providers() []Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	addrs := make([]Address, 0, len(l.providers))
	for addr := range l.providers {
		addrs = append(addrs, addr)
	}

	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})

	return addrs
}

// Paused reports whether the circuit breaker is engaged.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.paused
}

// CooldownSeconds returns the shared cooldown duration.
func (l *Ledger) CooldownSeconds() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cooldown
}

// HeadBatch returns the current batch id, or 0 before the first openBatch.
func (l *Ledger) HeadBatch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.head
}

// BatchSnapshot returns a deep copy of the batch with the given id.
func (l *Ledger) BatchSnapshot(id uint64) (*Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch, ok := l.batches[id]
	if !ok {
		return nil, ErrUnknownBatch
	}

	return batch.clone(), nil
}

// Context returns the decryption context for requestID, if recorded.
func (l *Ledger) Context(requestID [32]byte) (DecryptionContext, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, ok := l.contexts[requestID]

	return ctx, ok
}

// Events returns all events with sequence >= since, in order.
func (l *Ledger) Events(since uint64) ([]Event, error) {
	var events []Event

	err := l.db.IteratePrefix(prefixEvent, func(key, value []byte) error {
		seq := decodeU64(key[len(prefixEvent):])
		if seq < since {
			return nil
		}

		ev, err := decodeEvent(value)
		if err != nil {
			return err
		}

		events = append(events, ev)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// --- internals ---

// trusted reports whether addr may act as a data provider. The owner is
// always implicitly trusted.
func (l *Ledger) trusted(addr Address) bool {
	return l.providers[addr] || addr == l.owner
}

// cooldownElapsed reports whether the cooldown window after last has passed.
func (l *Ledger) cooldownElapsed(last, nowUnix int64) bool {
	return nowUnix >= last+int64(l.cooldown)
}

// nextEvent builds the next event shell. Callers fill kind-specific fields;
// commit persists it together with the operation's writes.
func (l *Ledger) nextEvent(kind string) Event {
	return Event{
		Seq:  l.eventSeq,
		Kind: kind,
		Unix: l.now().Unix(),
	}
}

// commit atomically persists the operation's writes plus its event, then
// advances the event sequence. Must be called with the lock held.
func (l *Ledger) commit(pairs []storage.KeyValue, ev Event) error {
	pairs = append(pairs,
		storage.KeyValue{Key: eventKey(ev.Seq), Value: encodeEvent(ev)},
		storage.KeyValue{Key: keyEventSeq, Value: encodeU64(ev.Seq + 1)},
	)

	if err := l.db.Apply(pairs); err != nil {
		return fmt.Errorf("commit %s:\n%w", ev.Kind, err)
	}

	l.eventSeq = ev.Seq + 1

	logger.Debug("event", "kind", ev.Kind, "seq", ev.Seq)

	return nil
}
