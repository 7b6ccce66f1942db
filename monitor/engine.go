// Package monitor implements the payment detection and reconciliation engine
// and the orchestrator that runs one engine per configured channel.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lntap/lnbits"
	"lntap/pour"
)

// LedgerClient is the subset of the LNbits API the engine requires.
type LedgerClient interface {
	WalletInfo(ctx context.Context) (*lnbits.Wallet, error)
	ListPayments(ctx context.Context) ([]lnbits.Payment, error)
	GetPayment(ctx context.Context, hash string) (*lnbits.Payment, error)
}

// Actuator drives the channel's physical output.
type Actuator interface {
	Activate(ctx context.Context, seconds float64) error
	ForceOff() error
}

const (
	// pendingMaxAge is how long an unpaid invoice is watched before it is
	// presumed abandoned and discarded without actuation.
	pendingMaxAge = 24 * time.Hour
	// processedLimit / processedRetained bound the processed set: once it
	// grows past the limit it is truncated to the most recently added
	// entries.
	processedLimit    = 1000
	processedRetained = 500
)

// PendingInvoice is an incoming payment observed unpaid and now watched via
// the authoritative per-hash endpoint.
type PendingInvoice struct {
	AmountSats int64
	Memo       string
	SeenAt     time.Time
}

// Status is a point-in-time snapshot of a channel's reconciliation state.
type Status struct {
	Channel   string    `json:"channel"`
	Pending   int       `json:"pending"`
	Processed int       `json:"processed"`
	LastScan  time.Time `json:"lastScan"`
}

// Config carries the per-channel reconciliation parameters.
type Config struct {
	// MinPaymentSats below which incoming payments are ignored. Zero
	// triggers on any amount.
	MinPaymentSats int64
	// Rate maps confirmed amounts to pour durations.
	Rate pour.Rate
	// Lookback positions the initial scan watermark before boot so that
	// payments settling around startup are not missed, while everything
	// older is treated as already seen.
	Lookback time.Duration
}

// Engine reconciles one wallet's payment history against the authoritative
// status endpoint and fires the actuator once per confirmed payment hash.
//
// The bulk list endpoint's paid flag is trusted only to shortcut an immediate
// confirmation at discovery time; it is never trusted to suppress a later
// confirmation. Every hash reaches a terminal state exactly once: confirmed
// (actuated), ignored (below minimum), or expired — all folded into the
// processed set, after which the hash is never re-evaluated.
type Engine struct {
	name    string
	client  LedgerClient
	act     Actuator
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu             sync.Mutex
	pending        map[string]PendingInvoice
	processed      map[string]struct{}
	processedOrder []string
	lastScan       time.Time
}

// EngineOption customises an engine.
type EngineOption func(*Engine)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.now = clock }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithMetrics overrides the shared metrics registry. Tests pass nil to
// disable collection.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs the reconciliation engine for one channel.
func NewEngine(name string, client LedgerClient, act Actuator, cfg Config, opts ...EngineOption) *Engine {
	e := &Engine{
		name:      name,
		client:    client,
		act:       act,
		cfg:       cfg,
		log:       slog.Default(),
		metrics:   Collectors(),
		now:       time.Now,
		pending:   make(map[string]PendingInvoice),
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.lastScan = e.now().Add(-cfg.Lookback)
	e.log = e.log.With("channel", name)
	return e
}

// Name returns the channel name.
func (e *Engine) Name() string { return e.name }

// VerifyConnection probes the wallet endpoint. Called once at startup;
// failure aborts the whole daemon.
func (e *Engine) VerifyConnection(ctx context.Context) error {
	wallet, err := e.client.WalletInfo(ctx)
	if err != nil {
		return fmt.Errorf("wallet info: %w", err)
	}
	e.log.Info("wallet connected", "wallet", wallet.Name, "balance_sats", wallet.BalanceSats())
	return nil
}

// ScanForNewPayments fetches the full payment list and classifies every
// record. A transport failure aborts the scan with no state mutated; the next
// tick retries. On success the watermark advances to the fetch time.
//
// Records whose advisory paid flag is already true are confirmed immediately.
// This fast path catches payments that settle within a single poll interval;
// waiting for the status endpoint would fold them into the processed set
// without ever actuating.
func (e *Engine) ScanForNewPayments(ctx context.Context) error {
	payments, err := e.client.ListPayments(ctx)
	if err != nil {
		e.metrics.RecordPollError(e.name, "list")
		return fmt.Errorf("list payments: %w", err)
	}

	// The watermark must mark the boundary of history covered by THIS fetch.
	// It is captured before the record loop: actuations below block for whole
	// pour durations, and a payment arriving meanwhile must still be ahead of
	// the watermark on the next scan.
	scanStart := e.now()

	for i := range payments {
		p := &payments[i]
		if !p.Incoming() {
			continue
		}
		hash := p.Hash()
		if hash == "" {
			continue
		}
		if e.known(hash) {
			continue
		}

		amountSats := p.AmountSats()
		if e.cfg.MinPaymentSats > 0 && amountSats < e.cfg.MinPaymentSats {
			e.log.Debug("ignoring payment below minimum", "amount_sats", amountSats, "hash", shortHash(hash))
			e.markProcessed(hash)
			e.metrics.RecordDetected(e.name, "below_minimum")
			continue
		}

		ts, ok := p.Timestamp()
		if !ok {
			// Missing data, not a decision: the record stays eligible and
			// may parse on a later scan.
			e.log.Debug("payment has no usable timestamp", "hash", shortHash(hash))
			continue
		}
		if ts.Before(e.watermark()) {
			continue
		}

		if p.Paid {
			e.metrics.RecordDetected(e.name, "confirmed_fast")
			e.confirm(ctx, hash, amountSats, p.Memo)
			continue
		}

		e.addPending(hash, PendingInvoice{AmountSats: amountSats, Memo: p.Memo, SeenAt: ts})
		e.metrics.RecordDetected(e.name, "pending")
		e.log.Info("new invoice detected", "amount_sats", amountSats, "hash", shortHash(hash))
	}

	e.setWatermark(scanStart)
	return nil
}

// CheckPendingPayments resolves every watched invoice against the
// authoritative status endpoint, then evicts entries past the 24h age limit.
// A failed status call leaves the entry pending for the next tick.
func (e *Engine) CheckPendingPayments(ctx context.Context) error {
	var firstErr error
	for hash, invoice := range e.pendingSnapshot() {
		p, err := e.client.GetPayment(ctx, hash)
		if err != nil {
			e.metrics.RecordPollError(e.name, "get")
			if firstErr == nil {
				firstErr = fmt.Errorf("check payment %s: %w", shortHash(hash), err)
			}
			continue
		}
		if !p.Paid {
			continue
		}
		e.removePending(hash)
		e.log.Info("pending payment completed", "amount_sats", invoice.AmountSats, "memo", invoice.Memo, "hash", shortHash(hash))
		e.confirm(ctx, hash, invoice.AmountSats, invoice.Memo)
	}

	cutoff := e.now().Add(-pendingMaxAge)
	for hash, invoice := range e.pendingSnapshot() {
		if invoice.SeenAt.Before(cutoff) {
			e.removePending(hash)
			e.markProcessed(hash)
			e.metrics.RecordExpired(e.name)
			e.log.Info("removing expired invoice", "hash", shortHash(hash))
		}
	}
	return firstErr
}

// confirm fires the actuator for the given amount and retires the hash. The
// hash is marked processed even when the actuator reports an error: the relay
// was commanded, and re-firing on flaky hardware is worse than a lost pour.
func (e *Engine) confirm(ctx context.Context, hash string, amountSats int64, memo string) {
	seconds := e.cfg.Rate.Duration(amountSats)
	e.log.Info("payment confirmed, activating",
		"amount_sats", amountSats,
		"duration_s", seconds,
		"memo", memo,
		"hash", shortHash(hash))
	e.metrics.RecordActuation(e.name, seconds)
	if err := e.act.Activate(ctx, seconds); err != nil {
		e.log.Error("actuator error", "error", err, "hash", shortHash(hash))
	}
	e.markProcessed(hash)
}

// TruncateProcessed bounds the processed set, keeping the most recently added
// entries. Invoked by the orchestrator's housekeeping pass.
func (e *Engine) TruncateProcessed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.processedOrder) <= processedLimit {
		return
	}
	keep := e.processedOrder[len(e.processedOrder)-processedRetained:]
	e.processedOrder = append(make([]string, 0, processedRetained), keep...)
	e.processed = make(map[string]struct{}, processedRetained)
	for _, hash := range e.processedOrder {
		e.processed[hash] = struct{}{}
	}
	e.log.Info("truncated processed set", "retained", len(e.processedOrder))
}

// ForceOff drives the channel's actuator to the inactive level.
func (e *Engine) ForceOff() error { return e.act.ForceOff() }

// Status reports the channel's current reconciliation state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Channel:   e.name,
		Pending:   len(e.pending),
		Processed: len(e.processed),
		LastScan:  e.lastScan,
	}
}

func (e *Engine) known(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[hash]; ok {
		return true
	}
	_, ok := e.processed[hash]
	return ok
}

func (e *Engine) markProcessed(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.processed[hash]; ok {
		return
	}
	e.processed[hash] = struct{}{}
	e.processedOrder = append(e.processedOrder, hash)
}

func (e *Engine) addPending(hash string, invoice PendingInvoice) {
	e.mu.Lock()
	e.pending[hash] = invoice
	n := len(e.pending)
	e.mu.Unlock()
	e.metrics.SetPending(e.name, n)
}

func (e *Engine) removePending(hash string) {
	e.mu.Lock()
	delete(e.pending, hash)
	n := len(e.pending)
	e.mu.Unlock()
	e.metrics.SetPending(e.name, n)
}

func (e *Engine) pendingSnapshot() map[string]PendingInvoice {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make(map[string]PendingInvoice, len(e.pending))
	for hash, invoice := range e.pending {
		snapshot[hash] = invoice
	}
	return snapshot
}

func (e *Engine) watermark() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastScan
}

func (e *Engine) setWatermark(ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastScan = ts
}

func shortHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16]
}
