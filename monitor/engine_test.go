package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"lntap/lnbits"
	"lntap/pour"
)

type stubLedger struct {
	wallet    *lnbits.Wallet
	walletErr error
	payments  []lnbits.Payment
	listErr   error
	paid      map[string]bool
	getErr    error
	getCalls  int
}

func (s *stubLedger) WalletInfo(context.Context) (*lnbits.Wallet, error) {
	if s.walletErr != nil {
		return nil, s.walletErr
	}
	if s.wallet == nil {
		return &lnbits.Wallet{Name: "test wallet", Balance: 100_000}, nil
	}
	return s.wallet, nil
}

func (s *stubLedger) ListPayments(context.Context) ([]lnbits.Payment, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]lnbits.Payment, len(s.payments))
	copy(out, s.payments)
	return out, nil
}

func (s *stubLedger) GetPayment(_ context.Context, hash string) (*lnbits.Payment, error) {
	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &lnbits.Payment{PaymentHash: hash, Paid: s.paid[hash]}, nil
}

type stubActuator struct {
	activations []float64
	activateErr error
	forcedOff   bool
}

func (s *stubActuator) Activate(_ context.Context, seconds float64) error {
	s.activations = append(s.activations, seconds)
	return s.activateErr
}

func (s *stubActuator) ForceOff() error {
	s.forcedOff = true
	return nil
}

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, ledger *stubLedger, act *stubActuator, clock *testClock) *Engine {
	t.Helper()
	return NewEngine("tap-1", ledger, act, Config{
		MinPaymentSats: 1,
		Rate:           pour.Rate{SatsPerSecond: 1, MaxSeconds: 10, DefaultSeconds: 5},
		Lookback:       2 * time.Minute,
	}, WithClock(clock.now), WithLogger(quietLogger()), WithMetrics(nil))
}

func record(hash string, msat int64, paid bool, ts time.Time) lnbits.Payment {
	return lnbits.Payment{
		PaymentHash: hash,
		Amount:      msat,
		Memo:        "one pour",
		Paid:        paid,
		Time:        lnbits.TimeField(ts.Format("2006-01-02T15:04:05Z")),
	}
}

func TestScanFastConfirmation(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{payments: []lnbits.Payment{record("hash-fast", 5000, true, clock.t)}}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)

	if err := e.ScanForNewPayments(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(act.activations) != 1 || act.activations[0] != 5 {
		t.Fatalf("expected one 5s activation, got %v", act.activations)
	}
	status := e.Status()
	if status.Pending != 0 {
		t.Fatalf("fast-path payment must never become pending, got %d", status.Pending)
	}
	if status.Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", status.Processed)
	}
}

func TestScanSlowConfirmation(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{
		payments: []lnbits.Payment{record("hash-slow", 5000, false, clock.t)},
		paid:     map[string]bool{},
	}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)
	ctx := context.Background()

	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(act.activations) != 0 {
		t.Fatalf("unpaid invoice must not actuate, got %v", act.activations)
	}
	if e.Status().Pending != 1 {
		t.Fatalf("expected 1 pending, got %d", e.Status().Pending)
	}

	// Settles externally; the authoritative endpoint reports paid.
	ledger.paid["hash-slow"] = true
	if err := e.CheckPendingPayments(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(act.activations) != 1 || act.activations[0] != 5 {
		t.Fatalf("expected one 5s activation, got %v", act.activations)
	}
	status := e.Status()
	if status.Pending != 0 || status.Processed != 1 {
		t.Fatalf("expected pending=0 processed=1, got %+v", status)
	}

	// Subsequent sweeps must not re-query or re-fire.
	before := ledger.getCalls
	if err := e.CheckPendingPayments(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if ledger.getCalls != before {
		t.Fatalf("processed payment was re-queried")
	}
	if len(act.activations) != 1 {
		t.Fatalf("double actuation: %v", act.activations)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{payments: []lnbits.Payment{record("hash-idem", 3000, false, clock.t)}}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := e.ScanForNewPayments(ctx); err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
	}
	if got := e.Status().Pending; got != 1 {
		t.Fatalf("expected 1 pending after repeated scans, got %d", got)
	}
	if len(act.activations) != 0 {
		t.Fatalf("unexpected activations: %v", act.activations)
	}
}

func TestNoDoubleActuationWhenAdvisoryFlagFlips(t *testing.T) {
	// Unpaid on the first scan, then the list endpoint starts reporting
	// paid=true while the hash is already pending. The pending dedup must
	// keep the fast path out and confirmation must come exactly once from
	// the authoritative endpoint.
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{
		payments: []lnbits.Payment{record("hash-flip", 5000, false, clock.t)},
		paid:     map[string]bool{"hash-flip": false},
	}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)
	ctx := context.Background()

	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	ledger.payments[0].Paid = true
	ledger.paid["hash-flip"] = true
	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if err := e.CheckPendingPayments(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(act.activations) != 1 {
		t.Fatalf("expected exactly one activation, got %v", act.activations)
	}
}

// pouringActuator advances the injected clock while activating, simulating
// the blocking hold of a real pour.
type pouringActuator struct {
	clock       *testClock
	activations []float64
}

func (p *pouringActuator) Activate(_ context.Context, seconds float64) error {
	p.activations = append(p.activations, seconds)
	p.clock.advance(time.Duration(seconds * float64(time.Second)))
	return nil
}

func (p *pouringActuator) ForceOff() error { return nil }

func TestPaymentArrivingDuringPourIsConfirmed(t *testing.T) {
	// The first pour blocks the scan for 8s. A payment timestamped 3s into
	// that pour shows up on the next fetch; the watermark must not have
	// advanced past it.
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	start := clock.t
	ledger := &stubLedger{payments: []lnbits.Payment{record("hash-first", 8000, true, start)}}
	act := &pouringActuator{clock: clock}
	e := NewEngine("tap-1", ledger, act, Config{
		MinPaymentSats: 1,
		Rate:           pour.Rate{SatsPerSecond: 1, MaxSeconds: 10, DefaultSeconds: 5},
		Lookback:       2 * time.Minute,
	}, WithClock(clock.now), WithLogger(quietLogger()), WithMetrics(nil))
	ctx := context.Background()

	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(act.activations) != 1 {
		t.Fatalf("expected first pour, got %v", act.activations)
	}

	ledger.payments = append(ledger.payments, record("hash-during", 4000, true, start.Add(3*time.Second)))
	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if err := e.CheckPendingPayments(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}

	if len(act.activations) != 2 || act.activations[1] != 4 {
		t.Fatalf("payment arriving during the pour was never confirmed: %v", act.activations)
	}
	status := e.Status()
	if status.Processed != 2 {
		t.Fatalf("expected both payments processed, got %+v", status)
	}
}

func TestScanBelowMinimum(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{payments: []lnbits.Payment{record("hash-small", 2000, false, clock.t)}}
	act := &stubActuator{}
	e := NewEngine("tap-1", ledger, act, Config{
		MinPaymentSats: 10,
		Rate:           pour.Rate{SatsPerSecond: 1, MaxSeconds: 10, DefaultSeconds: 5},
		Lookback:       2 * time.Minute,
	}, WithClock(clock.now), WithLogger(quietLogger()), WithMetrics(nil))
	ctx := context.Background()

	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	status := e.Status()
	if status.Pending != 0 || status.Processed != 1 {
		t.Fatalf("below-minimum payment must go straight to processed, got %+v", status)
	}

	// Even a later paid flag must not resurrect it.
	ledger.payments[0].Paid = true
	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(act.activations) != 0 {
		t.Fatalf("below-minimum payment actuated: %v", act.activations)
	}
}

func TestScanSkipsOutgoingAndOld(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	old := clock.t.Add(-time.Hour)
	ledger := &stubLedger{payments: []lnbits.Payment{
		record("hash-out", -7000, true, clock.t),
		record("hash-old", 7000, true, old),
	}}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)

	if err := e.ScanForNewPayments(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	status := e.Status()
	if status.Pending != 0 || status.Processed != 0 {
		t.Fatalf("expected nothing tracked, got %+v", status)
	}
	if len(act.activations) != 0 {
		t.Fatalf("unexpected activations: %v", act.activations)
	}
}

func TestScanRetriesRecordWithoutTimestamp(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	broken := lnbits.Payment{PaymentHash: "hash-nots", Amount: 5000, Paid: true, Time: "not a time"}
	ledger := &stubLedger{payments: []lnbits.Payment{broken}}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)
	ctx := context.Background()

	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	status := e.Status()
	if status.Pending != 0 || status.Processed != 0 {
		t.Fatalf("missing timestamp is not a decision, got %+v", status)
	}

	// The next fetch carries a usable timestamp; the record is picked up.
	ledger.payments[0].Time = lnbits.TimeField(clock.t.Format("2006-01-02T15:04:05Z"))
	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(act.activations) != 1 {
		t.Fatalf("expected one activation after timestamp appeared, got %v", act.activations)
	}
}

func TestCheckPendingExpiry(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{
		payments: []lnbits.Payment{record("hash-stale", 5000, false, clock.t)},
		paid:     map[string]bool{},
	}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)
	ctx := context.Background()

	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	clock.advance(25 * time.Hour)
	if err := e.CheckPendingPayments(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	status := e.Status()
	if status.Pending != 0 {
		t.Fatalf("expired invoice still pending")
	}
	if status.Processed != 1 {
		t.Fatalf("expired invoice must land in processed, got %+v", status)
	}
	if len(act.activations) != 0 {
		t.Fatalf("expired invoice actuated: %v", act.activations)
	}
}

func TestCheckPendingSurvivesEndpointError(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{
		payments: []lnbits.Payment{record("hash-err", 5000, false, clock.t)},
		paid:     map[string]bool{},
	}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)
	ctx := context.Background()

	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	ledger.getErr = fmt.Errorf("gateway timeout")
	if err := e.CheckPendingPayments(ctx); err == nil {
		t.Fatalf("expected error from failing status endpoint")
	}
	if e.Status().Pending != 1 {
		t.Fatalf("entry must stay pending across a failed check")
	}

	ledger.getErr = nil
	ledger.paid["hash-err"] = true
	if err := e.CheckPendingPayments(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(act.activations) != 1 {
		t.Fatalf("expected one activation after recovery, got %v", act.activations)
	}
}

func TestScanTransportErrorLeavesStateUntouched(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{listErr: fmt.Errorf("connection refused")}
	act := &stubActuator{}
	e := newTestEngine(t, ledger, act, clock)

	before := e.Status()
	if err := e.ScanForNewPayments(context.Background()); err == nil {
		t.Fatalf("expected transport error")
	}
	after := e.Status()
	if after != before {
		t.Fatalf("failed scan mutated state: %+v -> %+v", before, after)
	}
}

func TestActuatorErrorStillRetiresHash(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &stubLedger{payments: []lnbits.Payment{record("hash-relay", 5000, true, clock.t)}}
	act := &stubActuator{activateErr: fmt.Errorf("relay stuck")}
	e := newTestEngine(t, ledger, act, clock)
	ctx := context.Background()

	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if e.Status().Processed != 1 {
		t.Fatalf("hash must be retired even when the relay errors")
	}
	if err := e.ScanForNewPayments(ctx); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(act.activations) != 1 {
		t.Fatalf("relay error must not cause a retry pour, got %v", act.activations)
	}
}

func TestTruncateProcessedKeepsNewest(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := newTestEngine(t, &stubLedger{}, &stubActuator{}, clock)

	for i := 0; i <= 1000; i++ {
		e.markProcessed(fmt.Sprintf("hash-%04d", i))
	}
	if got := e.Status().Processed; got != 1001 {
		t.Fatalf("expected 1001 processed, got %d", got)
	}

	e.TruncateProcessed()
	if got := e.Status().Processed; got != 500 {
		t.Fatalf("expected 500 after truncation, got %d", got)
	}
	if e.known("hash-0000") {
		t.Fatalf("oldest entry survived truncation")
	}
	for i := 501; i <= 1000; i++ {
		if !e.known(fmt.Sprintf("hash-%04d", i)) {
			t.Fatalf("recently added hash-%04d evicted", i)
		}
	}

	// Below the limit nothing is touched.
	e.TruncateProcessed()
	if got := e.Status().Processed; got != 500 {
		t.Fatalf("truncation below limit changed the set to %d", got)
	}
}

func TestVerifyConnection(t *testing.T) {
	clock := &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := newTestEngine(t, &stubLedger{walletErr: fmt.Errorf("401")}, &stubActuator{}, clock)
	if err := e.VerifyConnection(context.Background()); err == nil {
		t.Fatalf("expected connectivity failure")
	}

	e = newTestEngine(t, &stubLedger{}, &stubActuator{}, clock)
	if err := e.VerifyConnection(context.Background()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
