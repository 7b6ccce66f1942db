package lnbits

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Payment mirrors a single entry of the LNbits payments API. Amounts are in
// millisatoshi; positive amounts are incoming, negative outgoing. The Paid
// flag on entries returned by the bulk list endpoint is advisory only — the
// per-hash endpoint is the authority on settlement.
type Payment struct {
	CheckingID  string    `json:"checking_id"`
	PaymentHash string    `json:"payment_hash"`
	Amount      int64     `json:"amount"`
	Fee         int64     `json:"fee"`
	Memo        string    `json:"memo"`
	Paid        bool      `json:"paid"`
	Pending     bool      `json:"pending"`
	Time        TimeField `json:"time"`
	CreatedAt   TimeField `json:"created_at"`
	PaidAt      TimeField `json:"paid_at"`
	Date        TimeField `json:"date"`
}

// Hash returns the identifier used to track the payment across scans. LNbits
// deployments differ in which field they populate, so the payment hash is
// preferred with the checking id as fallback.
func (p *Payment) Hash() string {
	if h := strings.TrimSpace(p.PaymentHash); h != "" {
		return h
	}
	return strings.TrimSpace(p.CheckingID)
}

// Incoming reports whether the payment credits the wallet.
func (p *Payment) Incoming() bool { return p.Amount > 0 }

// AmountSats converts the millisatoshi amount to whole sats, rounding toward
// zero.
func (p *Payment) AmountSats() int64 {
	amt := p.Amount
	if amt < 0 {
		amt = -amt
	}
	return amt / 1000
}

// Timestamp resolves the payment time by trying the known source fields in a
// fixed preference order. The order is a deliberate interop accommodation for
// the funding sources LNbits proxies and must stay as-is: time, created_at,
// paid_at, date. ok is false when no field yields a parseable instant.
func (p *Payment) Timestamp() (ts time.Time, ok bool) {
	for _, field := range []TimeField{p.Time, p.CreatedAt, p.PaidAt, p.Date} {
		if field == "" {
			continue
		}
		if ts, ok = ParseTimestamp(string(field)); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

// TimeField preserves a timestamp exactly as the ledger sent it, whether the
// JSON value was a formatted string or a bare epoch number. Interpretation is
// deferred to ParseTimestamp.
type TimeField string

// UnmarshalJSON accepts strings, numbers, and null.
func (t *TimeField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, (*string)(t))
	}
	*t = TimeField(data)
	return nil
}

// Wallet is the identity and balance record returned by the wallet endpoint.
type Wallet struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

// BalanceSats converts the millisatoshi balance to whole sats.
func (w *Wallet) BalanceSats() int64 { return w.Balance / 1000 }
