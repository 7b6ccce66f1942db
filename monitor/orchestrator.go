package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// truncateEvery / statusEvery are housekeeping cadences in poll ticks.
	truncateEvery = 300
	statusEvery   = 30
)

// Orchestrator runs every channel's reconciliation loop on a shared poll
// cadence. Channels are mutually independent: each runs in its own goroutine
// with its own state and actuator, so one channel's pour never stalls
// another's polling. Within a channel, scan, pending check, and actuation are
// strictly sequential.
type Orchestrator struct {
	engines  []*Engine
	interval time.Duration
	log      *slog.Logger
}

// NewOrchestrator wires the given engines to a shared poll interval.
func NewOrchestrator(engines []*Engine, interval time.Duration, log *slog.Logger) *Orchestrator {
	return &Orchestrator{engines: engines, interval: interval, log: log}
}

// Run verifies connectivity for every channel, then polls until the context
// is cancelled. Any unreachable channel aborts startup. On shutdown every
// actuator is swept to the inactive level before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	for _, e := range o.engines {
		if err := e.VerifyConnection(ctx); err != nil {
			return fmt.Errorf("verify channel %s: %w", e.Name(), err)
		}
	}
	o.log.Info("monitoring for payments",
		"channels", len(o.engines),
		"poll_interval", o.interval.String())

	var wg sync.WaitGroup
	for _, e := range o.engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			o.runChannel(ctx, e)
		}(e)
	}
	wg.Wait()

	o.sweepOff()
	return nil
}

// runChannel is a single channel's poll loop. Errors are logged and isolated:
// a failed tick never stops the loop or touches other channels, the next tick
// is the retry.
func (o *Orchestrator) runChannel(ctx context.Context, e *Engine) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		if err := e.ScanForNewPayments(ctx); err != nil && ctx.Err() == nil {
			o.log.Error("scan failed", "channel", e.Name(), "error", err)
		}
		if err := e.CheckPendingPayments(ctx); err != nil && ctx.Err() == nil {
			o.log.Error("pending check failed", "channel", e.Name(), "error", err)
		}

		if tick%truncateEvery == 0 {
			e.TruncateProcessed()
		}
		if tick%statusEvery == 0 {
			status := e.Status()
			o.log.Info("channel status",
				"channel", status.Channel,
				"pending", status.Pending,
				"processed", status.Processed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Status snapshots every channel, in configuration order.
func (o *Orchestrator) Status() []Status {
	statuses := make([]Status, 0, len(o.engines))
	for _, e := range o.engines {
		statuses = append(statuses, e.Status())
	}
	return statuses
}

func (o *Orchestrator) sweepOff() {
	for _, e := range o.engines {
		if err := e.ForceOff(); err != nil {
			o.log.Error("shutdown actuator sweep failed", "channel", e.Name(), "error", err)
		}
	}
}
