// Package actuator drives the relay-controlled solenoid for a channel.
package actuator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pin is the digital output behind the relay. Implementations must be safe to
// Set repeatedly to the same level.
type Pin interface {
	// Set drives the output; true is the active (relay on) level.
	Set(active bool) error
	// Close releases the pin, leaving it inactive.
	Close() error
}

// Controller opens the solenoid for a computed duration. The hold is the one
// intentionally blocking step of the whole pipeline: the relay must stay
// engaged for the full pour. Whatever happens during the hold, the output is
// returned to the inactive level before Activate returns.
type Controller struct {
	pin   Pin
	log   *slog.Logger
	after func(time.Duration) <-chan time.Time

	mu sync.Mutex
}

// Option customises a controller.
type Option func(*Controller)

// WithHoldTimer overrides the timer used for the hold. Tests use this to
// complete holds immediately.
func WithHoldTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(c *Controller) { c.after = after }
}

// NewController wraps the given pin.
func NewController(pin Pin, log *slog.Logger, opts ...Option) *Controller {
	c := &Controller{pin: pin, log: log, after: time.After}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate opens the valve for the given number of seconds. Only process
// shutdown interrupts a hold; the context cancellation still forces the
// output off before the error propagates. At most one activation runs at a
// time per controller.
func (c *Controller) Activate(ctx context.Context, seconds float64) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if offErr := c.pin.Set(false); offErr != nil {
			c.log.Error("actuator failed to release", "error", offErr)
			if err == nil {
				err = fmt.Errorf("actuator off: %w", offErr)
			}
		}
	}()

	if err := c.pin.Set(true); err != nil {
		return fmt.Errorf("actuator on: %w", err)
	}

	hold := time.Duration(seconds * float64(time.Second))
	select {
	case <-c.after(hold):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("actuator hold interrupted: %w", ctx.Err())
	}
}

// ForceOff drives the output inactive regardless of controller state. Used by
// the shutdown sweep.
func (c *Controller) ForceOff() error {
	return c.pin.Set(false)
}
