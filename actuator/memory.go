package actuator

import "sync"

// MemoryPin is an in-memory Pin for tests and dry runs. It records every
// level transition and can be primed to fail.
type MemoryPin struct {
	mu      sync.Mutex
	level   bool
	history []bool
	closed  bool

	// SetErr, when non-nil, is returned by the next call to Set.
	SetErr error
}

// Set implements Pin.
func (p *MemoryPin) Set(active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SetErr != nil {
		err := p.SetErr
		p.SetErr = nil
		return err
	}
	p.level = active
	p.history = append(p.history, active)
	return nil
}

// Close implements Pin.
func (p *MemoryPin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = false
	p.closed = true
	return nil
}

// Active reports the current output level.
func (p *MemoryPin) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// History returns the recorded level transitions in order.
func (p *MemoryPin) History() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(p.history))
	copy(out, p.history)
	return out
}
