// Package transcript merges the streaming output of the inference actor into
// a single transcript value.
//
// Each generation re-transcribes the whole rolling audio window, so the
// transcript is replaced, never appended. Partial updates are debounced;
// completions are delivered immediately. An empty transcript is the session
// reset signal for downstream consumers.
package transcript

import (
	"sync"
	"time"

	"github.com/MrWong99/quacktosql/internal/inference"
)

// DefaultDebounce is the update coalescing window.
const DefaultDebounce = 100 * time.Millisecond

// State is a snapshot of the coordinator.
type State struct {
	// Text is the last delivered transcript.
	Text string

	// TPS is the latest tokens-per-second estimate, zero when unknown.
	TPS float64

	// NumTokens is the token count of the latest generation.
	NumTokens int
}

// Coordinator consumes actor messages and publishes the debounced
// transcript to a listener. It is safe for concurrent use.
type Coordinator struct {
	deb *Debouncer[string]

	mu       sync.Mutex
	state    State
	listener func(text string)
}

// NewCoordinator returns a Coordinator that calls listener with every
// delivered transcript. The listener runs synchronously and must not call
// back into the Coordinator.
func NewCoordinator(window time.Duration, listener func(text string)) *Coordinator {
	c := &Coordinator{listener: listener}
	c.deb = NewDebouncer(window, c.publish)
	return c
}

// Handle applies one actor message. Messages other than tokens, update and
// complete are ignored.
func (c *Coordinator) Handle(m inference.Message) {
	switch m.Status {
	case inference.StatusTokens:
		c.observe(m)

	case inference.StatusUpdate:
		c.observe(m)
		// Token-only updates carry no text yet.
		if m.Output != "" {
			c.deb.Schedule(m.Output)
		}

	case inference.StatusComplete:
		c.observe(m)
		if m.Output != "" {
			c.deb.Flush(m.Output)
		}
	}
}

// Clear drops any pending update and publishes the empty transcript.
func (c *Coordinator) Clear() {
	c.deb.Flush("")
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close cancels any pending delivery.
func (c *Coordinator) Close() {
	c.deb.Cancel()
}

func (c *Coordinator) observe(m inference.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.HasTPS {
		c.state.TPS = m.TPS
	}
	if m.NumTokens > 0 {
		c.state.NumTokens = m.NumTokens
	}
}

func (c *Coordinator) publish(text string) {
	c.mu.Lock()
	c.state.Text = text
	if text == "" {
		c.state.TPS, c.state.NumTokens = 0, 0
	}
	c.mu.Unlock()
	if c.listener != nil {
		c.listener(text)
	}
}
