package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

// DefaultResetTimeout is how long a reset may take to be accepted before the
// actor is considered unresponsive.
const DefaultResetTimeout = 2 * time.Second

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithResetTimeout sets the reset acceptance deadline.
func WithResetTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.resetTimeout = d
		}
	}
}

// WithActorOptions sets the options every actor is created with.
func WithActorOptions(opts ...Option) ClientOption {
	return func(c *Client) { c.actorOpts = append(c.actorOpts, opts...) }
}

// WithEventBuffer sets the buffer of the Events channel. Defaults to 256.
func WithEventBuffer(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.bufferSize = n
		}
	}
}

// WithClientLogger sets the logger. Defaults to slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// Client owns the actor for one model. It creates the actor on first use,
// merges the messages of successive actors into one stream, and replaces an
// actor that stops accepting requests. Messages from a replaced actor are
// discarded.
//
// All methods are safe for concurrent use.
type Client struct {
	model        asr.Model
	actorOpts    []Option
	resetTimeout time.Duration
	bufferSize   int
	log          *slog.Logger

	events chan Message
	done   chan struct{}
	pumps  sync.WaitGroup

	mu            sync.Mutex
	actor         *Actor
	actorID       uint64
	loadRequested bool
	ready         bool
	recreations   int
	retiredDrops  uint64
	closed        bool
}

// NewClient returns a Client for model. No actor exists until the first
// request.
func NewClient(model asr.Model, opts ...ClientOption) *Client {
	c := &Client{
		model:        model,
		resetTimeout: DefaultResetTimeout,
		bufferSize:   256,
		log:          slog.Default(),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.events = make(chan Message, c.bufferSize)
	return c
}

// Events returns the merged message stream. It is closed by Close.
func (c *Client) Events() <-chan Message { return c.events }

// Load asks the actor to load the model.
func (c *Client) Load(ctx context.Context) error {
	a, err := c.current(true)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.loadRequested = true
	c.mu.Unlock()
	return a.Send(ctx, Load())
}

// Generate asks the actor to transcribe samples. The request is dropped by
// the actor when a generation is already running.
func (c *Client) Generate(ctx context.Context, samples []float32, language string) error {
	a, err := c.current(true)
	if err != nil {
		return err
	}
	return a.Send(ctx, Generate(samples, language))
}

// Reset clears the actor's generation state. When the actor does not accept
// the reset within the reset timeout it is discarded and a fresh one is
// created (and reloaded if a load was requested before). Reset returns an
// error only when the client is closed.
func (c *Client) Reset(ctx context.Context) error {
	a, err := c.current(false)
	if err != nil || a == nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, c.resetTimeout)
	defer cancel()
	if err := a.Send(rctx, Reset()); err != nil {
		c.log.Warn("inference: actor did not accept reset, recreating", "err", err)
		return c.Recreate(ctx)
	}
	return nil
}

// Recreate discards the current actor and starts a new one.
func (c *Client) Recreate(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: client closed", ErrActorUnavailable)
	}
	old := c.actor
	if old != nil {
		c.retiredDrops += old.Dropped()
	}
	c.actor = nil
	c.ready = false
	c.recreations++
	reload := c.loadRequested
	c.mu.Unlock()

	if old != nil {
		go old.Close()
	}
	a, err := c.current(true)
	if err != nil {
		return err
	}
	if reload {
		return a.Send(ctx, Load())
	}
	return nil
}

// Ready reports whether the current actor has announced a loaded model.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Recreations returns how many times the actor was replaced.
func (c *Client) Recreations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recreations
}

// Dropped returns the number of generate requests dropped across all actors.
func (c *Client) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.retiredDrops
	if c.actor != nil {
		n += c.actor.Dropped()
	}
	return n
}

// Close stops the actor and closes the Events channel. The model is left
// open for its owner to close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	a := c.actor
	c.actor = nil
	c.mu.Unlock()

	close(c.done)
	var err error
	if a != nil {
		err = a.Close()
	}
	c.pumps.Wait()
	close(c.events)
	return err
}

// current returns the live actor, creating it when create is set.
func (c *Client) current(create bool) (*Actor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: client closed", ErrActorUnavailable)
	}
	if c.actor == nil && create {
		c.actorID++
		c.actor = NewActor(c.model, c.actorOpts...)
		c.pumps.Add(1)
		go c.pump(c.actorID, c.actor)
	}
	return c.actor, nil
}

// pump forwards messages of actor id until its stream closes.
func (c *Client) pump(id uint64, a *Actor) {
	defer c.pumps.Done()
	for m := range a.Messages() {
		c.mu.Lock()
		live := id == c.actorID && !c.closed
		if live {
			switch {
			case m.Status == StatusReady:
				c.ready = true
			case m.Status == StatusLoading, errors.Is(m.Err(), ErrModelLoad):
				c.ready = false
			}
		}
		c.mu.Unlock()
		if !live {
			continue
		}
		select {
		case c.events <- m:
		case <-c.done:
		}
	}
}
