// Package inference isolates the ASR model behind an actor.
//
// An [Actor] owns one [asr.Model] and serves a message protocol: callers send
// [Request] values (load, generate, reset) and read a stream of [Message]
// values back. All actor state lives in a single goroutine; model work runs
// on helper goroutines that report back to it, so neither loading nor
// generation ever blocks the caller.
//
// At most one generation is in flight. A generate request that arrives while
// one is running is dropped, not queued: every request re-transcribes the
// whole rolling window, so the next one supersedes it anyway.
//
// [Client] wraps an Actor for long-lived use. It creates the actor lazily and
// replaces it when a reset goes unanswered.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

// Sentinel errors for the failure kinds surfaced by this package.
var (
	// ErrActorUnavailable means a request could not be delivered to the actor.
	ErrActorUnavailable = errors.New("inference: actor unavailable")

	// ErrModelLoad means the model failed to load or warm up.
	ErrModelLoad = errors.New("inference: model load failed")

	// ErrGeneration means a transcription failed.
	ErrGeneration = errors.New("inference: generation failed")
)

const (
	loadingMessage   = "Loading model..."
	warmupMessage    = "Compiling and warming up model..."
	notLoadedMessage = "model not loaded"
)

// Err converts an error message into an error wrapping [ErrModelLoad] or
// [ErrGeneration]. It returns nil for other statuses.
func (m Message) Err() error {
	if m.Status != StatusError {
		return nil
	}
	if m.Op == RequestLoad {
		return fmt.Errorf("%w: %s", ErrModelLoad, m.Error)
	}
	return fmt.Errorf("%w: %s", ErrGeneration, m.Error)
}

type modelState int

const (
	stateUnloaded modelState = iota
	stateLoading
	stateReady
)

// Option is a functional option for configuring an Actor.
type Option func(*Actor)

// WithMaxTokens bounds tokens per generation. Defaults to asr.DefaultMaxTokens.
func WithMaxTokens(n int) Option {
	return func(a *Actor) { a.maxTokens = n }
}

// WithWarmup toggles the warm-up transcription that follows a load.
// Enabled by default.
func WithWarmup(enabled bool) Option {
	return func(a *Actor) { a.warmup = enabled }
}

// WithOutboxSize sets the buffer of the Messages channel. Defaults to 256.
func WithOutboxSize(n int) Option {
	return func(a *Actor) {
		if n >= 0 {
			a.outboxSize = n
		}
	}
}

// WithClock overrides time.Now for throughput measurement.
func WithClock(now func() time.Time) Option {
	return func(a *Actor) { a.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Actor) { a.log = l }
}

// internalEvent carries a message from a helper goroutine to the loop.
type internalEvent struct {
	epoch uint64
	op    RequestType
	msg   Message
}

// Actor serialises access to one ASR model.
type Actor struct {
	model      asr.Model
	maxTokens  int
	warmup     bool
	outboxSize int
	now        func() time.Time
	log        *slog.Logger

	reqs     chan Request
	internal chan internalEvent
	out      chan Message

	// sem guards the model so that a generation abandoned by reset cannot
	// overlap the next one.
	sem chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewActor starts an actor goroutine for model. The model is not loaded until
// a load request arrives. Call Close to stop the actor.
func NewActor(model asr.Model, opts ...Option) *Actor {
	a := &Actor{
		model:      model,
		maxTokens:  asr.DefaultMaxTokens,
		warmup:     true,
		outboxSize: 256,
		now:        time.Now,
		log:        slog.Default(),
		reqs:       make(chan Request),
		internal:   make(chan internalEvent),
		sem:        make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.out = make(chan Message, a.outboxSize)
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.wg.Add(1)
	go a.loop()
	return a
}

// Send delivers req to the actor. It blocks until the loop accepts the
// request, ctx ends, or the actor closes; the latter two return an error
// wrapping [ErrActorUnavailable].
func (a *Actor) Send(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	select {
	case <-a.done:
		return fmt.Errorf("%w: closed", ErrActorUnavailable)
	default:
	}
	select {
	case a.reqs <- req:
		return nil
	case <-a.done:
		return fmt.Errorf("%w: closed", ErrActorUnavailable)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrActorUnavailable, ctx.Err())
	}
}

// Messages returns the outbound message stream. It is closed by Close.
func (a *Actor) Messages() <-chan Message { return a.out }

// Dropped returns the number of generate requests ignored because another
// generation was in flight.
func (a *Actor) Dropped() uint64 { return a.dropped.Load() }

// Close stops the actor and cancels any running load or generation. It does
// not close the model. Calling Close more than once is safe.
func (a *Actor) Close() error {
	a.once.Do(func() {
		a.cancel()
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

// loop is the only goroutine that reads or writes actor state.
func (a *Actor) loop() {
	defer a.wg.Done()
	defer close(a.out)

	var (
		state      = stateUnloaded
		generating bool
		epoch      uint64
		cancelGen  context.CancelFunc = func() {}
	)
	defer func() { cancelGen() }()

	for {
		select {
		case <-a.done:
			return

		case req := <-a.reqs:
			switch req.Type {
			case RequestLoad:
				switch state {
				case stateLoading:
					a.log.Debug("inference: load already in progress")
				case stateReady:
					a.emit(Message{Status: StatusReady})
				default:
					state = stateLoading
					a.emit(Message{Status: StatusLoading, Data: loadingMessage})
					go a.runLoad()
				}

			case RequestGenerate:
				if generating {
					a.dropped.Add(1)
					a.log.Debug("inference: generation in flight, dropping request")
					continue
				}
				a.emit(Message{Status: StatusStart})
				if state != stateReady {
					a.emit(Message{Status: StatusError, Op: RequestGenerate, Error: notLoadedMessage})
					continue
				}
				generating = true
				var gctx context.Context
				gctx, cancelGen = context.WithCancel(a.ctx)
				go a.runGenerate(gctx, epoch, *req.Data)

			case RequestReset:
				epoch++
				cancelGen()
				cancelGen = func() {}
				generating = false
			}

		case ev := <-a.internal:
			switch ev.op {
			case RequestLoad:
				switch ev.msg.Status {
				case StatusReady:
					state = stateReady
				case StatusError:
					state = stateUnloaded
				}
				a.emit(ev.msg)

			case RequestGenerate:
				if ev.epoch != epoch {
					continue
				}
				if ev.msg.Terminal() {
					generating = false
					cancelGen()
					cancelGen = func() {}
				}
				a.emit(ev.msg)
			}
		}
	}
}

func (a *Actor) emit(m Message) {
	select {
	case a.out <- m:
	case <-a.done:
	}
}

func (a *Actor) post(ev internalEvent) {
	select {
	case a.internal <- ev:
	case <-a.done:
	}
}

func (a *Actor) runLoad() {
	post := func(m Message) { a.post(internalEvent{op: RequestLoad, msg: m}) }
	fail := func(err error) {
		post(Message{Status: StatusError, Op: RequestLoad, Error: err.Error()})
	}

	err := a.model.Load(a.ctx, func(p asr.Progress) { post(progressMessage(p)) })
	if err != nil {
		fail(err)
		return
	}

	if a.warmup {
		post(Message{Status: StatusLoading, Data: warmupMessage})
		select {
		case a.sem <- struct{}{}:
		case <-a.done:
			return
		}
		_, err := a.model.Transcribe(a.ctx, asr.Request{
			Samples:   make([]float32, asr.SampleRate),
			MaxTokens: 1,
		}, asr.Streamer{})
		<-a.sem
		if err != nil {
			fail(fmt.Errorf("warm up: %w", err))
			return
		}
	}
	post(Message{Status: StatusReady})
}

func (a *Actor) runGenerate(ctx context.Context, epoch uint64, data GenerateData) {
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-a.sem }()

	post := func(m Message) { a.post(internalEvent{epoch: epoch, op: RequestGenerate, msg: m}) }
	tp := newThroughput(a.now)
	streamer := asr.Streamer{
		OnToken: func() {
			tps, ok := tp.token()
			if !ok {
				return
			}
			post(Message{Status: StatusTokens, TPS: tps, HasTPS: true, NumTokens: tp.count()})
		},
		OnText: func(text string) {
			tps, ok := tp.current()
			post(Message{Status: StatusUpdate, Output: text, TPS: tps, HasTPS: ok, NumTokens: tp.count()})
		},
	}

	res, err := a.model.Transcribe(ctx, asr.Request{
		Samples:   data.Audio,
		Language:  data.Language,
		MaxTokens: a.maxTokens,
	}, streamer)
	if err != nil {
		post(Message{Status: StatusError, Op: RequestGenerate, Error: err.Error()})
		return
	}

	tps, ok := tp.current()
	if !ok {
		if rt := res.TokensPerSecond(); rt > 0 {
			tps, ok = rt, true
		}
	}
	post(Message{
		Status:    StatusComplete,
		Output:    strings.TrimSpace(res.Text),
		TPS:       tps,
		HasTPS:    ok,
		NumTokens: max(tp.count(), res.Tokens),
	})
}

func progressMessage(p asr.Progress) Message {
	status := StatusProgress
	switch p.Status {
	case asr.StatusInitiate:
		status = StatusInitiate
	case asr.StatusDone:
		status = StatusDone
	}
	return Message{Status: status, File: p.File, Progress: p.Loaded, Total: max(p.Total, p.Loaded)}
}
