package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/quacktosql/internal/capture"
	"github.com/MrWong99/quacktosql/internal/config"
	"github.com/MrWong99/quacktosql/internal/inference"
	"github.com/MrWong99/quacktosql/internal/observe"
	"github.com/MrWong99/quacktosql/internal/reveal"
	"github.com/MrWong99/quacktosql/internal/transcript"
	"github.com/MrWong99/quacktosql/pkg/audio"
	"github.com/MrWong99/quacktosql/pkg/audio/decode"
	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

// SessionConfig is the snapshot of tunables a session runs with. A config
// reload does not affect sessions that already exist.
type SessionConfig struct {
	Pipeline config.PipelineConfig
	Reveal   reveal.Config
}

// NewSessionConfig builds a SessionConfig from a loaded configuration.
func NewSessionConfig(cfg *config.Config) (SessionConfig, error) {
	ref, err := cfg.Reveal.Reference()
	if err != nil {
		return SessionConfig{}, fmt.Errorf("app: reveal reference: %w", err)
	}
	return SessionConfig{
		Pipeline: cfg.Pipeline,
		Reveal: reveal.Config{
			Reference:    ref,
			Counter:      cfg.Reveal.Counter(),
			DeltaCap:     cfg.Reveal.DeltaCap,
			MaxCount:     cfg.Reveal.MaxCount,
			BaseInterval: cfg.Reveal.BaseInterval,
			IntervalStep: cfg.Reveal.IntervalStep,
			MinInterval:  cfg.Reveal.MinInterval,
		},
	}, nil
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// WithSessionMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithSessionMetrics(m *observe.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithSessionLogger sets the logger. Defaults to slog.Default().
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// WithCaptureOptions appends options for the capture controller, applied
// after the ones derived from the pipeline config.
func WithCaptureOptions(opts ...capture.Option) SessionOption {
	return func(s *Session) { s.captureOpts = append(s.captureOpts, opts...) }
}

// WithInferenceOptions appends options for every inference actor the session
// creates.
func WithInferenceOptions(opts ...inference.Option) SessionOption {
	return func(s *Session) { s.actorOpts = append(s.actorOpts, opts...) }
}

// Session is one client's recording pipeline: capture feeds the decoder,
// decoded audio goes to the inference actor, actor output is merged by the
// transcript coordinator, and the transcript drives the reveal engine. Every
// observable change is reported to the Sink.
//
// Session implements capture.Processor: a new decode starts only while no
// decode or generation is in flight.
type Session struct {
	id          string
	cfg         config.PipelineConfig
	sink        Sink
	metrics     *observe.Metrics
	log         *slog.Logger
	captureOpts []capture.Option
	actorOpts   []inference.Option

	client  *inference.Client
	decoder *decode.Decoder
	capture *capture.Controller
	coord   *transcript.Coordinator
	engine  *reveal.Engine

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	epoch      uint64
	decoding   bool
	generating bool
	genStart   time.Time
	loadStart  time.Time
	language   string
	retries    int
	failed     bool
	retry      *time.Timer
	closed     bool
}

var _ capture.Processor = (*Session)(nil)

// NewSession wires a session around model and src. The model may be shared
// between sessions; each session runs its own actor on it.
func NewSession(model asr.Model, src audio.Source, cfg SessionConfig, sink Sink, opts ...SessionOption) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg.Pipeline,
		sink:     sink,
		metrics:  observe.DefaultMetrics(),
		log:      slog.Default(),
		language: cfg.Pipeline.Language,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(observe.SessionIDKey, s.id)
	s.ctx, s.cancel = context.WithCancel(observe.WithSession(context.Background(), s.id))

	rate := cfg.Pipeline.SampleRate
	if rate <= 0 {
		rate = asr.SampleRate
	}
	decOpts := []decode.Option{
		decode.WithSampleRate(rate),
		decode.WithMaxSamples(int(cfg.Pipeline.MaxDuration.Seconds() * float64(rate))),
	}
	if len(cfg.Pipeline.Codecs) > 0 {
		decOpts = append(decOpts, decode.WithHints(cfg.Pipeline.Codecs...))
	}
	s.decoder = decode.New(decOpts...)

	actorOpts := append([]inference.Option{
		inference.WithMaxTokens(cfg.Pipeline.MaxTokens),
		inference.WithLogger(s.log),
	}, s.actorOpts...)
	s.client = inference.NewClient(model,
		inference.WithResetTimeout(cfg.Pipeline.ResetTimeout),
		inference.WithClientLogger(s.log),
		inference.WithActorOptions(actorOpts...),
	)

	s.engine = reveal.NewEngine(cfg.Reveal,
		reveal.WithOnChange(s.onReveal),
		reveal.WithOnMastery(s.onMastery),
	)
	s.coord = transcript.NewCoordinator(cfg.Pipeline.Debounce, s.onTranscript)

	capOpts := append([]capture.Option{
		capture.WithChunkInterval(cfg.Pipeline.ChunkInterval),
		capture.WithMaxDuration(cfg.Pipeline.MaxDuration),
		capture.WithOnCountdown(func(d time.Duration) { s.emit(Event{Type: EventCountdown, Remaining: d}) }),
		capture.WithOnTimeout(s.onTimeout),
		capture.WithOnLevel(func(l float64) { s.emit(Event{Type: EventLevel, Level: l}) }),
		capture.WithOnRecording(s.onRecording),
		capture.WithOnError(func(err error) { s.fail(fmt.Errorf("capture: %w", err)) }),
		capture.WithLogger(s.log),
	}, s.captureOpts...)
	s.capture = capture.New(src, s, capOpts...)

	s.wg.Add(1)
	go s.pump()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Load asks the actor to load the model. Progress and the final ready or
// error message arrive as EventWorker events.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.loadStart.IsZero() {
		s.loadStart = time.Now()
	}
	s.mu.Unlock()
	if err := s.client.Load(ctx); err != nil {
		return fmt.Errorf("app: load: %w", err)
	}
	return nil
}

// SetLanguage sets the language of subsequent transcriptions.
func (s *Session) SetLanguage(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
}

// StartRecording begins a new recording. It clears the transcript, which
// resets the reveal, resets the retry budget and the actor, and starts
// capture. The model is loaded first if that has not been requested yet.
func (s *Session) StartRecording(ctx context.Context) error {
	if s.capture.Recording() {
		return capture.ErrRecording
	}
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return capture.ErrClosed
	case s.failed:
		s.mu.Unlock()
		return ErrSessionFailed
	}
	s.retries = 0
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.epoch++
	s.generating = false
	needLoad := s.loadStart.IsZero() && !s.client.Ready()
	s.mu.Unlock()

	if needLoad {
		if err := s.Load(ctx); err != nil {
			return err
		}
	}
	s.coord.Clear()
	if err := s.client.Reset(ctx); err != nil {
		return fmt.Errorf("app: reset: %w", err)
	}
	if err := s.capture.Start(ctx); err != nil {
		if !errors.Is(err, capture.ErrRecording) {
			s.fail(err)
		}
		return fmt.Errorf("app: start recording: %w", err)
	}
	return nil
}

// StopRecording stops capture. A generation in flight is allowed to finish.
func (s *Session) StopRecording(ctx context.Context) error {
	return s.capture.Stop(ctx)
}

// Reset stops recording, clears the transcript and the reveal, and resets
// the actor. The retry budget is left alone.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.capture.Stop(ctx); err != nil {
		return fmt.Errorf("app: reset: %w", err)
	}
	s.mu.Lock()
	s.epoch++
	s.generating = false
	s.mu.Unlock()
	if err := s.client.Reset(ctx); err != nil {
		return fmt.Errorf("app: reset: %w", err)
	}
	s.coord.Clear()
	return nil
}

// Recording reports whether capture is running.
func (s *Session) Recording() bool { return s.capture.Recording() }

// Transcript returns the coordinator state.
func (s *Session) Transcript() transcript.State { return s.coord.State() }

// Reveal returns the reveal state.
func (s *Session) Reveal() reveal.Snapshot { return s.engine.Snapshot() }

// Retries returns the number of recoverable failures since the last start.
func (s *Session) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Failed reports whether the session gave up after too many failures.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Busy reports whether a decode or generation is in flight, or the model is
// not ready yet. Chunks keep accumulating meanwhile.
func (s *Session) Busy() bool {
	if !s.client.Ready() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoding || s.generating
}

// Process decodes chunks and sends the audio to the actor. It returns
// immediately; the work runs on its own goroutine. Chunks are ignored while
// work is in flight or a reset after a failure is pending.
func (s *Session) Process(chunks []audio.Chunk) {
	s.mu.Lock()
	if s.closed || s.failed || s.decoding || s.generating || s.retry != nil {
		s.mu.Unlock()
		return
	}
	s.decoding = true
	lang, epoch := s.language, s.epoch
	s.wg.Add(1)
	s.mu.Unlock()

	go s.transcribe(chunks, lang, epoch)
}

func (s *Session) transcribe(chunks []audio.Chunk, language string, epoch uint64) {
	defer s.wg.Done()

	ctx, span := observe.StartSpan(s.ctx, "decode")
	hints := s.decoder.Candidates(chunks)
	start := time.Now()
	res, err := s.decoder.Decode(ctx, chunks)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		span.RecordError(err)
		span.End()
		if s.ctx.Err() != nil {
			return
		}
		s.metrics.RecordDecode(ctx, elapsed, "", hintLabels(hints))
		s.log.Debug("decode failed, discarding chunks", "chunks", len(chunks), "err", err)
		s.capture.DiscardChunks()
		s.fail(err)
		return
	}
	span.SetAttributes(
		attribute.String("codec", res.Codec),
		attribute.Int("samples", len(res.Samples)),
		attribute.Bool("truncated", res.Truncated),
	)
	span.End()
	s.metrics.RecordDecode(ctx, elapsed, res.Codec, hintLabels(hints[:failedBefore(hints, res.Hint)]))

	s.mu.Lock()
	s.decoding = false
	// A reset since Process makes this audio stale.
	if s.closed || s.failed || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.generating = true
	s.genStart = time.Now()
	s.mu.Unlock()

	if err := s.client.Generate(s.ctx, res.Samples, language); err != nil {
		s.fail(err)
	}
}

// failedBefore returns the number of hints tried before winner.
func failedBefore(hints []string, winner string) int {
	for i, h := range hints {
		if h == winner {
			return i
		}
	}
	return 0
}

func hintLabels(hints []string) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		if h == "" {
			h = "sniff"
		}
		out[i] = h
	}
	return out
}

func (s *Session) pump() {
	defer s.wg.Done()
	for m := range s.client.Events() {
		s.handle(m)
	}
}

func (s *Session) handle(m inference.Message) {
	s.emit(Event{Type: EventWorker, Worker: &m})

	switch m.Status {
	case inference.StatusReady:
		s.mu.Lock()
		start := s.loadStart
		s.loadStart = time.Time{}
		s.mu.Unlock()
		if !start.IsZero() {
			s.metrics.ModelLoadDuration.Record(s.ctx, time.Since(start).Seconds())
		}

	case inference.StatusTokens, inference.StatusUpdate:
		// Output of a generation abandoned by a reset or failure may still
		// be queued.
		if s.isGenerating() {
			s.coord.Handle(m)
		}

	case inference.StatusComplete:
		if !s.isGenerating() {
			return
		}
		s.coord.Handle(m)
		s.metrics.RecordGeneration(s.ctx, "complete", s.finishGeneration(), m.TPS)

	case inference.StatusError:
		if m.Op == inference.RequestGenerate {
			if !s.isGenerating() {
				return
			}
			s.metrics.RecordGeneration(s.ctx, "error", s.finishGeneration(), 0)
		} else {
			s.mu.Lock()
			s.loadStart = time.Time{}
			s.mu.Unlock()
		}
		s.fail(m.Err())
	}
}

func (s *Session) isGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generating
}

// finishGeneration clears the in-flight flag and returns the generation time
// in seconds.
func (s *Session) finishGeneration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generating = false
	if s.genStart.IsZero() {
		return 0
	}
	d := time.Since(s.genStart).Seconds()
	s.genStart = time.Time{}
	return d
}

// fail applies the error policy. Recoverable failures count against the
// retry budget and schedule an actor reset while capture keeps running, so
// the next chunk cycle tries again. Once the budget is spent the session
// stops recording and gives up for good. Other failures are reported and
// stop recording.
func (s *Session) fail(err error) {
	if s.ctx.Err() != nil {
		return
	}
	kind, recoverable := Classify(err)
	cause := causeOf(err)
	s.log.Warn("session failure", "kind", kind.String(), "recoverable", recoverable, "err", err)
	s.metrics.RecordSessionError(s.ctx, kind.String())

	if !recoverable {
		s.mu.Lock()
		s.decoding, s.generating = false, false
		s.mu.Unlock()
		s.stopAsync()
		s.emit(Event{Type: EventError, Message: fmt.Sprintf("%s error: %s", kind.label(), cause)})
		return
	}

	s.mu.Lock()
	s.decoding, s.generating = false, false
	if s.failed || s.closed {
		s.mu.Unlock()
		return
	}
	s.retries++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	giveUp := s.retries > s.cfg.MaxRetries
	if giveUp {
		s.failed = true
	} else {
		s.retry = time.AfterFunc(s.cfg.RetryDelay, s.resetAfterFailure)
	}
	s.mu.Unlock()

	if giveUp {
		s.stopAsync()
		s.log.Error("giving up after repeated failures", "retries", s.cfg.MaxRetries)
		s.metrics.RecordSessionError(s.ctx, "fatal")
		s.emit(Event{Type: EventFatal, Message: fatalMessage})
		return
	}
	s.emit(Event{Type: EventNotice, Message: fmt.Sprintf("%s error: %s. Retrying...", kind.label(), cause)})
}

func (s *Session) resetAfterFailure() {
	if err := s.client.Reset(s.ctx); err != nil && s.ctx.Err() == nil {
		s.log.Warn("actor reset after failure", "err", err)
	}
	s.mu.Lock()
	s.retry = nil
	s.mu.Unlock()
}

// stopAsync stops capture without blocking the caller, which may be the
// capture goroutine itself.
func (s *Session) stopAsync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := s.capture.Stop(ctx); err != nil && s.ctx.Err() == nil {
			s.log.Warn("stop after failure", "err", err)
		}
	}()
}

var sentinels = []error{
	ErrMicrophoneUnavailable,
	ErrDecodeFailure,
	ErrActorUnavailable,
	ErrModelLoad,
	ErrGeneration,
}

// causeOf returns the error text without the sentinel prefix, so
// "inference: generation failed: out of memory" reads "out of memory".
func causeOf(err error) string {
	msg := err.Error()
	for _, sentinel := range sentinels {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
			return rest
		}
	}
	return msg
}

func (s *Session) onTranscript(text string) {
	st := s.coord.State()
	s.emit(Event{Type: EventTranscript, Text: text, TPS: st.TPS, NumTokens: st.NumTokens})
	s.engine.Update(text)
}

func (s *Session) onReveal(snap reveal.Snapshot) {
	s.emit(Event{Type: EventReveal, Reveal: snap})
}

func (s *Session) onMastery() {
	s.log.Info("keyword mastery reached")
	s.metrics.Mastery.Add(s.ctx, 1)
	s.emit(Event{Type: EventMastery})
}

func (s *Session) onTimeout() {
	s.log.Info("recording reached the duration ceiling")
	s.metrics.Timeouts.Add(s.ctx, 1)
	s.emit(Event{Type: EventTimeout})
}

func (s *Session) onRecording(recording bool) {
	delta := int64(-1)
	if recording {
		delta = 1
	}
	s.metrics.ActiveRecordings.Add(s.ctx, delta)
	s.emit(Event{Type: EventRecording, Recording: recording})
}

func (s *Session) emit(e Event) {
	if s.sink != nil {
		s.sink(e)
	}
}

// Close ends the session: capture stops and releases the microphone, the
// actor is shut down, and pending timers are cancelled. The model is not
// closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.mu.Unlock()

	captureErr := s.capture.Close()
	s.cancel()
	clientErr := s.client.Close()
	s.wg.Wait()
	s.coord.Close()
	s.engine.Close()

	if n := s.client.Dropped(); n > 0 {
		s.metrics.GenerationsDropped.Add(context.Background(), int64(n))
	}
	return errors.Join(captureErr, clientErr)
}
