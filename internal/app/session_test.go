package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/quacktosql/internal/app"
	"github.com/MrWong99/quacktosql/internal/config"
	"github.com/MrWong99/quacktosql/internal/inference"
	"github.com/MrWong99/quacktosql/internal/reveal"
	"github.com/MrWong99/quacktosql/pkg/audio"
	audiomock "github.com/MrWong99/quacktosql/pkg/audio/mock"
	asrmock "github.com/MrWong99/quacktosql/pkg/provider/asr/mock"
)

const testReference = "SELECT name FROM ducks WHERE sound = 'quack';"

// testConfig returns a configuration with fast timings for tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			ChunkInterval: 10 * time.Millisecond,
			MaxDuration:   5 * time.Second,
			Debounce:      5 * time.Millisecond,
			RetryDelay:    10 * time.Millisecond,
			ResetTimeout:  200 * time.Millisecond,
			Codecs:        []string{audio.MIMEPCM},
		},
		Reveal: config.RevealConfig{
			ReferenceText: testReference,
			BaseInterval:  time.Millisecond,
			MinInterval:   time.Millisecond,
		},
		Providers: config.ProvidersConfig{
			ASR: config.ProviderEntry{Name: "mock"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// eventLog is a concurrency-safe Sink.
type eventLog struct {
	mu     sync.Mutex
	events []app.Event
}

func (l *eventLog) sink(e app.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) of(typ app.EventType) []app.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []app.Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) workerStatus(st inference.Status) bool {
	for _, e := range l.of(app.EventWorker) {
		if e.Worker != nil && e.Worker.Status == st {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newSession(t *testing.T, cfg *config.Config, model *asrmock.Model, src audio.Source) (*app.Session, *eventLog) {
	t.Helper()
	sc, err := app.NewSessionConfig(cfg)
	if err != nil {
		t.Fatalf("NewSessionConfig: %v", err)
	}
	log := &eventLog{}
	s := app.NewSession(model, src, sc, log.sink,
		app.WithSessionID(t.Name()),
		app.WithInferenceOptions(inference.WithWarmup(false)),
	)
	t.Cleanup(func() { _ = s.Close() })
	return s, log
}

// loadSession loads the model and waits until the actor reports ready.
func loadSession(t *testing.T, s *app.Session, log *eventLog) {
	t.Helper()
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	waitFor(t, "model ready", func() bool { return log.workerStatus(inference.StatusReady) })
}

func TestSession_TranscriptDrivesReveal(t *testing.T) {
	t.Parallel()
	model := &asrmock.Model{Default: asrmock.Script{Text: "quack quack quack"}}
	rec := &audiomock.Recorder{AutoData: make([]byte, 320)}
	s, log := newSession(t, testConfig(), model, &audiomock.Source{Recorder: rec})
	ctx := context.Background()

	loadSession(t, s, log)
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitFor(t, "three keywords fully revealed", func() bool {
		snap := s.Reveal()
		return snap.Count == 3 && snap.Revealed == snap.Target
	})
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}

	snap := s.Reveal()
	want := reveal.TargetLength(utf8.RuneCountInString(testReference), 3, reveal.DefaultMaxCount)
	if snap.Target != want {
		t.Errorf("Target = %d, want %d", snap.Target, want)
	}
	if !strings.HasPrefix(testReference, snap.Text) {
		t.Errorf("revealed text %q is not a prefix of the reference", snap.Text)
	}
	if got := s.Transcript().Text; got != "quack quack quack" {
		t.Errorf("transcript = %q, want %q", got, "quack quack quack")
	}
	if len(log.of(app.EventTranscript)) == 0 {
		t.Error("no transcript event emitted")
	}
	if len(log.of(app.EventReveal)) == 0 {
		t.Error("no reveal event emitted")
	}
	if model.TranscribeCount() == 0 {
		t.Fatal("model never transcribed")
	}
	if s.Retries() != 0 || s.Failed() {
		t.Errorf("retries = %d, failed = %v after a clean run", s.Retries(), s.Failed())
	}
}

func TestSession_StartLoadsModelOnDemand(t *testing.T) {
	t.Parallel()
	model := &asrmock.Model{Default: asrmock.Script{Text: "quack"}}
	rec := &audiomock.Recorder{AutoData: make([]byte, 320)}
	s, log := newSession(t, testConfig(), model, &audiomock.Source{Recorder: rec})

	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitFor(t, "model ready", func() bool { return log.workerStatus(inference.StatusReady) })
	waitFor(t, "first keyword", func() bool { return s.Reveal().Count == 1 })
	if got := model.LoadCount(); got != 1 {
		t.Errorf("Load calls = %d, want 1", got)
	}
	// Generations wait for the model, so none failed with "not loaded".
	if s.Retries() != 0 {
		t.Errorf("retries = %d, want 0", s.Retries())
	}
}

func TestSession_StartWhileRecording(t *testing.T) {
	t.Parallel()
	rec := &audiomock.Recorder{}
	s, log := newSession(t, testConfig(), &asrmock.Model{}, &audiomock.Source{Recorder: rec})
	ctx := context.Background()

	loadSession(t, s, log)
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := s.StartRecording(ctx); !errors.Is(err, app.ErrRecording) {
		t.Fatalf("second StartRecording error = %v, want ErrRecording", err)
	}
	if start, _, _, _ := rec.Counts(); start != 1 {
		t.Errorf("recorder started %d times, want 1", start)
	}
}

// stoppedRecording reports whether a recording=false event was emitted.
func (l *eventLog) stoppedRecording() bool {
	for _, e := range l.of(app.EventRecording) {
		if !e.Recording {
			return true
		}
	}
	return false
}

func TestSession_DecodeFailureKeepsRecording(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Pipeline.Codecs = []string{audio.MIMEWebM}
	cfg.Pipeline.RetryDelay = 50 * time.Millisecond
	cfg.Pipeline.MaxRetries = 10
	rec := &audiomock.Recorder{MIMEType: audio.MIMEWebM, AutoData: []byte{1, 2, 3, 4}}
	s, log := newSession(t, cfg, &asrmock.Model{}, &audiomock.Source{Recorder: rec})

	loadSession(t, s, log)
	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitFor(t, "notice", func() bool { return len(log.of(app.EventNotice)) > 0 })

	msg := log.of(app.EventNotice)[0].Message
	if !strings.HasPrefix(msg, "Decoding error: ") || !strings.HasSuffix(msg, ". Retrying...") {
		t.Errorf("notice = %q", msg)
	}
	// Capture keeps running, so a later chunk cycle decodes again.
	waitFor(t, "second decode attempt", func() bool { return s.Retries() >= 2 })
	if s.Failed() {
		t.Error("session failed within the retry budget")
	}
	if !s.Recording() || log.stoppedRecording() {
		t.Error("recording stopped after a decode failure")
	}
}

func TestSession_GenerationFailureRetriesNextCycle(t *testing.T) {
	t.Parallel()
	model := &asrmock.Model{
		Results: []asrmock.Script{{Err: errors.New("out of memory")}},
		Default: asrmock.Script{Text: "quack quack"},
	}
	rec := &audiomock.Recorder{AutoData: make([]byte, 320)}
	s, log := newSession(t, testConfig(), model, &audiomock.Source{Recorder: rec})

	loadSession(t, s, log)
	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitFor(t, "notice", func() bool { return len(log.of(app.EventNotice)) > 0 })
	if msg := log.of(app.EventNotice)[0].Message; msg != "Transcription error: out of memory. Retrying..." {
		t.Errorf("notice = %q", msg)
	}

	waitFor(t, "two keywords", func() bool { return s.Reveal().Count == 2 })
	if got := s.Retries(); got != 1 {
		t.Errorf("retries = %d, want 1", got)
	}
	if !s.Recording() || log.stoppedRecording() {
		t.Error("recording stopped after a generation failure")
	}
}

func TestSession_TooManyFailuresIsFatal(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Pipeline.Codecs = []string{audio.MIMEWebM}
	s, log := newSession(t, cfg, &asrmock.Model{}, &audiomock.Source{})
	bad := []audio.Chunk{{Data: []byte{9, 9, 9}, MIMEType: audio.MIMEWebM}}

	// Process is a no-op while a decode runs or a reset is pending, so keep
	// offering the chunks until each failure is counted.
	for i := 1; i <= cfg.Pipeline.MaxRetries+1; i++ {
		waitFor(t, "failure counted", func() bool {
			if s.Retries() == i {
				return true
			}
			s.Process(bad)
			return false
		})
	}

	if !s.Failed() {
		t.Fatal("session did not give up")
	}
	if got := len(log.of(app.EventNotice)); got != cfg.Pipeline.MaxRetries {
		t.Errorf("notices = %d, want %d", got, cfg.Pipeline.MaxRetries)
	}
	fatal := log.of(app.EventFatal)
	if len(fatal) != 1 {
		t.Fatalf("fatal events = %d, want 1", len(fatal))
	}
	if !strings.Contains(fatal[0].Message, "reload") {
		t.Errorf("fatal message = %q", fatal[0].Message)
	}
	if err := s.StartRecording(context.Background()); !errors.Is(err, app.ErrSessionFailed) {
		t.Errorf("StartRecording error = %v, want ErrSessionFailed", err)
	}

	// A failed session ignores further audio.
	s.Process(bad)
	time.Sleep(20 * time.Millisecond)
	if got := s.Retries(); got != cfg.Pipeline.MaxRetries+1 {
		t.Errorf("retries = %d after giving up, want %d", got, cfg.Pipeline.MaxRetries+1)
	}
}

func TestSession_MicrophoneFailure(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{OpenErr: errors.New("permission denied")}
	s, log := newSession(t, testConfig(), &asrmock.Model{}, src)

	err := s.StartRecording(context.Background())
	if !errors.Is(err, app.ErrMicrophoneUnavailable) {
		t.Fatalf("StartRecording error = %v, want ErrMicrophoneUnavailable", err)
	}
	waitFor(t, "error event", func() bool { return len(log.of(app.EventError)) > 0 })
	if msg := log.of(app.EventError)[0].Message; msg != "Microphone error: permission denied" {
		t.Errorf("error message = %q", msg)
	}
	if s.Recording() {
		t.Error("recording after microphone failure")
	}
	if s.Retries() != 0 {
		t.Errorf("retries = %d, microphone failures do not use the retry budget", s.Retries())
	}
}

func TestSession_ResetClearsRevealButKeepsRetries(t *testing.T) {
	t.Parallel()
	model := &asrmock.Model{Default: asrmock.Script{Text: "quack"}}
	rec := &audiomock.Recorder{AutoData: make([]byte, 320)}
	s, log := newSession(t, testConfig(), model, &audiomock.Source{Recorder: rec})
	ctx := context.Background()

	loadSession(t, s, log)
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitFor(t, "first keyword", func() bool { return s.Reveal().Count == 1 })
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.Recording() {
		t.Error("still recording after Reset")
	}
	waitFor(t, "reveal cleared", func() bool { return s.Reveal().Count == 0 })
	if got := s.Transcript().Text; got != "" {
		t.Errorf("transcript after Reset = %q", got)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	model := &asrmock.Model{}
	rec := &audiomock.Recorder{}
	s, log := newSession(t, testConfig(), model, &audiomock.Source{Recorder: rec})

	loadSession(t, s, log)
	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, _, closeCalls := rec.Counts(); closeCalls != 1 {
		t.Errorf("recorder closed %d times, want 1", closeCalls)
	}
	if model.CloseCalls != 0 {
		t.Error("session closed the shared model")
	}
	if err := s.StartRecording(context.Background()); err == nil {
		t.Error("StartRecording succeeded after Close")
	}
}
