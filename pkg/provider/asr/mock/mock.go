// Package mock provides a scripted test double for asr.Model.
//
// Example:
//
//	m := &mock.Model{Results: []mock.Script{{Text: "quack quack"}}}
//	_ = m.Load(ctx, nil)
//	res, _ := m.Transcribe(ctx, asr.Request{Samples: pcm}, asr.Streamer{})
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

// Script describes the outcome of one Transcribe call.
type Script struct {
	// Text is the final transcript. It is streamed word by word through
	// OnToken and OnText before Transcribe returns.
	Text string

	// Err, if non-nil, is returned instead of a result.
	Err error

	// Delay is waited before the first token. A cancelled ctx aborts the
	// wait and returns ctx.Err().
	Delay time.Duration
}

// Model is a mock implementation of asr.Model.
type Model struct {
	mu sync.Mutex

	// LoadProgress is replayed to the progress callback during Load.
	LoadProgress []asr.Progress

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// LoadDelay is waited before Load returns.
	LoadDelay time.Duration

	// Results is consumed in order by Transcribe. When exhausted, Default is
	// used.
	Results []Script

	// Default is the script for calls beyond Results.
	Default Script

	// RequireLoad makes Transcribe fail with asr.ErrNotLoaded before a
	// successful Load.
	RequireLoad bool

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// LoadCalls is the number of times Load was called.
	LoadCalls int

	// Requests records every Transcribe request in order.
	Requests []asr.Request

	// CloseCalls is the number of times Close was called.
	CloseCalls int

	loaded bool
}

// Load replays LoadProgress and returns LoadErr.
func (m *Model) Load(ctx context.Context, progress asr.ProgressFunc) error {
	m.mu.Lock()
	m.LoadCalls++
	steps := append([]asr.Progress(nil), m.LoadProgress...)
	delay, err := m.LoadDelay, m.LoadErr
	m.mu.Unlock()

	for _, p := range steps {
		if progress != nil {
			progress(p)
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Transcribe records the request and plays the next script.
func (m *Model) Transcribe(ctx context.Context, req asr.Request, s asr.Streamer) (asr.Result, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	if m.RequireLoad && !m.loaded {
		m.mu.Unlock()
		return asr.Result{}, asr.ErrNotLoaded
	}
	script := m.Default
	if len(m.Results) > 0 {
		script = m.Results[0]
		m.Results = m.Results[1:]
	}
	m.mu.Unlock()

	start := time.Now()
	if script.Delay > 0 {
		select {
		case <-time.After(script.Delay):
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}
	if script.Err != nil {
		return asr.Result{}, script.Err
	}

	words := strings.Fields(script.Text)
	for i := range words {
		if err := ctx.Err(); err != nil {
			return asr.Result{}, err
		}
		s.Token()
		s.Text(strings.Join(words[:i+1], " "))
	}
	return asr.Result{Text: script.Text, Tokens: len(words), Duration: time.Since(start)}, nil
}

// Close records the call and returns CloseErr.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return m.CloseErr
}

// TranscribeCount returns the number of Transcribe calls. Thread-safe.
func (m *Model) TranscribeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LoadCount returns the number of Load calls. Thread-safe.
func (m *Model) LoadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LoadCalls
}

var _ asr.Model = (*Model)(nil)
