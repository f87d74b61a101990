// Package whisper provides whisper.cpp-backed ASR models.
//
// Two flavours are available. [Server] talks to a running whisper-server
// binary over its REST API (POST /inference) and needs no cgo. [Native] links
// the whisper.cpp library through its Go bindings, fetches the ggml model
// into a local cache on Load, and streams segment text while decoding.
//
// Usage:
//
//	m, err := whisper.NewServer("http://localhost:8080", whisper.WithLanguage("en"))
//	if err := m.Load(ctx, nil); err != nil { ... }
//	res, err := m.Transcribe(ctx, asr.Request{Samples: pcm}, asr.Streamer{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/quacktosql/pkg/audio"
	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

const defaultLanguage = "en"

// Compile-time assertion that Server implements asr.Model.
var _ asr.Model = (*Server)(nil)

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en"). When empty the server uses whichever model it was
// started with.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithLanguage sets the default language code used when a request does not
// name one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(s *Server) { s.language = lang }
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) { s.httpClient = hc }
}

// Server implements asr.Model backed by a whisper.cpp HTTP server.
type Server struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client

	mu     sync.Mutex
	loaded bool
}

// NewServer creates a Server for the whisper-server instance at serverURL.
func NewServer(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Load checks that the server is reachable. The server owns its model, so
// there is nothing to download.
func (s *Server) Load(ctx context.Context, progress asr.ProgressFunc) error {
	report := func(p asr.Progress) {
		if progress != nil {
			progress(p)
		}
	}
	report(asr.Progress{Status: asr.StatusInitiate, File: s.serverURL})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("whisper: create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: reach server: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
	report(asr.Progress{Status: asr.StatusDone, File: s.serverURL})
	return nil
}

// Transcribe encodes the samples as WAV and POSTs them to /inference as
// multipart/form-data.
func (s *Server) Transcribe(ctx context.Context, req asr.Request, st asr.Streamer) (asr.Result, error) {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		return asr.Result{}, asr.ErrNotLoaded
	}

	start := time.Now()
	wav, err := audio.EncodeWAV(req.Samples, asr.SampleRate)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = s.language
	}
	fields := map[string]string{
		"language":        lang,
		"model":           s.model,
		"response_format": "json",
		"max_len":         strconv.Itoa(req.Tokens()),
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return asr.Result{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asr.Result{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	words := strings.Fields(text)
	for range words {
		st.Token()
	}
	if text != "" {
		st.Text(text)
	}
	return asr.Result{Text: text, Tokens: len(words), Duration: time.Since(start)}, nil
}

// Close is a no-op for the HTTP backend.
func (s *Server) Close() error { return nil }
