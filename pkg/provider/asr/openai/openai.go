// Package openai provides an ASR model backed by the OpenAI audio
// transcription API.
//
// Samples are uploaded as a 16-bit WAV file. The API does not stream, so the
// whole transcript is delivered to the Streamer once the response arrives.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/quacktosql/pkg/audio"
	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// DefaultPrompt biases recognition towards the reveal keyword.
const DefaultPrompt = `The audio may contain words similar to "quack". Try to recognize as much as you can and only extract speech, ignoring background audio.`

// DefaultTemperature is the sampling temperature sent with every request.
const DefaultTemperature = 0.2

// Ensure Model implements asr.Model.
var _ asr.Model = (*Model)(nil)

// config holds optional configuration for the model.
type config struct {
	baseURL     string
	model       string
	prompt      string
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
}

// Option is a functional option for Model.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithPrompt replaces [DefaultPrompt]. An empty prompt is sent as absent.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithTemperature sets the sampling temperature. Defaults to 0.2.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient sets the HTTP client used for API requests. It takes
// precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// Model implements asr.Model using the OpenAI API.
type Model struct {
	client      oai.Client
	model       string
	prompt      string
	temperature float64

	mu     sync.Mutex
	loaded bool
}

// New constructs a Model. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("openai asr: apiKey must not be empty")
	}
	cfg := &config{
		model:       DefaultModel,
		prompt:      DefaultPrompt,
		temperature: DefaultTemperature,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	// Retries are owned by the session error policy.
	reqOpts = append(reqOpts, option.WithMaxRetries(0))

	return &Model{
		client:      oai.NewClient(reqOpts...),
		model:       cfg.model,
		prompt:      cfg.prompt,
		temperature: cfg.temperature,
	}, nil
}

// Load has nothing to fetch; it reports a single completed asset so progress
// consumers see the same shape as for local models.
func (m *Model) Load(ctx context.Context, progress asr.ProgressFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if progress != nil {
		progress(asr.Progress{Status: asr.StatusInitiate, File: m.model})
		progress(asr.Progress{Status: asr.StatusDone, File: m.model})
	}
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Transcribe uploads req.Samples as WAV and returns the recognised text.
func (m *Model) Transcribe(ctx context.Context, req asr.Request, s asr.Streamer) (asr.Result, error) {
	m.mu.Lock()
	loaded := m.loaded
	m.mu.Unlock()
	if !loaded {
		return asr.Result{}, asr.ErrNotLoaded
	}

	wav, err := audio.EncodeWAV(req.Samples, asr.SampleRate)
	if err != nil {
		return asr.Result{}, fmt.Errorf("openai asr: %w", err)
	}

	start := time.Now()
	text, err := m.TranscribeFile(ctx, bytes.NewReader(wav), "audio.wav", audio.MIMEWAV, req.Language)
	if err != nil {
		return asr.Result{}, err
	}

	words := strings.Fields(text)
	for range words {
		s.Token()
	}
	if text != "" {
		s.Text(text)
	}
	return asr.Result{Text: text, Tokens: len(words), Duration: time.Since(start)}, nil
}

// TranscribeFile sends an encoded audio file of any format the API accepts
// and returns the transcript with surrounding whitespace removed.
func (m *Model) TranscribeFile(ctx context.Context, r io.Reader, filename, contentType, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(r, filename, contentType),
		Model:          oai.AudioModel(m.model),
		Temperature:    oai.Float(m.temperature),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if m.prompt != "" {
		params.Prompt = oai.String(m.prompt)
	}
	if language != "" {
		params.Language = oai.String(language)
	}

	resp, err := m.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai asr: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (m *Model) Close() error { return nil }
