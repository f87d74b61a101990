// This file contains the Native model backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

// DefaultModelFile is the ggml model fetched when none is configured.
const DefaultModelFile = "ggml-tiny.en.bin"

// DefaultBaseURL hosts the ggml whisper models.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// Compile-time assertion that Native implements asr.Model.
var _ asr.Model = (*Native)(nil)

// Native implements asr.Model using whisper.cpp Go bindings (CGO). The model
// is loaded once and shared; transcriptions are serialised because a whisper
// context must not be used concurrently.
type Native struct {
	fetcher  asr.Fetcher
	files    []string
	language string
	threads  uint

	mu    sync.Mutex
	model whisperlib.Model
}

// NativeOption is a functional option for configuring a Native model.
type NativeOption func(*Native)

// WithNativeLanguage sets the default language code (e.g., "en", "de").
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithBaseURL sets where missing assets are downloaded from. An empty URL
// disables downloading. Defaults to [DefaultBaseURL].
func WithBaseURL(url string) NativeOption {
	return func(n *Native) { n.fetcher.BaseURL = url }
}

// WithCacheDir sets the directory assets are stored in. Defaults to
// "<user cache dir>/quacktosql/whisper".
func WithCacheDir(dir string) NativeOption {
	return func(n *Native) { n.fetcher.Dir = dir }
}

// WithAssets adds files fetched alongside the model, such as a Core ML
// encoder. They are downloaded in parallel with the model.
func WithAssets(files ...string) NativeOption {
	return func(n *Native) { n.files = append(n.files, files...) }
}

// WithDownloadClient sets the HTTP client used for asset downloads.
func WithDownloadClient(hc *http.Client) NativeOption {
	return func(n *Native) { n.fetcher.Client = hc }
}

// WithThreads sets the number of decoding threads. Zero keeps the library
// default.
func WithThreads(threads uint) NativeOption {
	return func(n *Native) { n.threads = threads }
}

// NewNative creates a Native model for modelFile. When modelFile is an
// absolute path it is used in place and nothing is downloaded; otherwise it is
// resolved inside the cache directory and fetched on Load when missing.
func NewNative(modelFile string, opts ...NativeOption) (*Native, error) {
	if modelFile == "" {
		modelFile = DefaultModelFile
	}
	n := &Native{
		language: defaultLanguage,
		fetcher:  asr.Fetcher{BaseURL: DefaultBaseURL},
	}
	if filepath.IsAbs(modelFile) {
		n.fetcher.Dir = filepath.Dir(modelFile)
		n.fetcher.BaseURL = ""
		modelFile = filepath.Base(modelFile)
	}
	n.files = []string{modelFile}
	for _, o := range opts {
		o(n)
	}
	if n.fetcher.Dir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("whisper: resolve cache dir: %w", err)
		}
		n.fetcher.Dir = filepath.Join(dir, "quacktosql", "whisper")
	}
	return n, nil
}

// ModelPath returns the local path of the ggml model file.
func (n *Native) ModelPath() string { return n.fetcher.Path(n.files[0]) }

// Load fetches missing assets and loads the model. Calling Load on a loaded
// model is a no-op.
func (n *Native) Load(ctx context.Context, progress asr.ProgressFunc) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model != nil {
		return nil
	}

	if err := n.fetcher.Fetch(ctx, n.files, progress); err != nil {
		return fmt.Errorf("whisper: fetch assets: %w", err)
	}
	path := n.ModelPath()
	model, err := whisperlib.New(path)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	n.model = model
	return nil
}

// Transcribe runs whisper.cpp on req.Samples with a fresh context. Tokens
// and cumulative segment text are streamed from the segment callback.
func (n *Native) Transcribe(ctx context.Context, req asr.Request, s asr.Streamer) (asr.Result, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model == nil {
		return asr.Result{}, asr.ErrNotLoaded
	}

	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = n.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	wctx.SetMaxTokensPerSegment(uint(req.Tokens()))
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}

	var (
		parts    []string
		tokens   int
		segments int
		start    = time.Now()
	)
	onSegment := func(seg whisperlib.Segment) {
		segments++
		for _, tok := range seg.Tokens {
			if isSpecialToken(tok.Text) || tokens >= req.Tokens() {
				continue
			}
			tokens++
			s.Token()
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
			s.Text(strings.Join(parts, " "))
		}
	}
	// Returning false from the encoder callback aborts the run.
	onEncoderBegin := func() bool { return ctx.Err() == nil }

	if err := wctx.Process(req.Samples, onEncoderBegin, onSegment, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return asr.Result{}, ctxErr
		}
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	// NextSegment replays from the first segment, so it is only consulted
	// when the callback never fired.
	if segments == 0 {
		for {
			seg, err := wctx.NextSegment()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
			}
			onSegment(seg)
		}
	}

	return asr.Result{
		Text:     strings.Join(parts, " "),
		Tokens:   tokens,
		Duration: time.Since(start),
	}, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model == nil {
		return nil
	}
	err := n.model.Close()
	n.model = nil
	return err
}

// isSpecialToken reports whether text is a whisper control token such as
// "[_BEG_]" or "<|endoftext|>".
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}
