// Package config provides the configuration schema, loader, hot-reload
// watcher and ASR provider registry for the quacktosql server.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/MrWong99/quacktosql/internal/reveal"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// MatchMode selects how keyword occurrences are counted.
type MatchMode string

const (
	// MatchSubstring counts case-insensitive substring occurrences.
	MatchSubstring MatchMode = "substring"

	// MatchPhonetic additionally counts words that sound like the keyword.
	MatchPhonetic MatchMode = "phonetic"
)

// IsValid reports whether m is a recognised match mode.
func (m MatchMode) IsValid() bool {
	return m == MatchSubstring || m == MatchPhonetic
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Reveal     RevealConfig     `yaml:"reveal"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PipelineConfig holds the capture, decode and inference tunables.
type PipelineConfig struct {
	// SampleRate is the rate audio is decoded to before transcription.
	SampleRate int `yaml:"sample_rate"`

	// MaxDuration is the hard recording session ceiling.
	MaxDuration time.Duration `yaml:"max_duration"`

	// ChunkInterval is the chunk emission cadence.
	ChunkInterval time.Duration `yaml:"chunk_interval"`

	// Debounce is the transcript update coalescing window.
	Debounce time.Duration `yaml:"debounce"`

	// MaxRetries is how many recoverable failures a session absorbs before
	// giving up.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the pause before the actor is reset after a failure.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ResetTimeout bounds how long a reset may go unanswered before the
	// actor is recreated.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// Codecs is the container hint order tried by the decoder. An empty
	// entry means "sniff the data".
	Codecs []string `yaml:"codecs"`

	// Language is the transcription language.
	Language string `yaml:"language"`

	// MaxTokens caps the tokens generated per transcription.
	MaxTokens int `yaml:"max_tokens"`

	// LazyLoad defers model loading to the first client request.
	LazyLoad bool `yaml:"lazy_load"`
}

// RevealConfig holds the keyword reveal tunables.
type RevealConfig struct {
	Keyword      string        `yaml:"keyword"`
	DeltaCap     int           `yaml:"delta_cap"`
	MaxCount     int           `yaml:"max_count"`
	BaseInterval time.Duration `yaml:"base_interval"`
	IntervalStep time.Duration `yaml:"interval_step"`
	MinInterval  time.Duration `yaml:"min_interval"`
	Match        MatchMode     `yaml:"match"`

	// ReferenceText is the revealed text. Default: the built-in SQL query.
	ReferenceText string `yaml:"reference_text"`

	// ReferenceFile is read instead of ReferenceText when set.
	ReferenceFile string `yaml:"reference_file"`
}

// Reference returns the reference text, reading ReferenceFile when set.
func (r RevealConfig) Reference() (string, error) {
	if r.ReferenceFile != "" {
		b, err := os.ReadFile(r.ReferenceFile)
		if err != nil {
			return "", fmt.Errorf("config: read reference file: %w", err)
		}
		return string(b), nil
	}
	if r.ReferenceText != "" {
		return r.ReferenceText, nil
	}
	return reveal.DefaultReference, nil
}

// Counter returns the keyword counter selected by Match.
func (r RevealConfig) Counter() reveal.Counter {
	if r.Match == MatchPhonetic {
		return reveal.NewPhoneticCounter(r.Keyword)
	}
	return reveal.SubstringCounter{Keyword: r.Keyword}
}

// ProvidersConfig selects the ASR model and its fallbacks. Each entry names
// a provider registered in the [Registry].
type ProvidersConfig struct {
	ASR          ProviderEntry   `yaml:"asr"`
	ASRFallbacks []ProviderEntry `yaml:"asr_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper-native", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For whisper-native
	// it is the model download location.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1",
	// "ggml-tiny.en.bin").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// TranscribeConfig configures the stateless transcription endpoint.
type TranscribeConfig struct {
	Enabled bool `yaml:"enabled"`

	// APIKey is the OpenAI credential. Falls back to $OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Prompt  string `yaml:"prompt"`

	// Temperature defaults to 0.2 when unset.
	Temperature *float64 `yaml:"temperature"`

	// MaxUploadBytes limits the request body.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// ResolvedAPIKey returns APIKey or, when empty, $OPENAI_API_KEY.
func (t TranscribeConfig) ResolvedAPIKey() string {
	if t.APIKey != "" {
		return t.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// TelemetryConfig configures the metrics endpoint.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	MetricsPath string `yaml:"metrics_path"`
}
