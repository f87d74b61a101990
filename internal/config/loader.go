package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ASRProviderNames lists the ASR providers wired by the server binary.
// Used by [Validate] to warn about unrecognised provider names.
var ASRProviderNames = []string{"whisper-native", "whisper", "openai", "mock"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	p := cfg.Pipeline
	if p.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must be positive", p.SampleRate))
	}
	if p.MaxDuration < 0 || p.ChunkInterval < 0 || p.Debounce < 0 || p.RetryDelay < 0 || p.ResetTimeout < 0 {
		errs = append(errs, errors.New("pipeline durations must not be negative"))
	}
	if p.ChunkInterval > 0 && p.MaxDuration > 0 && p.ChunkInterval >= p.MaxDuration {
		errs = append(errs, fmt.Errorf("pipeline.chunk_interval %s must be shorter than pipeline.max_duration %s", p.ChunkInterval, p.MaxDuration))
	}
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries %d must not be negative", p.MaxRetries))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must not be negative", p.MaxTokens))
	}

	r := cfg.Reveal
	if r.Match != "" && !r.Match.IsValid() {
		errs = append(errs, fmt.Errorf("reveal.match %q is invalid; valid values: substring, phonetic", r.Match))
	}
	if r.DeltaCap < 0 {
		errs = append(errs, fmt.Errorf("reveal.delta_cap %d must not be negative", r.DeltaCap))
	}
	if r.MaxCount < 0 {
		errs = append(errs, fmt.Errorf("reveal.max_count %d must not be negative", r.MaxCount))
	}
	if r.MinInterval < 0 || r.BaseInterval < 0 || r.IntervalStep < 0 {
		errs = append(errs, errors.New("reveal intervals must not be negative"))
	}
	if r.ReferenceFile != "" {
		if _, err := os.Stat(r.ReferenceFile); err != nil {
			errs = append(errs, fmt.Errorf("reveal.reference_file: %w", err))
		}
	}

	if cfg.Providers.ASR.Name == "" {
		errs = append(errs, errors.New("providers.asr.name is required"))
	}
	validateProviderName("providers.asr", cfg.Providers.ASR.Name)
	for i, fb := range cfg.Providers.ASRFallbacks {
		field := fmt.Sprintf("providers.asr_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		}
		validateProviderName(field, fb.Name)
	}

	t := cfg.Transcribe
	if t.Temperature != nil && (*t.Temperature < 0 || *t.Temperature > 1) {
		errs = append(errs, fmt.Errorf("transcribe.temperature %.2f is out of range [0, 1]", *t.Temperature))
	}
	if t.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("transcribe.max_upload_bytes %d must not be negative", t.MaxUploadBytes))
	}
	if t.Enabled && t.ResolvedAPIKey() == "" {
		slog.Warn("transcribe endpoint enabled without an API key; requests will fail until OPENAI_API_KEY is set")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of
// [ASRProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ASRProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ASRProviderNames,
	)
}
