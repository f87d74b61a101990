package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/quacktosql/internal/config"
	"github.com/MrWong99/quacktosql/internal/reveal"
)

const minimalYAML = `
providers:
  asr:
    name: mock
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	p := cfg.Pipeline
	if p.SampleRate != 16000 || p.MaxDuration != 20*time.Second || p.ChunkInterval != 500*time.Millisecond {
		t.Errorf("pipeline capture defaults = %+v", p)
	}
	if p.Debounce != 100*time.Millisecond || p.MaxRetries != 3 || p.RetryDelay != 1500*time.Millisecond {
		t.Errorf("pipeline retry defaults = %+v", p)
	}
	if !slices.Equal(p.Codecs, config.DefaultCodecs) {
		t.Errorf("codecs = %q, want %q", p.Codecs, config.DefaultCodecs)
	}

	r := cfg.Reveal
	if r.Keyword != "quack" || r.DeltaCap != 3 || r.MaxCount != 10 || r.Match != config.MatchSubstring {
		t.Errorf("reveal defaults = %+v", r)
	}
	if r.BaseInterval != 30*time.Millisecond || r.IntervalStep != 2*time.Millisecond || r.MinInterval != 10*time.Millisecond {
		t.Errorf("reveal interval defaults = %+v", r)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Transcribe.Temperature == nil || *cfg.Transcribe.Temperature != 0.2 {
		t.Errorf("transcribe temperature = %v, want 0.2", cfg.Transcribe.Temperature)
	}
	if cfg.Telemetry.MetricsPath != "/metrics" {
		t.Errorf("metrics path = %q", cfg.Telemetry.MetricsPath)
	}
}

func TestLoadFromReader_ExplicitValues(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: "127.0.0.1:9000"
  log_level: debug
pipeline:
  max_duration: 10s
  chunk_interval: 250ms
  codecs: ["audio/wav"]
reveal:
  keyword: moo
  match: phonetic
  reference_text: "SELECT 1;"
transcribe:
  enabled: true
  api_key: sk-test
  temperature: 0
providers:
  asr:
    name: whisper
    base_url: http://localhost:8081
  asr_fallbacks:
    - name: openai
      api_key: sk-other
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Pipeline.MaxDuration != 10*time.Second || cfg.Pipeline.ChunkInterval != 250*time.Millisecond {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if !slices.Equal(cfg.Pipeline.Codecs, []string{"audio/wav"}) {
		t.Errorf("codecs = %q", cfg.Pipeline.Codecs)
	}
	if *cfg.Transcribe.Temperature != 0 {
		t.Errorf("explicit zero temperature replaced by %v", *cfg.Transcribe.Temperature)
	}
	if len(cfg.Providers.ASRFallbacks) != 1 || cfg.Providers.ASRFallbacks[0].Name != "openai" {
		t.Errorf("fallbacks = %+v", cfg.Providers.ASRFallbacks)
	}
	ref, err := cfg.Reveal.Reference()
	if err != nil || ref != "SELECT 1;" {
		t.Errorf("Reference() = %q, %v", ref, err)
	}
	if _, ok := cfg.Reveal.Counter().(*reveal.PhoneticCounter); !ok {
		t.Errorf("Counter() = %T, want *reveal.PhoneticCounter", cfg.Reveal.Counter())
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "speakers: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
  tls:
    cert_file: cert.pem
pipeline:
  max_duration: 1s
  chunk_interval: 2s
  max_retries: -1
reveal:
  match: fuzzy
transcribe:
  temperature: 1.5
providers:
  asr_fallbacks:
    - model: x
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.log_level",
		"server.tls",
		"pipeline.chunk_interval",
		"pipeline.max_retries",
		"reveal.match",
		"transcribe.temperature",
		"providers.asr.name is required",
		"providers.asr_fallbacks[0].name is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%v", want, err)
		}
	}
}

func TestLoad_ReferenceFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ref := filepath.Join(dir, "query.sql")
	writeFile(t, ref, "SELECT quack FROM pond;")
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, minimalYAML+"reveal:\n  reference_text: ignored\n  reference_file: "+ref+"\n")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := cfg.Reveal.Reference()
	if err != nil || got != "SELECT quack FROM pond;" {
		t.Errorf("Reference() = %q, %v; want the file content", got, err)
	}
}

func TestLoad_MissingReferenceFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, minimalYAML+"reveal:\n  reference_file: "+filepath.Join(dir, "nope.sql")+"\n")

	if _, err := config.Load(cfgPath); err == nil || !strings.Contains(err.Error(), "reveal.reference_file") {
		t.Errorf("Load error = %v, want reveal.reference_file error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load error = %v, want os.ErrNotExist", err)
	}
}

func TestReference_DefaultsToBuiltInQuery(t *testing.T) {
	t.Parallel()
	got, err := config.RevealConfig{}.Reference()
	if err != nil || got != reveal.DefaultReference {
		t.Errorf("Reference() = %q, %v", got, err)
	}
}

func TestTranscribeConfig_ResolvedAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	if got := (config.TranscribeConfig{}).ResolvedAPIKey(); got != "sk-env" {
		t.Errorf("ResolvedAPIKey() = %q, want env fallback", got)
	}
	if got := (config.TranscribeConfig{APIKey: "sk-file"}).ResolvedAPIKey(); got != "sk-file" {
		t.Errorf("ResolvedAPIKey() = %q, want configured key", got)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.ASR.Name != "whisper-native" || cfg.Providers.ASR.Model != "ggml-tiny.en.bin" {
		t.Errorf("asr provider = %+v", cfg.Providers.ASR)
	}
	if len(cfg.Providers.ASRFallbacks) != 0 {
		t.Errorf("fallbacks = %+v, want none", cfg.Providers.ASRFallbacks)
	}
	if cfg.Pipeline.RetryDelay != 1500*time.Millisecond || cfg.Reveal.BaseInterval != 30*time.Millisecond {
		t.Errorf("durations = %s, %s", cfg.Pipeline.RetryDelay, cfg.Reveal.BaseInterval)
	}
}
