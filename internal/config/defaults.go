package config

import (
	"time"

	"github.com/MrWong99/quacktosql/internal/reveal"
	"github.com/MrWong99/quacktosql/pkg/audio"
)

// Defaults for fields left empty in the YAML file.
const (
	DefaultListenAddr     = ":8080"
	DefaultSampleRate     = 16000
	DefaultMaxDuration    = 20 * time.Second
	DefaultChunkInterval  = 500 * time.Millisecond
	DefaultDebounce       = 100 * time.Millisecond
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 1500 * time.Millisecond
	DefaultResetTimeout   = 2 * time.Second
	DefaultLanguage       = "en"
	DefaultMaxTokens      = 64
	DefaultTranscribeTemp = 0.2
	DefaultMaxUpload      = 25 << 20
	DefaultServiceName    = "quacktosql"
	DefaultMetricsPath    = "/metrics"
)

// DefaultCodecs is the decoder hint order: MediaRecorder containers first,
// then raw formats, then sniffing.
var DefaultCodecs = []string{
	audio.MIMEWebM,
	audio.MIMEWebMOpus,
	audio.MIMEOggOpus,
	audio.MIMEWAV,
	audio.MIMEMPEG,
	"",
}

// ApplyDefaults replaces zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}

	p := &c.Pipeline
	if p.SampleRate == 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.MaxDuration == 0 {
		p.MaxDuration = DefaultMaxDuration
	}
	if p.ChunkInterval == 0 {
		p.ChunkInterval = DefaultChunkInterval
	}
	if p.Debounce == 0 {
		p.Debounce = DefaultDebounce
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.RetryDelay == 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.ResetTimeout == 0 {
		p.ResetTimeout = DefaultResetTimeout
	}
	if p.Codecs == nil {
		p.Codecs = append([]string(nil), DefaultCodecs...)
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}

	r := &c.Reveal
	if r.Keyword == "" {
		r.Keyword = reveal.DefaultKeyword
	}
	if r.DeltaCap == 0 {
		r.DeltaCap = reveal.DefaultDeltaCap
	}
	if r.MaxCount == 0 {
		r.MaxCount = reveal.DefaultMaxCount
	}
	if r.BaseInterval == 0 {
		r.BaseInterval = reveal.DefaultBaseInterval
	}
	if r.IntervalStep == 0 {
		r.IntervalStep = reveal.DefaultIntervalStep
	}
	if r.MinInterval == 0 {
		r.MinInterval = reveal.DefaultMinInterval
	}
	if r.Match == "" {
		r.Match = MatchSubstring
	}

	t := &c.Transcribe
	if t.Temperature == nil {
		temp := DefaultTranscribeTemp
		t.Temperature = &temp
	}
	if t.MaxUploadBytes == 0 {
		t.MaxUploadBytes = DefaultMaxUpload
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Telemetry.MetricsPath == "" {
		c.Telemetry.MetricsPath = DefaultMetricsPath
	}
}
