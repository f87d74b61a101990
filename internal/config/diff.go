package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they take effect
// for recording sessions started after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PipelineChanged bool
	RevealChanged   bool

	// RestartRequired is true when a field outside the hot-reloadable set
	// changed (listen address, TLS, providers, transcribe endpoint).
	RestartRequired bool
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.RevealChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PipelineChanged = !pipelineEqual(old.Pipeline, new.Pipeline)
	d.RevealChanged = old.Reveal != new.Reveal

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) ||
		!providerEqual(old.Providers.ASR, new.Providers.ASR) ||
		!slices.EqualFunc(old.Providers.ASRFallbacks, new.Providers.ASRFallbacks, providerEqual) ||
		!transcribeEqual(old.Transcribe, new.Transcribe) ||
		old.Telemetry != new.Telemetry {
		d.RestartRequired = true
	}
	return d
}

func pipelineEqual(a, b PipelineConfig) bool {
	codecsA, codecsB := a.Codecs, b.Codecs
	a.Codecs, b.Codecs = nil, nil
	return reflect.DeepEqual(a, b) && slices.Equal(codecsA, codecsB)
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}

func transcribeEqual(a, b TranscribeConfig) bool {
	ta, tb := a.Temperature, b.Temperature
	a.Temperature, b.Temperature = nil, nil
	if a != b {
		return false
	}
	if ta == nil || tb == nil {
		return ta == tb
	}
	return *ta == *tb
}
