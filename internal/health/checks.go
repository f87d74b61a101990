package health

import (
	"context"
	"errors"

	"github.com/MrWong99/quacktosql/internal/config"
)

var (
	errModelNotReady = errors.New("model not loaded")
	errNoConfig      = errors.New("no configuration loaded")
)

// ModelChecker reports whether the shared ASR model is ready. With lazy
// loading an unloaded model is fine: the first client loads it.
func ModelChecker(ready func() bool, lazy bool) Checker {
	return Checker{
		Name: "model",
		Check: func(context.Context) (string, error) {
			switch {
			case ready():
				return "loaded", nil
			case lazy:
				return "lazy", nil
			}
			return "loading", errModelNotReady
		},
	}
}

// ConfigChecker validates the active configuration. The detail names the
// ASR provider and the reveal keyword.
func ConfigChecker(current func() *config.Config) Checker {
	return Checker{
		Name: "config",
		Check: func(context.Context) (string, error) {
			cfg := current()
			if cfg == nil {
				return "", errNoConfig
			}
			detail := cfg.Providers.ASR.Name + "/" + cfg.Reveal.Keyword
			return detail, config.Validate(cfg)
		},
	}
}
