package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/quacktosql/pkg/provider/asr"
)

// ASRFallback is an [asr.Model] backed by a primary recognizer and ordered
// fallbacks, each guarded by its own [CircuitBreaker].
type ASRFallback struct {
	group *FallbackGroup[asr.Model]
}

var _ asr.Model = (*ASRFallback)(nil)

// NewASRFallback wraps primary. Register fallbacks with AddFallback before
// the first Load.
func NewASRFallback(primary asr.Model, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a recognizer tried after all earlier ones.
func (f *ASRFallback) AddFallback(name string, m asr.Model) {
	f.group.AddFallback(name, m)
}

// Names returns the member names in failover order.
func (f *ASRFallback) Names() []string { return f.group.Names() }

// Load loads every member, forwarding progress from each. It succeeds when
// at least one member loaded. Members that failed stay in the group; their
// Transcribe errors fail over like any other.
func (f *ASRFallback) Load(ctx context.Context, progress asr.ProgressFunc) error {
	var errs []error
	loaded := 0
	for _, m := range f.group.members {
		if err := m.value.Load(ctx, progress); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			f.group.cfg.Logger.Warn("asr model failed to load", "provider", m.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
			continue
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
	}
	return nil
}

// Transcribe runs req on the first member that succeeds. A member that fails
// mid-stream may already have pushed partial text through s; the next member
// streams its own cumulative text from the start.
func (f *ASRFallback) Transcribe(ctx context.Context, req asr.Request, s asr.Streamer) (asr.Result, error) {
	return ExecuteWithResult(f.group, func(m asr.Model) (asr.Result, error) {
		return m.Transcribe(ctx, req, s)
	})
}

// Close closes every member and joins their errors.
func (f *ASRFallback) Close() error {
	var errs []error
	for _, m := range f.group.members {
		if err := m.value.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		}
	}
	return errors.Join(errs...)
}
