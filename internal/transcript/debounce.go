package transcript

import (
	"sync"
	"time"
)

// Debouncer is a trailing-edge debounce state machine: a pending value and
// the timer that will deliver it.
//
// Schedule replaces the pending value and re-arms the timer; only the last
// value scheduled within the window is delivered. Flush delivers a value at
// once and discards whatever was pending. Deliveries never overlap and happen
// in the order their Schedule/Flush calls were made.
//
// deliver runs with the debouncer's lock held, so it must not call back into
// the Debouncer.
type Debouncer[T any] struct {
	window  time.Duration
	deliver func(T)

	mu      sync.Mutex
	seq     uint64
	timer   *time.Timer
	pending bool
}

// NewDebouncer returns a Debouncer that calls deliver window after the last
// Schedule.
func NewDebouncer[T any](window time.Duration, deliver func(T)) *Debouncer[T] {
	return &Debouncer[T]{window: window, deliver: deliver}
}

// Schedule cancels any pending delivery and arms a new one for v.
func (d *Debouncer[T]) Schedule(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.seq++
	seq := d.seq
	d.pending = true
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		// A later Schedule, Flush or Cancel superseded this timer.
		if seq != d.seq {
			return
		}
		d.pending = false
		d.timer = nil
		d.deliver(v)
	})
}

// Flush cancels any pending delivery and delivers v immediately.
func (d *Debouncer[T]) Flush(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.deliver(v)
}

// Cancel drops the pending value without delivering it.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// Pending reports whether a scheduled value is waiting for delivery.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer[T]) stopLocked() {
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = false
}
