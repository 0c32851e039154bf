// Package watcher reloads the catalog when it changes on disk.
package watcher

import (
	"sync"
	"time"
)

// DefaultDebounceDuration is the default quiet period before a reload.
const DefaultDebounceDuration = 200 * time.Millisecond

// Debouncer runs a fixed action once a burst of triggers has been quiet
// for the debounce duration.
type Debouncer struct {
	duration time.Duration
	action   func()

	mu    sync.Mutex
	timer *time.Timer
	seq   uint64
	fired uint64
}

// NewDebouncer creates a Debouncer for action. A zero duration uses
// DefaultDebounceDuration.
func NewDebouncer(duration time.Duration, action func()) *Debouncer {
	if duration <= 0 {
		duration = DefaultDebounceDuration
	}
	return &Debouncer{
		duration: duration,
		action:   action,
	}
}

// Trigger (re)starts the quiet period
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	seq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, func() {
		if !d.claim(seq) {
			return
		}
		d.action()
	})
}

// claim reports whether seq is still the latest trigger. A timer that
// fired while a newer Trigger stopped it loses here.
func (d *Debouncer) claim(seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if seq != d.seq {
		return false
	}
	d.timer = nil
	d.fired++
	return true
}

// Flush runs a pending action now instead of waiting
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.seq++
	d.fired++
	d.mu.Unlock()

	d.action()
	return true
}

// Pending reports whether an action is scheduled
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Fired returns how many times the action has run
func (d *Debouncer) Fired() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Stop drops any pending action
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Duration returns the debounce duration.
func (d *Debouncer) Duration() time.Duration {
	return d.duration
}
