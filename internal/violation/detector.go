package violation

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-proctor/internal/clock"
)

// DefaultBlurDebounce suppresses blur events closer together than this.
const DefaultBlurDebounce = time.Second

// Environment is the observed client: a source of raw signals and a way
// to ask for fullscreen.
type Environment interface {
	Signals() <-chan Signal
	RequestFullscreen() error
}

// Detector maps signals from an Environment to violation kinds and calls
// OnViolation once per mapped physical event.
type Detector struct {
	env          Environment
	clock        clock.Clock
	blurDebounce time.Duration
	onViolation  func(Kind)

	mu       sync.Mutex
	enabled  bool
	lastBlur time.Time
}

// New builds a detector. A non-positive debounce uses DefaultBlurDebounce.
func New(env Environment, c clock.Clock, blurDebounce time.Duration, onViolation func(Kind)) *Detector {
	if blurDebounce <= 0 {
		blurDebounce = DefaultBlurDebounce
	}
	return &Detector{
		env:          env,
		clock:        c,
		blurDebounce: blurDebounce,
		onViolation:  onViolation,
	}
}

// SetEnabled toggles reporting. Signals received while disabled are dropped.
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Enabled reports whether the detector is reporting.
func (d *Detector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Handle maps one signal and reports it when it is a violation.
func (d *Detector) Handle(s Signal) (Kind, bool) {
	kind, ok := classify(s)
	if !ok {
		return "", false
	}

	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return "", false
	}
	if s.Type == SignalBlur {
		now := d.clock.Now()
		if !d.lastBlur.IsZero() && now.Sub(d.lastBlur) <= d.blurDebounce {
			d.mu.Unlock()
			return "", false
		}
		d.lastBlur = now
	}
	d.mu.Unlock()

	if d.onViolation != nil {
		d.onViolation(kind)
	}
	return kind, true
}

// Activate enables reporting and asks the environment for fullscreen.
// A refused fullscreen request is ignored.
func (d *Detector) Activate() {
	d.SetEnabled(true)
	if d.env != nil {
		_ = d.env.RequestFullscreen()
	}
}

// Deactivate stops reporting.
func (d *Detector) Deactivate() {
	d.SetEnabled(false)
}

// Run handles signals until ctx ends or the environment closes its signal
// channel. Signals arriving while the detector is inactive are dropped.
func (d *Detector) Run(ctx context.Context) {
	signals := d.env.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-signals:
			if !ok {
				return
			}
			d.Handle(s)
		}
	}
}
