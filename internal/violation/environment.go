package violation

import (
	"errors"
	"sync"
)

// ErrFullscreenUnsupported is returned by environments that cannot
// request fullscreen.
var ErrFullscreenUnsupported = errors.New("fullscreen not supported")

// ChannelEnvironment is an Environment fed by a transport, typically the
// WebSocket connection of an exam client.
type ChannelEnvironment struct {
	fullscreen func() error

	mu      sync.Mutex
	signals chan Signal
	closed  bool
}

// NewChannelEnvironment buffers up to size signals. requestFullscreen may
// be nil, in which case fullscreen requests fail.
func NewChannelEnvironment(size int, requestFullscreen func() error) *ChannelEnvironment {
	return &ChannelEnvironment{
		signals:    make(chan Signal, size),
		fullscreen: requestFullscreen,
	}
}

// Signals implements Environment.
func (e *ChannelEnvironment) Signals() <-chan Signal { return e.signals }

// RequestFullscreen implements Environment.
func (e *ChannelEnvironment) RequestFullscreen() error {
	if e.fullscreen == nil {
		return ErrFullscreenUnsupported
	}
	return e.fullscreen()
}

// Push delivers a signal. It reports false after Close or when the
// buffer is full.
func (e *ChannelEnvironment) Push(s Signal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.signals <- s:
		return true
	default:
		return false
	}
}

// Close stops accepting signals. Detectors reading from it exit.
func (e *ChannelEnvironment) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.signals)
	}
}
