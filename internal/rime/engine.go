package rime

import (
	"errors"
	"log/slog"
	"sync"
)

// Engine abstracts the RIME input method engine. The native library does
// candidate generation and schema compilation; the preference layer only
// starts it and toggles the character set it emits.
type Engine interface {
	// Launch starts the engine. It may be called again after a failure.
	Launch() error

	// SimplifiedChineseMode forwards the switchTraditionalChinese preference
	// to the engine and reports whether the engine accepted it.
	SimplifiedChineseMode(traditional bool) bool
}

// ErrNotLaunched is returned by Headless operations that need a running engine.
var ErrNotLaunched = errors.New("rime engine not launched")

// Headless is an Engine for hosts without a native RIME binding, such as
// the control daemon. It keeps the requested mode so callers can inspect it.
type Headless struct {
	logger *slog.Logger

	mu          sync.Mutex
	launched    bool
	traditional bool
	switches    int
}

// NewHeadless creates a Headless engine. A nil logger means slog.Default().
func NewHeadless(logger *slog.Logger) *Headless {
	if logger == nil {
		logger = slog.Default()
	}
	return &Headless{logger: logger}
}

func (h *Headless) Launch() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.launched {
		h.launched = true
		h.logger.Info("rime engine launched", "mode", "headless")
	}
	return nil
}

// SimplifiedChineseMode refuses the switch until Launch has succeeded.
func (h *Headless) SimplifiedChineseMode(traditional bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.launched {
		h.logger.Warn("ignoring mode switch", "error", ErrNotLaunched)
		return false
	}
	h.traditional = traditional
	h.switches++
	h.logger.Debug("rime output mode switched", "traditional", traditional)
	return true
}

// Traditional reports the last accepted mode.
func (h *Headless) Traditional() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.traditional
}

// Switches counts accepted mode switches.
func (h *Headless) Switches() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.switches
}
