package rime

import (
	"context"
	"log/slog"

	"github.com/hamster-ime/hamster/internal/prefs"
)

// Bridge keeps the engine's output mode in step with the
// switchTraditionalChinese preference.
type Bridge struct {
	prefs  *prefs.Preferences
	engine Engine
	logger *slog.Logger
}

// NewBridge creates a Bridge between p and e.
func NewBridge(p *prefs.Preferences, e Engine) *Bridge {
	return &Bridge{prefs: p, engine: e, logger: slog.Default()}
}

// WithLogger sets the logger and returns b.
func (b *Bridge) WithLogger(l *slog.Logger) *Bridge {
	b.logger = l
	return b
}

// Run applies the current value, then forwards every change until ctx is
// cancelled or the subscription is closed.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.prefs.Subscribe(prefs.SwitchTraditionalChinese.Name())
	defer sub.Cancel()

	b.apply(prefs.Get(b.prefs, prefs.SwitchTraditionalChinese))

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-sub.C():
			if !ok {
				return nil
			}
			traditional, _ := c.Value.(bool)
			b.apply(traditional)
		}
	}
}

func (b *Bridge) apply(traditional bool) {
	if !b.engine.SimplifiedChineseMode(traditional) {
		b.logger.Warn("rime engine rejected output mode", "traditional", traditional)
		return
	}
	b.logger.Debug("rime output mode applied", "traditional", traditional)
}
