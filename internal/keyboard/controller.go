package keyboard

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hamster-ime/hamster/internal/prefs"
	"github.com/hamster-ime/hamster/internal/rime"
)

// Controller runs one keyboard session: it launches the engine, keeps the
// session Context current and drives the RIME bridge.
type Controller struct {
	prefs  *prefs.Preferences
	engine rime.Engine
	idiom  Idiom
	logger *slog.Logger

	mu       sync.RWMutex
	ctx      Context
	started  bool
	onUpdate func(Context)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// OnUpdate registers fn to be called with every rebuilt Context.
func OnUpdate(fn func(Context)) Option {
	return func(c *Controller) { c.onUpdate = fn }
}

// NewController creates a Controller for a device of the given idiom.
func NewController(p *prefs.Preferences, e rime.Engine, idiom Idiom, opts ...Option) *Controller {
	c := &Controller{
		prefs:  p,
		engine: e,
		idiom:  idiom,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the session. An engine that fails to launch is logged and
// the session continues without it. Start picks up writes other processes
// made since the preferences were loaded.
func (c *Controller) Start() Context {
	if err := c.engine.Launch(); err != nil {
		c.logger.Error("rime engine failed to launch", "error", err)
	}
	c.prefs.Reload()

	ctx := BuildContext(c.prefs, c.idiom)
	c.mu.Lock()
	c.ctx = ctx
	c.started = true
	c.mu.Unlock()

	c.logger.Info("keyboard session started",
		"idiom", c.idiom, "locale", ctx.Locale, "callout", ctx.CalloutEnabled, "page_size", ctx.PageSize)
	return ctx
}

// Context returns the current session Context.
func (c *Controller) Context() Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctx := c.ctx
	ctx.Gestures = make(map[string]Gesture, len(c.ctx.Gestures))
	for k, g := range c.ctx.Gestures {
		ctx.Gestures[k] = g
	}
	return ctx
}

// Run starts the session if needed and keeps it current until ctx is
// cancelled or the preferences are closed.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		c.Start()
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rime.NewBridge(c.prefs, c.engine).WithLogger(c.logger).Run(gCtx)
	})
	g.Go(func() error {
		return c.watch(gCtx)
	})
	return g.Wait()
}

func (c *Controller) watch(ctx context.Context) error {
	sub := c.prefs.Subscribe(watched...)
	defer sub.Cancel()

	// A change may have landed between Start and Subscribe.
	c.rebuild("subscribe")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-sub.C():
			if !ok {
				return nil
			}
			c.rebuild(ch.Key)
		}
	}
}

func (c *Controller) rebuild(cause string) {
	next := BuildContext(c.prefs, c.idiom)

	c.mu.Lock()
	if reflect.DeepEqual(c.ctx, next) {
		c.mu.Unlock()
		return
	}
	c.ctx = next
	fn := c.onUpdate
	c.mu.Unlock()

	c.logger.Debug("keyboard context updated", "cause", cause, "callout", next.CalloutEnabled)
	if fn != nil {
		fn(next)
	}
}
