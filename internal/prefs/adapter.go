package prefs

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamster-ime/hamster/internal/storage"
)

// Backend is the durable store shared by the processes of one application
// group. Implemented by storage.Store.
type Backend interface {
	GetPreference(key string) (storage.Preference, error)
	SetPreference(p storage.Preference) error
	DeletePreference(key string) error
	Sync() error
}

// Adapter is the single choke point for reading and writing settings in
// the Backend. It keeps the registered defaults in memory, the way a
// registration domain works: they fill absent keys on read and are never
// written to the store.
//
// An Adapter is safe for concurrent use.
type Adapter struct {
	backend  Backend
	instance string
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	defaults Values

	writeBehind bool
	writer      *writer
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// WithInstanceID sets the ID recorded as the writer of every persisted
// value. The default is a random UUID.
func WithInstanceID(id string) AdapterOption {
	return func(a *Adapter) { a.instance = id }
}

// WithWriteBehind persists non-critical settings from a background writer
// instead of on the caller's goroutine.
func WithWriteBehind(enabled bool) AdapterOption {
	return func(a *Adapter) { a.writeBehind = enabled }
}

// NewAdapter creates an Adapter over b.
func NewAdapter(b Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		backend:  b,
		instance: uuid.New().String(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.writeBehind {
		a.writer = newWriter(b, a.logger)
	}
	return a
}

// InstanceID returns the ID this adapter records as the writer of values.
func (a *Adapter) InstanceID() string {
	return a.instance
}

// RegisterDefaults adds defaults for keys that have none yet. It is
// idempotent and never overrides a value written to the store.
func (a *Adapter) RegisterDefaults(v Values) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.defaults == nil {
		a.defaults = make(Values, len(v))
	}
	for k, val := range v {
		if _, ok := a.defaults[k]; !ok {
			a.defaults[k] = cloneValue(val)
		}
	}
}

// Get returns the stored value of name, or its registered default if it was
// never written. A stored value of the wrong kind is treated as corrupt: it
// is logged and the default is returned.
//
// Get panics if no default was registered for name.
func (a *Adapter) Get(name string, kind Kind) any {
	def := a.registeredDefault(name)

	var p storage.Preference
	var found bool
	if a.writer != nil {
		if o, ok := a.writer.lookup(name); ok {
			if o.delete {
				return def
			}
			p, found = o.pref, true
		}
	}
	if !found {
		var err error
		p, err = a.backend.GetPreference(name)
		if errors.Is(err, storage.ErrNotFound) {
			return def
		}
		if err != nil {
			a.logger.Error("reading preference failed, using default", "key", name, "error", err)
			return def
		}
	}

	v, err := decode(kind, p.Kind, p.Value)
	if err != nil {
		a.logger.Warn("stored preference does not match its type, using default",
			"key", name, "kind", kind, "stored_kind", p.Kind, "error", err)
		return def
	}
	if s, ok := Lookup(name); ok {
		if v, err = s.Normalize(v); err != nil {
			a.logger.Warn("stored preference is out of range, using default", "key", name, "error", err)
			return def
		}
	}
	return v
}

func (a *Adapter) registeredDefault(name string) any {
	a.mu.RLock()
	def, ok := a.defaults[name]
	a.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("prefs: read of %q before its default was registered", name))
	}
	return cloneValue(def)
}

// Set persists value under name. Critical settings are written and synced
// before Set returns; others go through the write-behind writer when it is
// enabled. A nil error from a write-behind Set only means the write was
// queued; failures are logged by the writer and reported by Unsynced.
func (a *Adapter) Set(name string, value any) error {
	s, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	raw, err := encode(s.Kind, value)
	if err != nil {
		return err
	}
	p := storage.Preference{
		Key:       name,
		Kind:      string(s.Kind),
		Value:     raw,
		UpdatedAt: a.now(),
		UpdatedBy: a.instance,
	}
	return a.apply(s, op{key: name, pref: p})
}

// Delete removes the stored value of name so reads return the default.
func (a *Adapter) Delete(name string) error {
	s, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	return a.apply(s, op{key: name, delete: true})
}

func (a *Adapter) apply(s *Setting, o op) error {
	if !s.Critical && a.writer != nil && a.writer.enqueue(o) {
		return nil
	}
	if err := o.run(a.backend); err != nil {
		return fmt.Errorf("writing %s: %w", o.key, err)
	}
	if s.Critical {
		if err := a.backend.Sync(); err != nil {
			return fmt.Errorf("syncing %s: %w", o.key, err)
		}
	}
	if a.writer != nil {
		a.writer.clearFailed(o.key)
	}
	return nil
}

// Unsynced reports whether the newest background write to name failed.
// It is always false without write-behind.
func (a *Adapter) Unsynced(name string) bool {
	if a.writer == nil {
		return false
	}
	return a.writer.failedKey(name)
}

// Flush blocks until every queued write has reached the store.
func (a *Adapter) Flush() {
	if a.writer != nil {
		a.writer.flush()
	}
}

// Close drains pending writes and stops the writer. The Backend is owned by
// the caller and is not closed.
func (a *Adapter) Close() error {
	if a.writer != nil {
		a.writer.close()
	}
	return nil
}
