package prefs

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Preferences is the in-memory view of every setting for one process. It is
// hydrated from the Adapter once at construction; reads never touch the
// store afterwards.
//
// Each process should own exactly one Preferences and route every write
// through it. Writing the store directly makes the cache drift from it.
// Writes made by another process become visible only after Reload.
type Preferences struct {
	adapter *Adapter
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	values Values
	bus    *bus

	// unsynced holds keys whose last write failed to persist. Reload leaves
	// them alone until a later write to the key succeeds.
	unsynced map[string]bool
}

// Option configures Preferences.
type Option func(*Preferences)

// WithPreferencesLogger sets the logger. The default is slog.Default().
func WithPreferencesLogger(l *slog.Logger) Option {
	return func(p *Preferences) { p.logger = l }
}

// New registers the schema defaults with a and loads every setting.
func New(a *Adapter, opts ...Option) *Preferences {
	p := &Preferences{
		adapter: a,
		logger:  slog.Default(),
		now:     time.Now,
		bus:     newBus(),

		unsynced: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	a.RegisterDefaults(Defaults())
	p.values = p.load()
	return p
}

func (p *Preferences) load() Values {
	v := make(Values, len(ordered))
	for _, s := range ordered {
		v[s.Name] = p.adapter.Get(s.Name, s.Kind)
	}
	return v
}

// Get returns the current value of k.
func Get[T Value](p *Preferences, k Key[T]) T {
	v, _ := p.Value(k.name)
	return v.(T)
}

// Set writes v to k. The only possible error is a validation error; a
// failure to persist is logged and the new value stays in effect for the
// life of the process.
func Set[T Value](p *Preferences, k Key[T], v T) error {
	w, err := p.Stage(k.name, v)
	if err != nil {
		return err
	}
	w.Commit()
	return nil
}

// Value returns the current value of name.
func (p *Preferences) Value(name string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[name]
	return cloneValue(v), ok
}

// Snapshot returns a copy of every current value.
func (p *Preferences) Snapshot() Values {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(Values, len(p.values))
	for k, v := range p.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Write is a validated value waiting to be committed.
type Write struct {
	p       *Preferences
	setting *Setting
	value   any
	once    sync.Once
}

// Key returns the setting the write targets.
func (w *Write) Key() string { return w.setting.Name }

// Value returns the validated value.
func (w *Write) Value() any { return cloneValue(w.value) }

// Stage validates v for name without changing anything.
func (p *Preferences) Stage(name string, v any) (*Write, error) {
	s, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	nv, err := s.Normalize(v)
	if err != nil {
		return nil, err
	}
	return &Write{p: p, setting: s, value: nv}, nil
}

// Commit updates the in-memory value, persists it and publishes one Change.
// Committing the same Write again does nothing.
func (w *Write) Commit() {
	w.once.Do(func() {
		w.p.commit(w.setting, w.value, OriginWrite, func() error {
			return w.p.adapter.Set(w.setting.Name, w.value)
		})
	})
}

func (p *Preferences) commit(s *Setting, value any, origin Origin, persist func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.values[s.Name]
	p.values[s.Name] = cloneValue(value)

	if err := persist(); err != nil {
		p.unsynced[s.Name] = true
		p.logger.Error("persisting preference failed, keeping in-memory value",
			"key", s.Name, "error", err)
	} else {
		delete(p.unsynced, s.Name)
		p.logger.Debug("preference updated", "key", s.Name, "value", value, "origin", origin)
	}

	p.bus.publish(Change{Key: s.Name, Value: value, Previous: prev, Origin: origin, At: p.now()})
}

// Reset restores name to its default and removes the stored value.
func (p *Preferences) Reset(name string) error {
	s, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	p.commit(s, cloneValue(s.Default), OriginReset, func() error {
		return p.adapter.Delete(s.Name)
	})
	return nil
}

// ResetAll restores every setting to its default.
func (p *Preferences) ResetAll() {
	for _, s := range Settings() {
		_ = p.Reset(s.Name)
	}
}

// Reload re-reads every setting from the store and publishes a Change for
// each one whose value differs from the cached value. It returns the keys
// that changed. Keys whose last write failed to persist keep their
// in-memory value.
func (p *Preferences) Reload() []string {
	p.adapter.Flush()

	// Loading under the lock keeps a concurrent Commit from being
	// overwritten by the value it replaced.
	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := p.load()

	var changed []string
	for _, s := range Settings() {
		if p.unsynced[s.Name] || p.adapter.Unsynced(s.Name) {
			continue
		}
		prev, next := p.values[s.Name], fresh[s.Name]
		if reflect.DeepEqual(prev, next) {
			continue
		}
		p.values[s.Name] = next
		changed = append(changed, s.Name)
		p.bus.publish(Change{Key: s.Name, Value: next, Previous: prev, Origin: OriginReload, At: p.now()})
	}
	if len(changed) > 0 {
		p.logger.Info("preferences reloaded", "changed", changed)
	}
	return changed
}

// Subscribe registers for changes to the named keys, or to every key when
// none are given. Call Cancel on the result when done.
func (p *Preferences) Subscribe(keys ...string) *Subscription {
	return p.bus.subscribe(keys)
}

// Subscribers reports the number of active subscriptions.
func (p *Preferences) Subscribers() int {
	return p.bus.len()
}

// Close cancels every subscription and drains pending writes.
func (p *Preferences) Close() error {
	p.bus.closeAll()
	return p.adapter.Close()
}
