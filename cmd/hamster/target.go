package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hamster-ime/hamster/internal/api"
	"github.com/hamster-ime/hamster/internal/config"
	"github.com/hamster-ime/hamster/internal/prefs"
	"github.com/hamster-ime/hamster/internal/storage"
)

// prefsTarget is where the prefs commands read and write: the running
// daemon when it answers, otherwise the shared store directly.
type prefsTarget interface {
	list(ctx context.Context) ([]api.Preference, error)
	get(ctx context.Context, key string) (api.Preference, error)
	set(ctx context.Context, key string, v any) (api.Preference, error)
	reset(ctx context.Context, key string) (api.Preference, error)
	close() error
}

// openTarget prefers the daemon so that its subscribers see the write at
// once. With local set, or when no daemon answers, the store is opened in
// this process.
func openTarget(ctx context.Context, local bool) (prefsTarget, error) {
	if !local {
		if c := daemonClient(ctx); c != nil {
			return &daemonTarget{client: c}, nil
		}
	}
	return openLocalTarget()
}

// daemonClient returns a client for the running daemon, or nil when none
// answers the health check.
func daemonClient(ctx context.Context) *apiClient {
	c, err := newAPIClient()
	if err != nil {
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := c.get(hctx, "/health")
	if err != nil {
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	return c
}

type daemonTarget struct {
	client *apiClient
}

func (t *daemonTarget) list(ctx context.Context) ([]api.Preference, error) {
	resp, err := t.client.get(ctx, "/preferences")
	if err != nil {
		return nil, err
	}
	var out []api.Preference
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *daemonTarget) get(ctx context.Context, key string) (api.Preference, error) {
	resp, err := t.client.get(ctx, "/preferences/"+url.PathEscape(key))
	if err != nil {
		return api.Preference{}, err
	}
	return decodePreference(resp)
}

func (t *daemonTarget) set(ctx context.Context, key string, v any) (api.Preference, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return api.Preference{}, fmt.Errorf("encoding %s: %w", key, err)
	}
	resp, err := t.client.put(ctx, "/preferences/"+url.PathEscape(key), api.SetRequest{Value: raw})
	if err != nil {
		return api.Preference{}, err
	}
	return decodePreference(resp)
}

func (t *daemonTarget) reset(ctx context.Context, key string) (api.Preference, error) {
	resp, err := t.client.delete(ctx, "/preferences/"+url.PathEscape(key))
	if err != nil {
		return api.Preference{}, err
	}
	return decodePreference(resp)
}

func (t *daemonTarget) close() error { return nil }

func decodePreference(resp *http.Response) (api.Preference, error) {
	var out api.Preference
	if err := decodeJSON(resp, &out); err != nil {
		return api.Preference{}, err
	}
	return out, nil
}

type localTarget struct {
	store *storage.Store
	prefs *prefs.Preferences
	dirty bool
}

func openLocalTarget() (*localTarget, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	a := prefs.NewAdapter(store,
		prefs.WithLogger(logger),
		prefs.WithInstanceID("cli-"+uuid.NewString()),
		prefs.WithWriteBehind(cfg.Prefs.WriteBehind),
	)
	return &localTarget{store: store, prefs: prefs.New(a, prefs.WithPreferencesLogger(logger))}, nil
}

func (t *localTarget) list(context.Context) ([]api.Preference, error) {
	all := prefs.Settings()
	out := make([]api.Preference, len(all))
	for i, s := range all {
		out[i] = api.Describe(t.prefs, s)
	}
	return out, nil
}

func (t *localTarget) get(_ context.Context, key string) (api.Preference, error) {
	s, ok := prefs.Lookup(key)
	if !ok {
		return api.Preference{}, fmt.Errorf("%w: %s", prefs.ErrUnknownKey, key)
	}
	return api.Describe(t.prefs, s), nil
}

func (t *localTarget) set(_ context.Context, key string, v any) (api.Preference, error) {
	w, err := t.prefs.Stage(key, v)
	if err != nil {
		return api.Preference{}, err
	}
	w.Commit()
	t.dirty = true
	s, _ := prefs.Lookup(key)
	return api.Describe(t.prefs, s), nil
}

func (t *localTarget) reset(_ context.Context, key string) (api.Preference, error) {
	if err := t.prefs.Reset(key); err != nil {
		return api.Preference{}, err
	}
	t.dirty = true
	s, _ := prefs.Lookup(key)
	return api.Describe(t.prefs, s), nil
}

// close drains pending writes. If anything was written it then asks a
// daemon that was bypassed to reload; failure to reach one is ignored.
func (t *localTarget) close() error {
	err := t.prefs.Close()
	if cerr := t.store.Close(); err == nil {
		err = cerr
	}
	if t.dirty && err == nil {
		notifyDaemon()
	}
	return err
}

func notifyDaemon() {
	c, err := newAPIClient()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.post(ctx, "/preferences/reload", nil)
	if err != nil {
		return
	}
	var result struct {
		Changed []string `json:"changed"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		printWarning("daemon did not reload: %v", err)
		return
	}
	printStep("Daemon reloaded %d preference(s)", len(result.Changed))
}
