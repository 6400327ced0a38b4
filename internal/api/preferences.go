package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hamster-ime/hamster/internal/keyboard"
	"github.com/hamster-ime/hamster/internal/prefs"
)

const maxRequestBodySize = 64 << 10 // 64KB

// KeyboardView exposes the live keyboard session.
type KeyboardView interface {
	Context() keyboard.Context
}

// Deps holds the dependencies of the control API.
type Deps struct {
	Prefs    *prefs.Preferences
	Keyboard KeyboardView // optional; /keyboard/context answers 404 when nil
	Token    string
	Logger   *slog.Logger
}

// Preference is the API representation of one setting.
type Preference struct {
	Key         string     `json:"key"`
	Kind        prefs.Kind `json:"kind"`
	Value       any        `json:"value"`
	Default     any        `json:"default"`
	Critical    bool       `json:"critical,omitempty"`
	Description string     `json:"description"`
}

// SetRequest is the body of PUT /preferences/{key}. Value may be given in
// the setting's JSON type or as text in the form the CLI accepts.
type SetRequest struct {
	Value json.RawMessage `json:"value"`
}

// NewHandler returns the control API. Everything except /health requires
// the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/preferences", handleListPreferences(deps))
		r.Post("/preferences/reload", handleReload(deps))
		r.Get("/preferences/events", handleEvents(deps))
		r.Get("/preferences/{key}", handleGetPreference(deps))
		r.Put("/preferences/{key}", handleSetPreference(deps))
		r.Delete("/preferences/{key}", handleResetPreference(deps))
		r.Get("/keyboard/context", handleKeyboardContext(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Describe reports the current value of s along with its schema.
func Describe(p *prefs.Preferences, s *prefs.Setting) Preference {
	v, _ := p.Value(s.Name)
	return Preference{
		Key:         s.Name,
		Kind:        s.Kind,
		Value:       v,
		Default:     s.DefaultValue(),
		Critical:    s.Critical,
		Description: s.Description,
	}
}

func handleListPreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		settings := prefs.Settings()
		out := make([]Preference, len(settings))
		for i, s := range settings {
			out[i] = Describe(deps.Prefs, s)
		}
		writeJSON(w, out)
	}
}

func lookupSetting(w http.ResponseWriter, r *http.Request) (*prefs.Setting, bool) {
	key := chi.URLParam(r, "key")
	s, ok := prefs.Lookup(key)
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "unknown preference %q", key)
		return nil, false
	}
	return s, true
}

func handleGetPreference(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSetting(w, r)
		if !ok {
			return
		}
		writeJSON(w, Describe(deps.Prefs, s))
	}
}

func handleSetPreference(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSetting(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Value) == 0 || bytes.Equal(req.Value, []byte("null")) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "value is required")
			return
		}

		value, err := decodeValue(s, req.Value)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		write, err := deps.Prefs.Stage(s.Name, value)
		if err != nil {
			writePrefsError(w, err)
			return
		}
		write.Commit()
		deps.Logger.Info("preference set via api", "key", s.Name)

		writeJSON(w, Describe(deps.Prefs, s))
	}
}

// decodeValue accepts the setting's JSON type, or a JSON string holding
// text for Setting.Parse when the setting is not a string.
func decodeValue(s *prefs.Setting, raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	if text, ok := v.(string); ok && s.Kind != prefs.KindString {
		return s.Parse(text)
	}
	return v, nil
}

func writePrefsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, prefs.ErrUnknownKey):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, prefs.ErrInvalidValue):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func handleResetPreference(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookupSetting(w, r)
		if !ok {
			return
		}
		if err := deps.Prefs.Reset(s.Name); err != nil {
			writePrefsError(w, err)
			return
		}
		deps.Logger.Info("preference reset via api", "key", s.Name)
		writeJSON(w, Describe(deps.Prefs, s))
	}
}

func handleReload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed := deps.Prefs.Reload()
		if changed == nil {
			changed = []string{}
		}
		writeJSON(w, map[string]any{"changed": changed})
	}
}

// handleEvents streams changes as Server-Sent Events. Repeat the key query
// parameter to restrict the stream to some settings.
func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		keys := r.URL.Query()["key"]
		for _, k := range keys {
			if _, ok := prefs.Lookup(k); !ok {
				httpError(w, http.StatusNotFound, "not_found", "unknown preference %q", k)
				return
			}
		}

		sub := deps.Prefs.Subscribe(keys...)
		defer sub.Cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		fmt.Fprintf(w, ": subscribed %s\n\n", sub.ID())
		flusher.Flush()

		deps.Logger.Debug("event stream opened", "subscription", sub.ID(), "keys", keys)
		defer deps.Logger.Debug("event stream closed", "subscription", sub.ID())

		for {
			select {
			case <-r.Context().Done():
				return
			case c, ok := <-sub.C():
				if !ok {
					return
				}
				payload, err := json.Marshal(c)
				if err != nil {
					deps.Logger.Error("encoding change event", "key", c.Key, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", payload)
				flusher.Flush()
			}
		}
	}
}

func handleKeyboardContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Keyboard == nil {
			httpError(w, http.StatusNotFound, "not_found", "no keyboard session")
			return
		}
		writeJSON(w, deps.Keyboard.Context())
	}
}
