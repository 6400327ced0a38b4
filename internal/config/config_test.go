package config

import (
	"errors"
	"strconv"
	"strings"
	"testing"
)

// mockBackend is an in-memory ConfigBackend.
type mockBackend struct {
	data    map[string]string
	readErr error
}

func newMockBackend(kv map[string]string) *mockBackend {
	if kv == nil {
		kv = make(map[string]string)
	}
	return &mockBackend{data: kv}
}

func (m *mockBackend) GetString(key string) (string, bool, error) {
	if m.readErr != nil {
		return "", false, m.readErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockBackend) GetInt(key string) (int, bool, error) {
	if m.readErr != nil {
		return 0, false, m.readErr
	}
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, err
	}
	return i, true, nil
}

func (m *mockBackend) SetString(key, val string) error {
	m.data[key] = val
	return nil
}

func (m *mockBackend) SetInt(key string, val int) error {
	m.data[key] = strconv.Itoa(val)
	return nil
}

func (m *mockBackend) Delete(key string) error {
	delete(m.data, key)
	return nil
}

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	secrets map[string]string
	setErr  error
	sets    int
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.secrets[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.secrets == nil {
		m.secrets = make(map[string]string)
	}
	m.secrets[service+"/"+account] = value
	m.sets++
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMockBackend(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4700 {
		t.Errorf("Server.Port = %d, want 4700", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 16 {
		t.Errorf("Server.MaxConns = %d, want 16", cfg.Server.MaxConns)
	}
	if cfg.Storage.AppGroup != "group.dev.hamster.keyboard" {
		t.Errorf("Storage.AppGroup = %q", cfg.Storage.AppGroup)
	}
	if !strings.Contains(cfg.DataDir(), "group.dev.hamster.keyboard") {
		t.Errorf("DataDir() = %q, want it scoped to the app group", cfg.DataDir())
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Keyboard.Idiom != "phone" {
		t.Errorf("Keyboard.Idiom = %q, want phone", cfg.Keyboard.Idiom)
	}
	if !cfg.Prefs.WriteBehind {
		t.Error("Prefs.WriteBehind = false, want true")
	}
}

// TestBackendValues verifies that every key is read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMockBackend(map[string]string{
		"server.port":        "5000",
		"server.max_conns":   "4",
		"storage.app_group":  "group.test",
		"storage.data_dir":   "/tmp/hamster-test",
		"log.level":          "debug",
		"keyboard.idiom":     "pad",
		"prefs.write_behind": "false",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 || cfg.Server.MaxConns != 4 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.DataDir() != "/tmp/hamster-test" {
		t.Errorf("DataDir() = %q, want the explicit directory", cfg.DataDir())
	}
	if cfg.Log.Level != "debug" || cfg.Keyboard.Idiom != "pad" || cfg.Prefs.WriteBehind {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("HAMSTER_SERVER_PORT", "6000")
	t.Setenv("HAMSTER_PREFS_WRITE_BEHIND", "0")
	t.Setenv("HAMSTER_STORAGE_APP_GROUP", "group.env")

	cfg, err := loadWith(newMockBackend(map[string]string{"server.port": "5000"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Prefs.WriteBehind {
		t.Error("Prefs.WriteBehind = true, want false from env")
	}
	if !strings.Contains(cfg.DataDir(), "group.env") {
		t.Errorf("DataDir() = %q, want it to follow the app group", cfg.DataDir())
	}
}

// TestUnparsableValuesKeepDefaults verifies that bad values warn and fall back.
func TestUnparsableValuesKeepDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HAMSTER_SERVER_MAX_CONNS", "lots")

	cfg, err := loadWith(newMockBackend(map[string]string{"prefs.write_behind": "sometimes"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Prefs.WriteBehind {
		t.Error("Prefs.WriteBehind should keep its default")
	}
	if cfg.Server.MaxConns != 16 {
		t.Errorf("Server.MaxConns = %d, want default 16", cfg.Server.MaxConns)
	}
}

func TestBackendReadError(t *testing.T) {
	clearEnv(t)
	b := newMockBackend(nil)
	b.readErr = errors.New("defaults unavailable")

	if _, err := loadWith(b); err == nil {
		t.Fatal("expected error from failing backend")
	}
}

func TestValidation(t *testing.T) {
	tests := []map[string]string{
		{"server.port": "70000"},
		{"server.max_conns": "0"},
		{"log.level": "verbose"},
		{"keyboard.idiom": "watch"},
		{"storage.app_group": ""},
	}
	for _, kv := range tests {
		clearEnv(t)
		if _, err := loadWith(newMockBackend(kv)); err == nil {
			t.Errorf("%v: expected validation error", kv)
		} else if !strings.Contains(err.Error(), "invalid config") {
			t.Errorf("%v: error = %q", kv, err)
		}
	}
}

func TestSetKey(t *testing.T) {
	b := newMockBackend(nil)

	if err := setKeyWith(b, "server.port", "4800"); err != nil {
		t.Fatalf("setKeyWith(server.port): %v", err)
	}
	if err := setKeyWith(b, "prefs.write_behind", "FALSE"); err != nil {
		t.Fatalf("setKeyWith(prefs.write_behind): %v", err)
	}
	if err := setKeyWith(b, "keyboard.idiom", "pad"); err != nil {
		t.Fatalf("setKeyWith(keyboard.idiom): %v", err)
	}

	if b.data["server.port"] != "4800" || b.data["prefs.write_behind"] != "false" || b.data["keyboard.idiom"] != "pad" {
		t.Errorf("backend = %v", b.data)
	}

	if err := setKeyWith(b, "server.port", "high"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, "prefs.write_behind", "maybe"); err == nil {
		t.Error("expected error for non-boolean")
	}
	if err := setKeyWith(b, "no.such.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestUnsetKey(t *testing.T) {
	b := newMockBackend(map[string]string{"log.level": "debug"})
	if err := unsetKeyWith(b, "log.level"); err != nil {
		t.Fatalf("unsetKeyWith: %v", err)
	}
	if _, ok := b.data["log.level"]; ok {
		t.Error("log.level still set")
	}
	if err := unsetKeyWith(b, "nope"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAll(t *testing.T) {
	cfg := defaults()
	infos := ShowAll(cfg)
	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d keys, want %d", len(infos), len(ValidKeys()))
	}
	for _, info := range infos {
		if !strings.HasPrefix(info.EnvVar, "HAMSTER_") {
			t.Errorf("%s: env var %q lacks HAMSTER_ prefix", info.Key, info.EnvVar)
		}
		if info.Key == "storage.data_dir" && info.Value != cfg.DataDir() {
			t.Errorf("storage.data_dir shown as %q, want resolved %q", info.Value, cfg.DataDir())
		}
	}
}

func TestAPIToken_GeneratedOnce(t *testing.T) {
	kc := &mockKeychain{}

	tok, err := APIToken(kc)
	if err != nil {
		t.Fatalf("APIToken: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(tok))
	}

	again, err := APIToken(kc)
	if err != nil {
		t.Fatalf("APIToken: %v", err)
	}
	if again != tok {
		t.Error("second call generated a new token")
	}
	if kc.sets != 1 {
		t.Errorf("keychain written %d times, want 1", kc.sets)
	}
}

func TestAPIToken_StoreFailure(t *testing.T) {
	kc := &mockKeychain{setErr: errors.New("locked")}
	if _, err := APIToken(kc); err == nil {
		t.Fatal("expected error when the keychain cannot store the token")
	}
}

func TestStoredAPIToken_DoesNotGenerate(t *testing.T) {
	kc := &mockKeychain{}
	if _, err := StoredAPIToken(kc); !errors.Is(err, ErrNoAPIToken) {
		t.Fatalf("StoredAPIToken error = %v, want ErrNoAPIToken", err)
	}
	if kc.sets != 0 {
		t.Errorf("keychain written %d times by a lookup, want 0", kc.sets)
	}

	tok, err := APIToken(kc)
	if err != nil {
		t.Fatalf("APIToken: %v", err)
	}
	got, err := StoredAPIToken(kc)
	if err != nil {
		t.Fatalf("StoredAPIToken: %v", err)
	}
	if got != tok {
		t.Errorf("StoredAPIToken = %q, want %q", got, tok)
	}
}
