package keyboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hamster-ime/hamster/internal/prefs"
	"github.com/hamster-ime/hamster/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockEngine struct {
	mu        sync.Mutex
	launchErr error
	launches  int
	modes     []bool
}

func (m *mockEngine) Launch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launches++
	return m.launchErr
}

func (m *mockEngine) SimplifiedChineseMode(traditional bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes = append(m.modes, traditional)
	return true
}

func (m *mockEngine) lastMode() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.modes) == 0 {
		return false, false
	}
	return m.modes[len(m.modes)-1], true
}

func openPrefs(t *testing.T, dir string) *prefs.Preferences {
	t.Helper()
	store, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	p := prefs.New(prefs.NewAdapter(store, prefs.WithLogger(discard)), prefs.WithPreferencesLogger(discard))
	t.Cleanup(func() {
		p.Close()
		store.Close()
	})
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseIdiom(t *testing.T) {
	if i, err := ParseIdiom(" Phone "); err != nil || i != IdiomPhone {
		t.Errorf("ParseIdiom(Phone) = %q, %v", i, err)
	}
	if i, err := ParseIdiom("pad"); err != nil || i != IdiomPad {
		t.Errorf("ParseIdiom(pad) = %q, %v", i, err)
	}
	if _, err := ParseIdiom("watch"); err == nil {
		t.Error("ParseIdiom(watch) should fail")
	}
}

func TestBuildContextDefaults(t *testing.T) {
	p := openPrefs(t, ":memory:")
	c := BuildContext(p, IdiomPhone)

	if c.Locale != "zh-Hans" {
		t.Errorf("Locale = %q, want zh-Hans", c.Locale)
	}
	if !c.CalloutEnabled {
		t.Error("callout should be enabled on phone by default")
	}
	if c.PageSize != 9 {
		t.Errorf("PageSize = %d, want 9", c.PageSize)
	}
	if c.SpaceLeft != "，" || c.SpaceRight != "。" {
		t.Errorf("space buttons = %q/%q", c.SpaceLeft, c.SpaceRight)
	}
	if c.HapticIntensity != prefs.HapticMedium {
		t.Errorf("HapticIntensity = %d, want medium", c.HapticIntensity)
	}
	if c.ColorSchema != "" {
		t.Errorf("ColorSchema = %q, want empty", c.ColorSchema)
	}
	if len(c.Gestures) != 0 {
		t.Errorf("Gestures = %v, want empty", c.Gestures)
	}
}

func TestCalloutRequiresPhoneAndBubble(t *testing.T) {
	p := openPrefs(t, ":memory:")

	if BuildContext(p, IdiomPad).CalloutEnabled {
		t.Error("callout enabled on pad")
	}
	if err := prefs.Set(p, prefs.ShowKeyPressBubble, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if BuildContext(p, IdiomPhone).CalloutEnabled {
		t.Error("callout enabled with showKeyPressBubble off")
	}
}

func TestColorSchemaOnlyWhenEnabled(t *testing.T) {
	p := openPrefs(t, ":memory:")
	if err := prefs.Set(p, prefs.RimeColorSchema, "solarized"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := BuildContext(p, IdiomPhone).ColorSchema; got != "" {
		t.Errorf("ColorSchema = %q while disabled", got)
	}
	if err := prefs.Set(p, prefs.EnableRimeColorSchema, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := BuildContext(p, IdiomPhone).ColorSchema; got != "solarized" {
		t.Errorf("ColorSchema = %q, want solarized", got)
	}
}

func TestResolveGestures(t *testing.T) {
	got := ResolveGestures(map[string]string{
		"Q":  "!",
		"w":  "#行首",
		"E":  "#繁简切换",
		"AB": "1",
		"Ab": "2",
		"C":  "upper",
		"c":  "lower",
	})
	want := map[string]Gesture{
		"q":  {Symbol: "!"},
		"w":  {Function: prefs.SlideBeginOfSentence},
		"e":  {Function: prefs.SlideSimplifiedTraditionalSwitch},
		"ab": {Symbol: "1"},
		"c":  {Symbol: "lower"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ResolveGestures mismatch (-want +got):\n%s", diff)
	}
	if !got["w"].IsFunction() || got["q"].IsFunction() {
		t.Error("IsFunction mismatch")
	}
}

func TestGesturesIgnoredWhenSlideSymbolsDisabled(t *testing.T) {
	p := openPrefs(t, ":memory:")
	if err := prefs.Set(p, prefs.KeyboardUpAndDownSlideSymbol, map[string]string{"a": "@"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if n := len(BuildContext(p, IdiomPhone).Gestures); n != 1 {
		t.Fatalf("Gestures has %d entries, want 1", n)
	}
	if err := prefs.Set(p, prefs.EnableKeyboardUpAndDownSlideSymbol, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if n := len(BuildContext(p, IdiomPhone).Gestures); n != 0 {
		t.Errorf("Gestures has %d entries while disabled", n)
	}
}

func TestStartSurvivesEngineLaunchFailure(t *testing.T) {
	p := openPrefs(t, ":memory:")
	e := &mockEngine{launchErr: errors.New("schema compile failed")}

	c := NewController(p, e, IdiomPhone, WithLogger(discard))
	ctx := c.Start()

	if e.launches != 1 {
		t.Errorf("Launch called %d times, want 1", e.launches)
	}
	if ctx.PageSize != 9 {
		t.Errorf("session context not built: %+v", ctx)
	}
}

func TestStartPicksUpOtherProcessWrites(t *testing.T) {
	dir := t.TempDir()
	keyboardPrefs := openPrefs(t, dir)
	appPrefs := openPrefs(t, dir)

	if err := prefs.Set(appPrefs, prefs.RimePageSize, 5); err != nil {
		t.Fatalf("Set: %v", err)
	}

	c := NewController(keyboardPrefs, &mockEngine{}, IdiomPhone, WithLogger(discard))
	if got := c.Start().PageSize; got != 5 {
		t.Errorf("PageSize = %d, want 5 from the other process", got)
	}
}

func TestRunTracksChanges(t *testing.T) {
	p := openPrefs(t, ":memory:")
	e := &mockEngine{}

	var mu sync.Mutex
	var updates []Context
	c := NewController(p, e, IdiomPhone, WithLogger(discard), OnUpdate(func(ctx Context) {
		mu.Lock()
		updates = append(updates, ctx)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "subscriptions", func() bool { return p.Subscribers() == 2 })

	if err := prefs.Set(p, prefs.ShowKeyPressBubble, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitFor(t, "callout disabled", func() bool { return !c.Context().CalloutEnabled })

	if err := prefs.Set(p, prefs.SwitchTraditionalChinese, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	waitFor(t, "engine switched to traditional", func() bool {
		m, ok := e.lastMode()
		return ok && m
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 || updates[len(updates)-1].CalloutEnabled {
		t.Errorf("OnUpdate did not report the callout change: %+v", updates)
	}
}

func TestContextReturnsCopy(t *testing.T) {
	p := openPrefs(t, ":memory:")
	if err := prefs.Set(p, prefs.KeyboardUpAndDownSlideSymbol, map[string]string{"a": "@"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c := NewController(p, &mockEngine{}, IdiomPhone, WithLogger(discard))
	c.Start()

	got := c.Context()
	got.Gestures["a"] = Gesture{Symbol: "#"}

	if c.Context().Gestures["a"].Symbol != "@" {
		t.Error("mutating Context() leaked into the controller")
	}
}
