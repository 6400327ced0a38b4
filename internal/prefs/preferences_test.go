package prefs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPreferences(t *testing.T, backend Backend, opts ...AdapterOption) *Preferences {
	t.Helper()
	opts = append([]AdapterOption{WithLogger(discardLogger)}, opts...)
	p := New(NewAdapter(backend, opts...), WithPreferencesLogger(discardLogger))
	t.Cleanup(func() { p.Close() })
	return p
}

func recv(t *testing.T, sub *Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-sub.C():
		require.True(t, ok, "subscription closed while waiting for a change")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func expectNone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case c, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// nonDefault returns a valid value for s that differs from its default.
func nonDefault(s *Setting) any {
	switch s.Kind {
	case KindBool:
		return !s.Default.(bool)
	case KindInt:
		if s.Default.(int) == 2 {
			return 1
		}
		return 2
	case KindString:
		return "x-" + s.Name
	default:
		return map[string]string{"a": "#行首", "q": "!"}
	}
}

func TestFreshStoreYieldsDefaults(t *testing.T) {
	p := newTestPreferences(t, openTestStore(t, ":memory:"))

	require.Equal(t, Defaults(), p.Snapshot())
	require.Equal(t, 9, Get(p, RimePageSize))
	require.Equal(t, map[string]string{}, Get(p, KeyboardUpAndDownSlideSymbol))
}

func TestRoundTripSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store := openTestStore(t, dir)
	p := New(NewAdapter(store, WithLogger(discardLogger), WithWriteBehind(true)), WithPreferencesLogger(discardLogger))

	want := Values{}
	for _, s := range Settings() {
		v := nonDefault(s)
		w, err := p.Stage(s.Name, v)
		require.NoError(t, err, s.Name)
		w.Commit()
		want[s.Name] = v

		got, ok := p.Value(s.Name)
		require.True(t, ok)
		require.Equal(t, v, got, s.Name)
	}
	require.NoError(t, p.Close())
	require.NoError(t, store.Close())

	restarted := newTestPreferences(t, openTestStore(t, dir))
	require.Equal(t, want, restarted.Snapshot())
}

func TestPageSizeScenario(t *testing.T) {
	dir := t.TempDir()

	store := openTestStore(t, dir)
	p := New(NewAdapter(store, WithLogger(discardLogger)), WithPreferencesLogger(discardLogger))
	require.Equal(t, 9, Get(p, RimePageSize))
	require.NoError(t, Set(p, RimePageSize, 5))
	require.Equal(t, 5, Get(p, RimePageSize))
	require.NoError(t, p.Close())
	require.NoError(t, store.Close())

	restarted := newTestPreferences(t, openTestStore(t, dir))
	require.Equal(t, 5, Get(restarted, RimePageSize))

	sub := restarted.Subscribe(SwitchTraditionalChinese.Name())
	defer sub.Cancel()
	require.NoError(t, Set(restarted, SwitchTraditionalChinese, true))

	c := recv(t, sub)
	require.Equal(t, SwitchTraditionalChinese.Name(), c.Key)
	require.Equal(t, true, c.Value)
	require.Equal(t, false, c.Previous)
	require.Equal(t, OriginWrite, c.Origin)
}

func TestWritesAreIndependent(t *testing.T) {
	store := openTestStore(t, ":memory:")
	p := newTestPreferences(t, store)

	require.NoError(t, Set(p, ShowSpaceLeftButton, false))

	before := p.Snapshot()
	require.NoError(t, Set(p, SpaceRightButtonValue, "！"))
	after := p.Snapshot()

	for k, v := range before {
		if k == SpaceRightButtonValue.Name() {
			continue
		}
		require.Equal(t, v, after[k], "in-memory %s changed", k)
	}

	stored, err := store.ListPreferences()
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, "false", stored[0].Value) // app.keyboard.showSpaceLeftButton sorts first
}

func TestFanOutPreservesOrder(t *testing.T) {
	p := newTestPreferences(t, openTestStore(t, ":memory:"))

	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = p.Subscribe(RimePageSize.Name())
		defer subs[i].Cancel()
	}
	require.Equal(t, 3, p.Subscribers())

	for n := 1; n <= 5; n++ {
		require.NoError(t, Set(p, RimePageSize, n))
	}

	for _, sub := range subs {
		for n := 1; n <= 5; n++ {
			c := recv(t, sub)
			require.Equal(t, n, c.Value)
		}
		expectNone(t, sub)
	}
}

func TestSubscribeFiltersKeys(t *testing.T) {
	p := newTestPreferences(t, openTestStore(t, ":memory:"))

	bubble := p.Subscribe(ShowKeyPressBubble.Name())
	defer bubble.Cancel()
	all := p.Subscribe()
	defer all.Cancel()

	require.NoError(t, Set(p, RimePageSize, 3))
	require.NoError(t, Set(p, ShowKeyPressBubble, false))

	require.Equal(t, ShowKeyPressBubble.Name(), recv(t, bubble).Key)
	expectNone(t, bubble)

	require.Equal(t, RimePageSize.Name(), recv(t, all).Key)
	require.Equal(t, ShowKeyPressBubble.Name(), recv(t, all).Key)
}

func TestCancelClosesChannel(t *testing.T) {
	p := newTestPreferences(t, openTestStore(t, ":memory:"))

	sub := p.Subscribe()
	sub.Cancel()
	sub.Cancel()

	select {
	case _, ok := <-sub.C():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Cancel")
	}
	require.Equal(t, 0, p.Subscribers())

	require.NoError(t, Set(p, RimePageSize, 2))
}

func TestPublishedMapIsACopy(t *testing.T) {
	p := newTestPreferences(t, openTestStore(t, ":memory:"))
	sub := p.Subscribe(KeyboardUpAndDownSlideSymbol.Name())
	defer sub.Cancel()

	in := map[string]string{"a": "1"}
	require.NoError(t, Set(p, KeyboardUpAndDownSlideSymbol, in))
	in["a"] = "changed"

	c := recv(t, sub)
	c.Value.(map[string]string)["a"] = "mutated"

	require.Equal(t, map[string]string{"a": "1"}, Get(p, KeyboardUpAndDownSlideSymbol))
}

func TestStageRejectsInvalidWrites(t *testing.T) {
	p := newTestPreferences(t, openTestStore(t, ":memory:"))
	sub := p.Subscribe()
	defer sub.Cancel()

	_, err := p.Stage("no.such.key", true)
	require.True(t, errors.Is(err, ErrUnknownKey))

	_, err = p.Stage(RimePageSize.Name(), 0)
	require.True(t, errors.Is(err, ErrInvalidValue))

	_, err = p.Stage(ShowKeyPressBubble.Name(), "yes")
	require.True(t, errors.Is(err, ErrInvalidValue))

	require.Error(t, Set(p, RimePageSize, 42))
	require.Equal(t, 9, Get(p, RimePageSize))
	expectNone(t, sub)
}

func TestCommitIsAtMostOnce(t *testing.T) {
	p := newTestPreferences(t, openTestStore(t, ":memory:"))
	sub := p.Subscribe()
	defer sub.Cancel()

	w, err := p.Stage(RimePageSize.Name(), 4)
	require.NoError(t, err)
	require.Equal(t, 9, Get(p, RimePageSize), "staging must not change the value")

	w.Commit()
	w.Commit()

	require.Equal(t, 4, recv(t, sub).Value)
	expectNone(t, sub)
}

func TestPersistenceFailureKeepsInMemoryValue(t *testing.T) {
	b := &recordingBackend{
		Backend: openTestStore(t, ":memory:"),
		failSet: errors.New("disk full"),
	}
	p := newTestPreferences(t, b)
	sub := p.Subscribe(RimeInputSchema.Name())
	defer sub.Cancel()

	require.NoError(t, Set(p, RimeInputSchema, "double_pinyin"))
	require.Equal(t, "double_pinyin", Get(p, RimeInputSchema))
	require.Equal(t, "double_pinyin", recv(t, sub).Value)

	_, err := b.Backend.GetPreference(RimeInputSchema.Name())
	require.Error(t, err, "failed write should not have reached the store")
}

func TestReloadKeepsValueThatFailedToPersist(t *testing.T) {
	b := &recordingBackend{
		Backend: openTestStore(t, ":memory:"),
		failSet: errors.New("database is locked"),
	}
	p := newTestPreferences(t, b)
	sub := p.Subscribe(RimeInputSchema.Name())
	defer sub.Cancel()

	require.NoError(t, Set(p, RimeInputSchema, "double_pinyin"))
	require.Equal(t, "double_pinyin", recv(t, sub).Value)

	require.Empty(t, p.Reload())
	require.Equal(t, "double_pinyin", Get(p, RimeInputSchema))
	expectNone(t, sub)

	// A later successful write makes the key follow the store again.
	b.setFailure(nil)
	require.NoError(t, Set(p, RimeInputSchema, "luna_pinyin"))
	recv(t, sub)
	raw, err := b.Backend.GetPreference(RimeInputSchema.Name())
	require.NoError(t, err)
	raw.Value = `"terra_pinyin"`
	require.NoError(t, b.Backend.SetPreference(raw))

	require.Equal(t, []string{RimeInputSchema.Name()}, p.Reload())
	require.Equal(t, "terra_pinyin", Get(p, RimeInputSchema))
}

func TestReloadKeepsValueThatFailedToPersistInBackground(t *testing.T) {
	b := &recordingBackend{
		Backend: openTestStore(t, ":memory:"),
		failSet: errors.New("database is locked"),
	}
	p := newTestPreferences(t, b, WithWriteBehind(true))
	sub := p.Subscribe(RimePageSize.Name())
	defer sub.Cancel()

	require.NoError(t, Set(p, RimePageSize, 5))
	require.Equal(t, 5, recv(t, sub).Value)

	require.Empty(t, p.Reload())
	require.Equal(t, 5, Get(p, RimePageSize))
	expectNone(t, sub)
}

func TestCorruptStoredValueHydratesAsDefault(t *testing.T) {
	store := openTestStore(t, ":memory:")
	a := NewAdapter(store, WithLogger(discardLogger))
	a.RegisterDefaults(Defaults())
	require.NoError(t, a.Set(RimePageSize.Name(), 6))

	// A value of the wrong type, e.g. written by an older build.
	raw, err := store.GetPreference(RimePageSize.Name())
	require.NoError(t, err)
	raw.Kind = "map"
	raw.Value = `{"a":"b"}`
	require.NoError(t, store.SetPreference(raw))

	p := New(a, WithPreferencesLogger(discardLogger))
	defer p.Close()
	require.Equal(t, 9, Get(p, RimePageSize))
}

func TestReset(t *testing.T) {
	store := openTestStore(t, ":memory:")
	p := newTestPreferences(t, store)

	require.NoError(t, Set(p, RimePageSize, 3))
	sub := p.Subscribe(RimePageSize.Name())
	defer sub.Cancel()

	require.NoError(t, p.Reset(RimePageSize.Name()))
	require.Equal(t, 9, Get(p, RimePageSize))

	c := recv(t, sub)
	require.Equal(t, OriginReset, c.Origin)
	require.Equal(t, 3, c.Previous)

	stored, err := store.ListPreferences()
	require.NoError(t, err)
	require.Empty(t, stored)

	require.True(t, errors.Is(p.Reset("nope"), ErrUnknownKey))
}

func TestResetAll(t *testing.T) {
	p := newTestPreferences(t, openTestStore(t, ":memory:"))
	require.NoError(t, Set(p, RimePageSize, 3))
	require.NoError(t, Set(p, ShowKeyPressBubble, false))

	p.ResetAll()
	require.Equal(t, Defaults(), p.Snapshot())
}

func TestReloadPicksUpOtherProcessWrites(t *testing.T) {
	dir := t.TempDir()
	app := newTestPreferences(t, openTestStore(t, dir), WithWriteBehind(true))
	keyboard := newTestPreferences(t, openTestStore(t, dir))

	sub := keyboard.Subscribe()
	defer sub.Cancel()

	require.NoError(t, Set(app, ShowKeyPressBubble, false))
	require.NoError(t, Set(app, RimeInputSchema, "terra_pinyin"))
	app.adapter.Flush()

	// The keyboard keeps serving its cached value until it reloads.
	require.True(t, Get(keyboard, ShowKeyPressBubble))

	changed := keyboard.Reload()
	require.ElementsMatch(t, []string{ShowKeyPressBubble.Name(), RimeInputSchema.Name()}, changed)
	require.False(t, Get(keyboard, ShowKeyPressBubble))
	require.Equal(t, "terra_pinyin", Get(keyboard, RimeInputSchema))

	for range changed {
		require.Equal(t, OriginReload, recv(t, sub).Origin)
	}
	require.Empty(t, keyboard.Reload())
}

func TestCloseCancelsSubscriptions(t *testing.T) {
	store := openTestStore(t, ":memory:")
	p := New(NewAdapter(store, WithLogger(discardLogger)), WithPreferencesLogger(discardLogger))
	sub := p.Subscribe()

	require.NoError(t, p.Close())

	select {
	case _, ok := <-sub.C():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by Close")
	}
}
