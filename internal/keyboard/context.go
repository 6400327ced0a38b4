package keyboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hamster-ime/hamster/internal/prefs"
)

// Idiom is the class of device the keyboard runs on.
type Idiom string

const (
	IdiomPhone Idiom = "phone"
	IdiomPad   Idiom = "pad"
)

// ParseIdiom parses a device idiom name.
func ParseIdiom(s string) (Idiom, error) {
	switch Idiom(strings.ToLower(strings.TrimSpace(s))) {
	case IdiomPhone:
		return IdiomPhone, nil
	case IdiomPad:
		return IdiomPad, nil
	}
	return "", fmt.Errorf("unknown device idiom %q (want phone or pad)", s)
}

// Locale is the keyboard locale. It is fixed for now.
const Locale = "zh-Hans"

// Gesture is what a key gesture produces: a keyboard function or a symbol.
type Gesture struct {
	Function prefs.SlideFunction `json:"function,omitempty"`
	Symbol   string              `json:"symbol,omitempty"`
}

// IsFunction reports whether the gesture triggers a keyboard function.
func (g Gesture) IsFunction() bool { return g.Function != "" }

// Context is the configuration a keyboard session runs with. It is rebuilt
// from the preferences at session start and whenever a relevant key changes.
type Context struct {
	Idiom  Idiom  `json:"idiom"`
	Locale string `json:"locale"`

	CalloutEnabled    bool `json:"callout_enabled"`
	ShowDismissButton bool `json:"show_dismiss_button"`

	SlideBySpace          bool `json:"slide_by_space"`
	SelectSecondByUpSlide bool `json:"select_second_by_up_slide"`

	ShowSpaceLeft  bool   `json:"show_space_left"`
	SpaceLeft      string `json:"space_left"`
	ShowSpaceRight bool   `json:"show_space_right"`
	SpaceRight     string `json:"space_right"`

	FeedbackSound   bool                  `json:"feedback_sound"`
	FeedbackHaptic  bool                  `json:"feedback_haptic"`
	HapticIntensity prefs.HapticIntensity `json:"haptic_intensity"`

	PageSize     int                `json:"page_size"`
	InputSchema  string             `json:"input_schema"`
	ColorSchema  string             `json:"color_schema,omitempty"` // empty unless enabled
	SlideSymbols bool               `json:"slide_symbols"`
	Gestures     map[string]Gesture `json:"gestures"`
}

// watched lists the keys a Context is built from.
var watched = []string{
	prefs.ShowKeyPressBubble.Name(),
	prefs.ShowKeyboardDismissButton.Name(),
	prefs.SlideBySpaceButton.Name(),
	prefs.SelectSecondChoiceByUpSlideSpaceButton.Name(),
	prefs.ShowSpaceLeftButton.Name(),
	prefs.SpaceLeftButtonValue.Name(),
	prefs.ShowSpaceRightButton.Name(),
	prefs.SpaceRightButtonValue.Name(),
	prefs.EnableKeyboardFeedbackSound.Name(),
	prefs.EnableKeyboardFeedbackHaptic.Name(),
	prefs.KeyboardFeedbackHapticIntensity.Name(),
	prefs.RimePageSize.Name(),
	prefs.RimeInputSchema.Name(),
	prefs.EnableRimeColorSchema.Name(),
	prefs.RimeColorSchema.Name(),
	prefs.EnableKeyboardUpAndDownSlideSymbol.Name(),
	prefs.KeyboardUpAndDownSlideSymbol.Name(),
}

// BuildContext derives a session Context from the current preferences.
// The key-press bubble is only shown on phones.
func BuildContext(p *prefs.Preferences, idiom Idiom) Context {
	c := Context{
		Idiom:  idiom,
		Locale: Locale,

		CalloutEnabled:    idiom == IdiomPhone && prefs.Get(p, prefs.ShowKeyPressBubble),
		ShowDismissButton: prefs.Get(p, prefs.ShowKeyboardDismissButton),

		SlideBySpace:          prefs.Get(p, prefs.SlideBySpaceButton),
		SelectSecondByUpSlide: prefs.Get(p, prefs.SelectSecondChoiceByUpSlideSpaceButton),

		ShowSpaceLeft:  prefs.Get(p, prefs.ShowSpaceLeftButton),
		SpaceLeft:      prefs.Get(p, prefs.SpaceLeftButtonValue),
		ShowSpaceRight: prefs.Get(p, prefs.ShowSpaceRightButton),
		SpaceRight:     prefs.Get(p, prefs.SpaceRightButtonValue),

		FeedbackSound:   prefs.Get(p, prefs.EnableKeyboardFeedbackSound),
		FeedbackHaptic:  prefs.Get(p, prefs.EnableKeyboardFeedbackHaptic),
		HapticIntensity: prefs.HapticIntensity(prefs.Get(p, prefs.KeyboardFeedbackHapticIntensity)),

		PageSize:     prefs.Get(p, prefs.RimePageSize),
		InputSchema:  prefs.Get(p, prefs.RimeInputSchema),
		SlideSymbols: prefs.Get(p, prefs.EnableKeyboardUpAndDownSlideSymbol),
	}
	if prefs.Get(p, prefs.EnableRimeColorSchema) {
		c.ColorSchema = prefs.Get(p, prefs.RimeColorSchema)
	}
	if c.SlideSymbols {
		c.Gestures = ResolveGestures(prefs.Get(p, prefs.KeyboardUpAndDownSlideSymbol))
	} else {
		c.Gestures = map[string]Gesture{}
	}
	return c
}

// ResolveGestures lowercases the gesture keys of m and resolves values that
// name a SlideFunction. When two keys differ only in case, the one already
// in lower case wins, then the first in byte order.
func ResolveGestures(m map[string]string) map[string]Gesture {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]Gesture, len(m))
	exact := make(map[string]bool, len(m))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if _, seen := out[lk]; seen && (exact[lk] || k != lk) {
			continue
		}
		v := m[k]
		if f, ok := prefs.ParseSlideFunction(v); ok {
			out[lk] = Gesture{Function: f}
		} else {
			out[lk] = Gesture{Symbol: v}
		}
		exact[lk] = k == lk
	}
	return out
}
