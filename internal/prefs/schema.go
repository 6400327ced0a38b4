// Package prefs holds the Hamster preference schema and the per-process
// reactive view over the shared preference store.
//
// Every setting has a stable key, a kind and a default. Keys are persisted
// verbatim and must not be renamed without a migration.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnknownKey is returned when a key is not part of the schema.
	ErrUnknownKey = errors.New("unknown preference key")
	// ErrInvalidValue is returned when a value has the wrong kind or is out of range.
	ErrInvalidValue = errors.New("invalid preference value")
)

// Kind is the semantic type of a setting.
type Kind string

const (
	// KindBool settings hold a bool.
	KindBool Kind = "bool"
	// KindInt settings hold an int.
	KindInt Kind = "int"
	// KindString settings hold a string.
	KindString Kind = "string"
	// KindMap settings hold a map[string]string.
	KindMap Kind = "map"
)

// Values maps setting keys to values. Map-kind values are map[string]string.
type Values map[string]any

// Value constrains the Go types a setting can hold.
type Value interface {
	bool | int | string | map[string]string
}

// Setting describes one entry of the schema.
type Setting struct {
	Name        string
	Kind        Kind
	Default     any
	Description string

	// Critical settings are flushed to stable storage before a write returns,
	// so the other process sees them on its next read.
	Critical bool

	validate func(any) error
}

// Key is a typed handle for a setting.
type Key[T Value] struct {
	name string
}

// Name returns the stable persistence key.
func (k Key[T]) Name() string { return k.name }

func (k Key[T]) String() string { return k.name }

var (
	schema  = make(map[string]*Setting)
	ordered []*Setting
)

type settingOption func(*Setting)

func critical() settingOption {
	return func(s *Setting) { s.Critical = true }
}

func intRange(lo, hi int) settingOption {
	return func(s *Setting) {
		s.validate = func(v any) error {
			n := v.(int)
			if n < lo || n > hi {
				return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrInvalidValue, s.Name, lo, hi, n)
			}
			return nil
		}
	}
}

func define[T Value](name string, kind Kind, def T, desc string, opts ...settingOption) Key[T] {
	if _, dup := schema[name]; dup {
		panic("prefs: duplicate setting " + name)
	}
	s := &Setting{Name: name, Kind: kind, Default: def, Description: desc}
	for _, opt := range opts {
		opt(s)
	}
	schema[name] = s
	ordered = append(ordered, s)
	return Key[T]{name: name}
}

var (
	IsFirstLaunch = define("app.launch.isFirst", KindBool, true,
		"whether the app has not completed its first launch")
	ShowKeyPressBubble = define("view.keyboard.showKeyPressBubble", KindBool, true,
		"show the callout bubble above pressed keys")
	SwitchTraditionalChinese = define("view.keyboard.switchTraditionalChinese", KindBool, false,
		"output traditional Chinese characters")
	SlideBySpaceButton = define("view.keyboard.slideBySpaceButton", KindBool, true,
		"move the cursor by sliding on the space bar")
	SelectSecondChoiceByUpSlideSpaceButton = define("app.keyboard.selectSecondChoiceByUpSlideSpaceButton", KindBool, false,
		"commit the second candidate by sliding up on the space bar")
	EnableKeyboardFeedbackSound = define("app.keyboard.feedback.sound", KindBool, false,
		"play a click sound on key press")
	EnableKeyboardFeedbackHaptic = define("app.keyboard.feedback.haptic", KindBool, false,
		"vibrate on key press")
	KeyboardFeedbackHapticIntensity = define("app.keyboard.feedback.hapticIntensity", KindInt, int(HapticMedium),
		"haptic strength: 0 light, 1 medium, 2 heavy", intRange(int(HapticLight), int(HapticHeavy)))
	ShowKeyboardDismissButton = define("app.keyboard.showDismissButton", KindBool, true,
		"show the button that hides the keyboard")
	ShowSpaceLeftButton = define("app.keyboard.showSpaceLeftButton", KindBool, true,
		"show a key left of the space bar")
	SpaceLeftButtonValue = define("app.keyboard.spaceLeftButtonValue", KindString, "，",
		"text typed by the key left of the space bar")
	ShowSpaceRightButton = define("app.keyboard.showSpaceRightButton", KindBool, true,
		"show a key right of the space bar")
	SpaceRightButtonValue = define("app.keyboard.spaceRightButtonValue", KindString, "。",
		"text typed by the key right of the space bar")
	RimePageSize = define("rime.pageSize", KindInt, 9,
		"candidates shown per page", intRange(1, 10))
	RimeInputSchema = define("rime.inputSchema", KindString, "",
		"active RIME input schema id", critical())
	EnableRimeColorSchema = define("rime.enableColorSchema", KindBool, false,
		"apply the RIME color schema to the keyboard")
	RimeColorSchema = define("rime.colorSchema", KindString, "",
		"active RIME color schema id", critical())
	RimeNeedOverrideUserDataDirectory = define("rime.needOverrideUserDataDirectory", KindBool, false,
		"copy the app's RIME user data over the keyboard's on next launch")
	EnableKeyboardUpAndDownSlideSymbol = define("keyboard.enableUpAndDownSlideSymbol", KindBool, true,
		"type symbols by sliding keys up or down")
	KeyboardUpAndDownSlideSymbol = define("keyboard.upAndDownSlideSymbol", KindMap, map[string]string{},
		"symbol or function bound to each key gesture")
)

// Defaults returns the default value of every setting.
func Defaults() Values {
	v := make(Values, len(ordered))
	for _, s := range ordered {
		v[s.Name] = cloneValue(s.Default)
	}
	return v
}

// Lookup returns the setting registered under name.
func Lookup(name string) (*Setting, bool) {
	s, ok := schema[name]
	return s, ok
}

// Settings returns every setting sorted by key.
func Settings() []*Setting {
	out := make([]*Setting, len(ordered))
	copy(out, ordered)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultValue returns a copy of the default.
func (s *Setting) DefaultValue() any { return cloneValue(s.Default) }

// Normalize converts v to the setting's Go type and validates it. It accepts
// the shapes produced by JSON and YAML decoding (float64 for numbers,
// map[string]any for objects) in addition to the native types.
func (s *Setting) Normalize(v any) (any, error) {
	var out any
	switch s.Kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, s.kindError(v)
		}
		out = b
	case KindInt:
		switch n := v.(type) {
		case int:
			out = n
		case int64:
			out = int(n)
		case float64:
			if n != float64(int(n)) {
				return nil, s.kindError(v)
			}
			out = int(n)
		case json.Number:
			i, err := strconv.Atoi(n.String())
			if err != nil {
				return nil, s.kindError(v)
			}
			out = i
		default:
			return nil, s.kindError(v)
		}
	case KindString:
		str, ok := v.(string)
		if !ok {
			return nil, s.kindError(v)
		}
		out = str
	case KindMap:
		switch m := v.(type) {
		case map[string]string:
			out = cloneValue(m)
		case map[string]any:
			mm := make(map[string]string, len(m))
			for k, val := range m {
				str, ok := val.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s[%s] must be a string, got %T", ErrInvalidValue, s.Name, k, val)
				}
				mm[k] = str
			}
			out = mm
		case nil:
			out = map[string]string{}
		default:
			return nil, s.kindError(v)
		}
	default:
		return nil, fmt.Errorf("%w: %s has unsupported kind %q", ErrInvalidValue, s.Name, s.Kind)
	}

	if s.validate != nil {
		if err := s.validate(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Parse converts command-line text into a value of the setting's kind.
// Map values are given as a JSON object.
func (s *Setting) Parse(text string) (any, error) {
	switch s.Kind {
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects a boolean, got %q", ErrInvalidValue, s.Name, text)
		}
		return s.Normalize(b)
	case KindInt:
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects an integer, got %q", ErrInvalidValue, s.Name, text)
		}
		return s.Normalize(n)
	case KindMap:
		var m map[string]string
		if err := json.Unmarshal([]byte(text), &m); err != nil {
			return nil, fmt.Errorf("%w: %s expects a JSON object of strings: %v", ErrInvalidValue, s.Name, err)
		}
		return s.Normalize(m)
	default:
		return s.Normalize(text)
	}
}

// Format renders a value the way Parse accepts it.
func (s *Setting) Format(v any) string {
	if s.Kind == KindMap {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func (s *Setting) kindError(v any) error {
	return fmt.Errorf("%w: %s expects %s, got %T", ErrInvalidValue, s.Name, s.Kind, v)
}

func cloneValue(v any) any {
	if m, ok := v.(map[string]string); ok {
		cp := make(map[string]string, len(m))
		for k, val := range m {
			cp[k] = val
		}
		return cp
	}
	return v
}
