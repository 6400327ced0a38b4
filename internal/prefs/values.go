package prefs

import "strings"

// SlideFunction is a keyboard function that can be bound to a key gesture
// in place of a symbol.
type SlideFunction string

const (
	// SlideSimplifiedTraditionalSwitch toggles simplified and traditional output.
	SlideSimplifiedTraditionalSwitch SlideFunction = "#繁简切换"
	// SlideChineseEnglishSwitch toggles Chinese and English input.
	SlideChineseEnglishSwitch SlideFunction = "#中英切换"
	// SlideBeginOfSentence moves the cursor to the start of the input.
	SlideBeginOfSentence SlideFunction = "#行首"
	// SlideEndOfSentence moves the cursor to the end of the input.
	SlideEndOfSentence SlideFunction = "#行尾"
	// SlideSelectSecond commits the second candidate.
	SlideSelectSecond SlideFunction = "#次选上屏"
	// SlideNone disables the gesture.
	SlideNone SlideFunction = "无"
)

var slideFunctions = []SlideFunction{
	SlideSimplifiedTraditionalSwitch,
	SlideChineseEnglishSwitch,
	SlideBeginOfSentence,
	SlideEndOfSentence,
	SlideSelectSecond,
	SlideNone,
}

// SlideFunctions lists every known slide function.
func SlideFunctions() []SlideFunction {
	out := make([]SlideFunction, len(slideFunctions))
	copy(out, slideFunctions)
	return out
}

// ParseSlideFunction reports whether s names a slide function.
func ParseSlideFunction(s string) (SlideFunction, bool) {
	s = strings.TrimSpace(s)
	for _, f := range slideFunctions {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// Glyph is the short label drawn on a key bound to the function.
func (f SlideFunction) Glyph() string {
	switch f {
	case SlideSimplifiedTraditionalSwitch:
		return "繁"
	case SlideChineseEnglishSwitch:
		return "英"
	case SlideBeginOfSentence:
		return "⇤"
	case SlideEndOfSentence:
		return "⇥"
	case SlideSelectSecond:
		return "次"
	default:
		return ""
	}
}

// HapticIntensity is the strength of key-press vibration.
type HapticIntensity int

// Haptic intensities, weakest first.
const (
	HapticLight HapticIntensity = iota
	HapticMedium
	HapticHeavy
)

// Label is the display name used by the settings screen.
func (h HapticIntensity) Label() string {
	switch h {
	case HapticLight:
		return "轻"
	case HapticMedium:
		return "中"
	case HapticHeavy:
		return "强"
	default:
		return ""
	}
}

// Valid reports whether h is one of the defined intensities.
func (h HapticIntensity) Valid() bool {
	return h >= HapticLight && h <= HapticHeavy
}
