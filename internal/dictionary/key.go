package dictionary

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UnnamedComponent is the key used when a display name yields no usable characters.
const UnnamedComponent = "unnamed_component"

// KeyFunc maps a display name to a canonical component key.
type KeyFunc func(displayName string) string

// Key derivation modes.
const (
	KeyModeTransliterate = "transliterate"
	KeyModeASCII         = "ascii"
)

// KeyFuncForMode returns the key function for a configured mode. Unknown
// modes fall back to transliteration.
func KeyFuncForMode(mode string) KeyFunc {
	if strings.EqualFold(strings.TrimSpace(mode), KeyModeASCII) {
		return DeriveASCIIKey
	}
	return DeriveKey
}

// DeriveKey folds diacritics to their base Latin letters before applying
// DeriveASCIIKey, so "Nút Bắn" becomes "nut_ban".
func DeriveKey(displayName string) string {
	return DeriveASCIIKey(foldDiacritics(displayName))
}

// DeriveASCIIKey lower-cases the name, drops everything that is not an ASCII
// letter, digit or whitespace, joins the remaining words with underscores and
// trims underscores from the ends. Non-Latin names collapse to UnnamedComponent.
func DeriveASCIIKey(displayName string) string {
	lowered := strings.ToLower(displayName)
	var b strings.Builder
	b.Grow(len(lowered))
	pendingSpace := false
	for _, r := range lowered {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	key := strings.Trim(b.String(), "_")
	if key == "" {
		return UnnamedComponent
	}
	return key
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	// đ has no decomposition.
	return strings.Map(func(r rune) rune {
		switch r {
		case 'đ':
			return 'd'
		case 'Đ':
			return 'D'
		}
		return r
	}, folded)
}
