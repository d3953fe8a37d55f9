// Package textutil normalises free text and identifiers taken from requests.
package textutil

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

var strictPolicy = bluemonday.StrictPolicy()

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// StripMarkup removes every HTML element from value and trims it to limit runes.
// Entities that bluemonday escapes are kept escaped.
func StripMarkup(value string, limit int) string {
	clean := strings.TrimSpace(strictPolicy.Sanitize(value))
	clean = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, clean)
	if limit > 0 {
		if runes := []rune(clean); len(runes) > limit {
			clean = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return clean
}

// FoldCode canonicalises a coupon-style code: full-width forms fold to ASCII,
// inner whitespace is dropped and letters are upper-cased.
func FoldCode(code string) string {
	folded := width.Fold.String(strings.TrimSpace(code))
	folded = strings.Join(strings.Fields(folded), "")
	return cases.Upper(language.Und).String(folded)
}
