// Package textutil normalises customer supplied text before it reaches storage.
package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

var strictPolicy = bluemonday.StrictPolicy()

// NormalizeCode folds full width forms, trims and upper cases a typed code so
// "ｓａｖｅ２０ " and "SAVE20" compare equal.
func NormalizeCode(code string) string {
	folded := width.Fold.String(strings.TrimSpace(code))
	return cases.Upper(language.Und).String(strings.TrimSpace(folded))
}

// PlainText strips markup, collapses whitespace and truncates to limit runes.
// A limit of zero keeps the full text.
func PlainText(value string, limit int) string {
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	stripped = strings.Join(strings.Fields(stripped), " ")
	if limit > 0 && utf8.RuneCountInString(stripped) > limit {
		runes := []rune(stripped)
		stripped = strings.TrimSpace(string(runes[:limit]))
	}
	return stripped
}

// NormalizeStringMap trims keys and values and drops entries whose key or value
// ends up empty. Returns nil when nothing remains.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k == "" || v == "" {
			continue
		}
		result[k] = v
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
