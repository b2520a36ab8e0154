package astisplitter

import (
	"strings"

	"golang.org/x/text/language"
)

const undeterminedLanguage = "und"

// normalizeLanguage returns the ISO 639-2 code of s, "und" when unknown
func normalizeLanguage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return undeterminedLanguage
	}
	if b, err := language.ParseBase(s); err == nil {
		if iso3 := b.ISO3(); iso3 != "" {
			return iso3
		}
	}
	if len(s) == 3 && strings.Trim(s, "abcdefghijklmnopqrstuvwxyz") == "" {
		return s
	}
	return undeterminedLanguage
}

func languageMatches(pattern, lang string) bool {
	return pattern == "*" || pattern == lang
}

func normalizeLanguagePattern(p string) string {
	switch p = strings.TrimSpace(p); p {
	case "*", subtitleLanguageOff:
		return p
	}
	return normalizeLanguage(p)
}
