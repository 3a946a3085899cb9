package download

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	placeholder  = '_'
	pdfExt       = ".pdf"
	maxStemBytes = 200
)

// FileName maps a paper title to a filesystem-safe PDF name. Every rune that
// is not a letter or digit becomes '_'. The mapping is deterministic; titles
// differing only in punctuation collide.
func FileName(title string) string {
	stem := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return placeholder
	}, strings.TrimSpace(title))
	if stem == "" {
		stem = "untitled"
	}
	return truncate(stem, maxStemBytes) + pdfExt
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
