package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormaliseText strips leading/trailing whitespace and collapses internal whitespace.
func NormaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// FoldKey lowercases s, removes diacritics and collapses whitespace, giving a
// stable key for vocabulary lookups.
func FoldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return NormaliseText(strings.ToLower(folded))
}

// NormalizeURL drops the fragment and a leading "www." so the same listing
// page hashes to the same key.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	parsed.Fragment = ""
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	if parsed.Scheme == "" && parsed.Host != "" {
		parsed.Scheme = "https"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return parsed.String()
}

// ContentHash returns a hex sha1 of s.
func ContentHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Truncate shortens s to at most max bytes, marking the cut with "...".
// The cut never splits a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return CutUTF8(s, max)
	}
	return CutUTF8(s, max-3) + "..."
}

// CutUTF8 returns the longest prefix of s that fits in n bytes and ends on a
// rune boundary.
func CutUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
