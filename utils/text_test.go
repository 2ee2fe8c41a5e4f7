package utils

import (
	"testing"
	"unicode/utf8"
)

func TestFoldKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  E-Commérce  ", "e-commerce"},
		{"SaaS", "saas"},
		{"Contenu\tÉditorial", "contenu editorial"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FoldKey(tt.in); got != tt.want {
			t.Errorf("FoldKey(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://www.Example.com/listing/42/#financials", "https://example.com/listing/42"},
		{"https://example.com/listing/42", "https://example.com/listing/42"},
		{"//example.com/a/", "https://example.com/a"},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("Truncate = %q; want %q", got, "abc...")
	}
	if got := Truncate("abc", 6); got != "abc" {
		t.Errorf("Truncate = %q; want %q", got, "abc")
	}
	// "é" is two bytes and would straddle the cut at 5
	if got := Truncate("abcdéfgh", 8); got != "abcd..." || !utf8.ValidString(got) {
		t.Errorf("Truncate = %q; want %q", got, "abcd...")
	}
}

func TestCutUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abc", 2, "ab"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"€uro", 2, ""},
		{"€uro", 3, "€"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		got := CutUTF8(tt.in, tt.n)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("CutUTF8(%q, %d) = %q; want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
