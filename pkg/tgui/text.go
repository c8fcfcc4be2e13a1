package tgui

import (
	"strings"
	"unicode"
)

const ellipsis = "…"

// Clip shortens s to at most n runes, ellipsis included. When a space falls
// in the last fifth of the kept text the cut moves back to it, so titles end
// on a whole word. Surrounding whitespace is dropped first.
func Clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return ellipsis
	}
	keep := r[:n-1]
	for i := len(keep) - 1; i >= len(keep)*4/5 && i > 0; i-- {
		if unicode.IsSpace(keep[i]) {
			keep = keep[:i]
			break
		}
	}
	return strings.TrimRightFunc(string(keep), unicode.IsSpace) + ellipsis
}
