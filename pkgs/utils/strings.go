package utils

import (
	"strings"
)

// Truncate caps s at n runes. Multibyte text is cut on rune boundaries,
// never mid-sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func Mask(pwd string) string {
	if len(pwd) <= 10 {
		return strings.Repeat("●", len(pwd))
	}
	return pwd[:5] + strings.Repeat("●", min(len(pwd)-10, 10)) + pwd[len(pwd)-5:]
}
