package tools

import (
	"fmt"
	"unicode/utf8"
)

const elisionMarker = "\n\n[... %d bytes elided ...]\n\n"

// Truncation accounts for a MiddleOut call. Kept+Elided always equals the
// original length.
type Truncation struct {
	Kept   int
	Elided int
}

// MiddleOut keeps roughly max/2 bytes from each end of s and replaces the
// middle with a marker naming the number of elided bytes. Cuts fall on rune
// boundaries, so slightly fewer than max bytes may be kept.
func MiddleOut(s string, max int) (string, Truncation) {
	if max <= 0 || len(s) <= max {
		return s, Truncation{Kept: len(s)}
	}

	head := max / 2
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	tailStart := len(s) - (max - max/2)
	for tailStart < len(s) && !utf8.RuneStart(s[tailStart]) {
		tailStart++
	}

	kept := head + len(s) - tailStart
	elided := len(s) - kept
	return s[:head] + fmt.Sprintf(elisionMarker, elided) + s[tailStart:], Truncation{Kept: kept, Elided: elided}
}
