// Package buffer is the single conversion boundary between the line-array
// form a session stores and the flat character stream operations address.
// The split/join pair must round-trip exactly, including empty lines and
// trailing newlines.
//
// Positions and lengths are byte offsets into the UTF-8 encoded buffer,
// not rune counts. That is the wire convention: clients compute offsets
// against the same encoded form they receive, so both sides splice at
// identical boundaries without a rune-indexing pass.
package buffer

import "strings"

// LinesToString joins a line array into the flat buffer form.
func LinesToString(lines []string) string {
	return strings.Join(lines, "\n")
}

// StringToLines splits a flat buffer back into its line array.
// StringToLines(LinesToString(l)) == l holds for every line array l.
func StringToLines(s string) []string {
	return strings.Split(s, "\n")
}

// Cut returns the del characters at pos, clamped the same way Splice clamps,
// so callers capturing removed text see exactly what Splice will remove.
func Cut(s string, pos, del int) string {
	if pos < 0 {
		pos = 0
	}
	if pos > len(s) {
		pos = len(s)
	}
	if del < 0 {
		del = 0
	}
	end := pos + del
	if end > len(s) {
		end = len(s)
	}
	return s[pos:end]
}

// Splice removes del characters at pos and inserts insert in their place.
// Offsets are clamped to the buffer bounds so a splice never fails; an
// out-of-range edit trims to whatever portion of the buffer it covers.
func Splice(s string, pos, del int, insert string) string {
	if pos < 0 {
		pos = 0
	}
	if pos > len(s) {
		pos = len(s)
	}
	if del < 0 {
		del = 0
	}
	end := pos + del
	if end > len(s) {
		end = len(s)
	}
	return s[:pos] + insert + s[end:]
}
