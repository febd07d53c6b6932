package pty

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var normalizeCaser = cases.Lower(language.Und)

// normalizeLine produces the whitespace-collapsed, lowercased form of a
// line used for the non-exact dedup comparisons.
func normalizeLine(line string) string {
	fields := strings.Fields(line)
	return normalizeCaser.String(strings.Join(fields, " "))
}

// dedupWindow holds the sliding window of the last N emitted lines, in
// both exact and normalized form, used to suppress repeated terminal
// output (spec.md §4.1 "Deduplication").
type dedupWindow struct {
	size       int
	exact      []string
	normalized []string
	lastEmitted string
}

func newDedupWindow(size int) *dedupWindow {
	if size <= 0 {
		size = 16
	}
	return &dedupWindow{size: size}
}

// shouldSuppress reports whether line matches rule (a)-(d) from spec.md
// §4.1, verbatim:
//
//	(a) equals the last emitted line
//	(b) is an exact member of the window
//	(c) its normalized form is in the window
//	(d) for lines of length >= 20: prefix-match (>=15 chars) against a
//	    windowed entry, or normalized containment with length ratio >= 0.8
//
// Suppressed lines do not reset the window (the caller must not call
// record for a suppressed line).
func (d *dedupWindow) shouldSuppress(line string) bool {
	if line == d.lastEmitted {
		return true
	}
	for _, e := range d.exact {
		if e == line {
			return true
		}
	}
	norm := normalizeLine(line)
	for _, n := range d.normalized {
		if n == norm {
			return true
		}
	}
	if len(line) >= 20 {
		prefix := line
		if len(prefix) > 15 {
			prefix = prefix[:15]
		}
		for _, e := range d.exact {
			if len(e) >= 15 && strings.HasPrefix(e, prefix) {
				return true
			}
		}
		for _, n := range d.normalized {
			if containsWithRatio(norm, n, 0.8) {
				return true
			}
		}
	}
	return false
}

// containsWithRatio reports whether a contains b or b contains a (after
// normalization) and the shorter string is at least ratio of the
// longer's length.
func containsWithRatio(a, b string, ratio float64) bool {
	if a == "" || b == "" {
		return false
	}
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	if !strings.Contains(longer, shorter) {
		return false
	}
	return float64(len(shorter))/float64(len(longer)) >= ratio
}

// record appends an emitted line to the window, evicting the oldest
// entry once size is exceeded.
func (d *dedupWindow) record(line string) {
	d.lastEmitted = line
	d.exact = append(d.exact, line)
	d.normalized = append(d.normalized, normalizeLine(line))
	if len(d.exact) > d.size {
		over := len(d.exact) - d.size
		d.exact = d.exact[over:]
		d.normalized = d.normalized[over:]
	}
}
