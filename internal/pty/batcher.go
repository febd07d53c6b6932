package pty

import (
	"sort"
	"strings"
	"time"
)

// sortedTiers returns a copy of tiers sorted descending by MinChars, the
// order tierTimeout's linear search expects.
func sortedTiers(tiers []TierEntry) []TierEntry {
	out := make([]TierEntry, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool { return out[i].MinChars > out[j].MinChars })
	return out
}

// tierTimeout does a linear search over tiers (already sorted descending
// by MinChars) and returns the timeout of the first entry whose
// threshold the buffer size meets or exceeds.
func tierTimeout(tiers []TierEntry, bufSize int) time.Duration {
	for _, t := range tiers {
		if bufSize >= t.MinChars {
			return t.Timeout
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1].Timeout
	}
	return 4 * time.Second
}

// deltaBatch accumulates dedup-surviving lines pending flush as a single
// message_delta.
type deltaBatch struct {
	buf strings.Builder
}

func (b *deltaBatch) append(line string) {
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
}

func (b *deltaBatch) len() int {
	return b.buf.Len()
}

func (b *deltaBatch) empty() bool {
	return b.buf.Len() == 0
}

// flush returns the accumulated content and resets the buffer.
func (b *deltaBatch) flush() string {
	s := b.buf.String()
	b.buf.Reset()
	return s
}
