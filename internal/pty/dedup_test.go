package pty

import "testing"

func TestDedupWindow_SuppressesExactRepeat(t *testing.T) {
	w := newDedupWindow(16)
	if w.shouldSuppress("A") {
		t.Fatal("first occurrence should not be suppressed")
	}
	w.record("A")
	if !w.shouldSuppress("A") {
		t.Fatal("exact repeat of last emitted line should be suppressed")
	}
}

func TestDedupWindow_SuppressesNormalizedWhitespaceVariant(t *testing.T) {
	w := newDedupWindow(16)
	w.record("A")
	if !w.shouldSuppress("  A  ") {
		t.Fatal("whitespace-variant of a windowed line should be suppressed")
	}
}

func TestDedupWindow_ScenarioFromSpec(t *testing.T) {
	// spec.md §8 scenario 1: "A\n","A\n","  A  \n","B\n" -> emitted "A\nB\n"
	w := newDedupWindow(16)
	lines := []string{"A", "A", "  A  ", "B"}
	var kept []string
	for _, l := range lines {
		if w.shouldSuppress(l) {
			continue
		}
		w.record(l)
		kept = append(kept, l)
	}
	if len(kept) != 2 || kept[0] != "A" || kept[1] != "B" {
		t.Fatalf("expected [A B], got %v", kept)
	}
}

func TestDedupWindow_DoesNotResetOnSuppressed(t *testing.T) {
	w := newDedupWindow(16)
	w.record("A")
	w.record("B")
	// "A" is still in the window even though B was the last emitted.
	if !w.shouldSuppress("A") {
		t.Fatal("A should still be suppressed via window membership, not just last-emitted")
	}
}

func TestDedupWindow_PrefixMatchForLongLines(t *testing.T) {
	w := newDedupWindow(16)
	w.record("this is a fairly long line of terminal output")
	if !w.shouldSuppress("this is a fairly long line that differs at the tail") {
		t.Fatal("expected prefix>=15 match on length>=20 line to be suppressed")
	}
}

func TestDedupWindow_ShortLinesNotPrefixMatched(t *testing.T) {
	w := newDedupWindow(16)
	w.record("short one")
	if w.shouldSuppress("short two") {
		t.Fatal("lines under length 20 should not use the prefix/ratio rule")
	}
}

func TestDedupWindow_WindowEviction(t *testing.T) {
	w := newDedupWindow(2)
	w.record("A")
	w.record("B")
	w.record("C")
	if w.shouldSuppress("A") {
		t.Fatal("A should have been evicted once window size 2 is exceeded")
	}
}
