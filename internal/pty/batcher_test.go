package pty

import (
	"testing"
	"time"
)

func TestTierTimeout_ScenarioFromSpec(t *testing.T) {
	// spec.md §8 scenario 2: tiers [{100,2000},{0,4000}]; buffer at 150
	// chars -> 2000ms; buffer at 10 chars -> 4000ms.
	tiers := sortedTiers([]TierEntry{
		{MinChars: 100, Timeout: 2 * time.Second},
		{MinChars: 0, Timeout: 4 * time.Second},
	})
	if got := tierTimeout(tiers, 150); got != 2*time.Second {
		t.Fatalf("expected 2s tier for 150 chars, got %v", got)
	}
	if got := tierTimeout(tiers, 10); got != 4*time.Second {
		t.Fatalf("expected 4s tier for 10 chars, got %v", got)
	}
}

func TestTierTimeout_DefaultTiers(t *testing.T) {
	tiers := sortedTiers(defaultTiers)
	cases := []struct {
		size int
		want time.Duration
	}{
		{12000, 10 * time.Millisecond},
		{2500, 100 * time.Millisecond},
		{150, 2 * time.Second},
		{5, 4 * time.Second},
	}
	for _, c := range cases {
		if got := tierTimeout(tiers, c.size); got != c.want {
			t.Fatalf("size %d: expected %v, got %v", c.size, c.want, got)
		}
	}
}

func TestDeltaBatch_AppendAndFlush(t *testing.T) {
	var b deltaBatch
	if !b.empty() {
		t.Fatal("expected new batch to be empty")
	}
	b.append("line one")
	b.append("line two")
	if b.empty() {
		t.Fatal("expected non-empty batch after appends")
	}
	got := b.flush()
	if got != "line one\nline two\n" {
		t.Fatalf("unexpected flushed content: %q", got)
	}
	if !b.empty() {
		t.Fatal("expected batch to be empty after flush")
	}
}
