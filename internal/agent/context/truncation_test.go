package context

import "testing"

func TestTruncateMiddleInsertsNoticeInPlaceOfRemoved(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "you are a helpful assistant", Tokens: 5, IsSystem: true},
	}
	for i := 0; i < 20; i++ {
		messages = append(messages, Message{Role: "user", Content: "filler message in the middle of a long conversation", Tokens: 10})
	}
	messages = append(messages, Message{Role: "user", Content: "second to last"}, Message{Role: "user", Content: "final question"})
	for i := range messages {
		if messages[i].Tokens == 0 {
			messages[i].Tokens = 10
		}
	}

	truncator := NewTruncator(TruncateMiddle, 60)
	truncator.SetKeepFirst(1)
	truncator.SetKeepLast(2)

	kept, result := truncator.Truncate(messages)

	if result.RemovedCount == 0 {
		t.Fatal("expected some messages to be removed")
	}
	if kept[0].Content != messages[0].Content {
		t.Errorf("expected first message retained, got %q", kept[0].Content)
	}
	if kept[len(kept)-1].Content != messages[len(messages)-1].Content {
		t.Errorf("expected last message retained, got %q", kept[len(kept)-1].Content)
	}

	found := false
	for _, m := range kept {
		if m.Role == "developer" && m.Pinned {
			found = true
		}
	}
	if !found {
		t.Error("expected a pinned developer notice message in the kept slice")
	}
}

func TestTruncateMiddleNoopWithinBudget(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "hello", Tokens: 5},
	}
	truncator := NewTruncator(TruncateMiddle, 1000)
	kept, result := truncator.Truncate(messages)
	if result.RemovedCount != 0 {
		t.Errorf("expected no removals, got %d", result.RemovedCount)
	}
	if len(kept) != len(messages) {
		t.Errorf("expected unchanged message count, got %d", len(kept))
	}
}

func TestWithMaxTokensPreservesStrategyAndKeepCounts(t *testing.T) {
	base := NewTruncator(TruncateMiddle, 1000)
	base.SetKeepFirst(2)
	base.SetKeepLast(3)

	clone := base.WithMaxTokens(50)

	if clone.maxTokens != 50 {
		t.Errorf("expected cloned maxTokens=50, got %d", clone.maxTokens)
	}
	if clone.strategy != TruncateMiddle {
		t.Errorf("expected strategy preserved, got %q", clone.strategy)
	}
	if clone.keepFirst != 2 || clone.keepLast != 3 {
		t.Errorf("expected keepFirst/keepLast preserved, got %d/%d", clone.keepFirst, clone.keepLast)
	}
	if base.maxTokens != 1000 {
		t.Errorf("expected original truncator unaffected, got maxTokens=%d", base.maxTokens)
	}
}

func TestTruncateNoneReturnsUnchanged(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "hello", Tokens: 500000},
	}
	truncator := NewTruncator(TruncateNone, 10)
	kept, result := truncator.Truncate(messages)
	if len(kept) != len(messages) {
		t.Errorf("expected TruncateNone to leave messages unchanged, got %d", len(kept))
	}
	if result.RemovedCount != 0 {
		t.Errorf("expected no removals under TruncateNone, got %d", result.RemovedCount)
	}
}
