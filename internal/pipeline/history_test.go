package pipeline

import "testing"

func TestDistillHistoryExcludesPendingQuestion(t *testing.T) {
	messages := []ChatMessage{
		{Role: "user", Content: "Q1"},
		{Role: "assistant", Content: "A1", Code: "C1", Data: "D1"},
		{Role: "user", Content: "Q2"},
		{Role: "assistant", Content: "A2"},
		{Role: "user", Content: "Q3"},
	}
	turns := DistillHistory(messages)
	want := []Turn{
		{Question: "Q1", Answer: "A1", Code: "C1", Data: "D1"},
		{Question: "Q2", Answer: "A2"},
	}
	if len(turns) != len(want) {
		t.Fatalf("DistillHistory() = %#v", turns)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Fatalf("turn %d = %#v, want %#v", i, turns[i], want[i])
		}
	}
}

func TestDistillHistorySkipsUnpairedMessages(t *testing.T) {
	messages := []ChatMessage{
		{Role: "assistant", Content: "welcome"},
		{Role: "user", Content: "Q1"},
		{Role: "user", Content: "Q2"},
		{Role: "assistant", Content: "A2"},
		{Role: "assistant", Content: "extra"},
	}
	turns := DistillHistory(messages)
	if len(turns) != 1 || turns[0].Question != "Q2" || turns[0].Answer != "A2" {
		t.Fatalf("DistillHistory() = %#v", turns)
	}
}

func TestDistillHistoryEmpty(t *testing.T) {
	if turns := DistillHistory(nil); len(turns) != 0 {
		t.Fatalf("DistillHistory(nil) = %#v", turns)
	}
	if turns := DistillHistory([]ChatMessage{{Role: "user", Content: "only"}}); len(turns) != 0 {
		t.Fatalf("DistillHistory(single) = %#v", turns)
	}
}
