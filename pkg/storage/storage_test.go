package storage

import (
	"context"
	"fmt"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveMessage(ctx, "c1", "hello", "user", map[string]string{"channel": "discord"})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if id == "" {
		t.Fatal("empty message id")
	}

	n, err := s.MessageCount(ctx, "c1")
	if err != nil {
		t.Fatalf("MessageCount: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d", n)
	}

	if _, err := s.SaveMessage(ctx, "", "x", "user", nil); err == nil {
		t.Error("empty conversation id accepted")
	}
}

func TestGetContextOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := s.SaveMessage(ctx, "c1", fmt.Sprintf("turn %d", i), role, nil); err != nil {
			t.Fatalf("SaveMessage %d: %v", i, err)
		}
	}
	if _, err := s.SaveMessage(ctx, "c2", "other conversation", "user", nil); err != nil {
		t.Fatal(err)
	}

	history, err := s.GetContext(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	if history[0].Content != "turn 0" || history[4].Content != "turn 4" {
		t.Errorf("history not oldest-first: %v", history)
	}
	if history[1].Role != "assistant" {
		t.Errorf("role lost: %v", history[1])
	}
}

func TestGetContextEmptyConversation(t *testing.T) {
	s := openTestStore(t)

	history, err := s.GetContext(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %v, want empty", history)
	}
}
