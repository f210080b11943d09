package chat_test

import (
	"context"
	"fmt"
	"testing"

	chatservice "github.com/mleone/profile-chatbot/backend/internal/service/chat"
)

func TestAppendExchangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := chatservice.NewService(chatservice.NewMemoryHistoryStore())

	if err := svc.AppendExchange(ctx, "sess-1", "What do you do?", "I build cloud systems."); err != nil {
		t.Fatalf("AppendExchange err: %v", err)
	}

	messages, err := svc.LoadTranscript(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Sender != "user" || messages[1].Sender != "assistant" {
		t.Fatalf("unexpected senders: %s, %s", messages[0].Sender, messages[1].Sender)
	}
	if messages[0].Content != "What do you do?" {
		t.Fatalf("unexpected user content: %q", messages[0].Content)
	}
}

func TestAppendExchangeTrimsTranscript(t *testing.T) {
	ctx := context.Background()
	svc := chatservice.NewService(chatservice.NewMemoryHistoryStore())

	for i := 0; i < 60; i++ {
		if err := svc.AppendExchange(ctx, "sess-1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("AppendExchange %d err: %v", i, err)
		}
	}

	messages, err := svc.LoadTranscript(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 100 {
		t.Fatalf("expected transcript capped at 100, got %d", len(messages))
	}
	// The oldest turns were dropped.
	if messages[0].Content == "q0" {
		t.Fatal("expected oldest messages to be trimmed")
	}
}

func TestLoadTranscriptUnknownSession(t *testing.T) {
	svc := chatservice.NewService(chatservice.NewMemoryHistoryStore())

	messages, err := svc.LoadTranscript(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty transcript, got %d messages", len(messages))
	}
}

func TestFileHistoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := chatservice.NewFileHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileHistoryStore err: %v", err)
	}
	svc := chatservice.NewService(store)

	if err := svc.AppendExchange(ctx, "sess-file", "hello", "hi there"); err != nil {
		t.Fatalf("AppendExchange err: %v", err)
	}

	messages, err := svc.LoadTranscript(ctx, "sess-file")
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	// A session that never wrote anything reads back empty.
	empty, err := store.Load(ctx, "never-written")
	if err != nil {
		t.Fatalf("Load missing file err: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty transcript, got %d", len(empty))
	}
}
