package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreInitIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.InitSession(ctx, "CA1", ChannelVoice); err != nil {
		t.Fatalf("InitSession() error = %v", err)
	}
	if err := store.AppendTurns(ctx, "CA1", UserTurn("shalom", time.Now())); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}
	if err := store.InitSession(ctx, "CA1", ChannelSMS); err != nil {
		t.Fatalf("InitSession() error = %v", err)
	}

	sess, ok := store.Session("CA1")
	if !ok {
		t.Fatal("session missing")
	}
	if sess.Channel != ChannelVoice {
		t.Fatalf("channel = %s, want voice", sess.Channel)
	}
	if len(sess.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(sess.History))
	}
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if _, err := store.History(context.Background(), "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.InitSession(context.Background(), " ", ChannelChat); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestMemoryStoreRejectsEmptyTurn(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.InitSession(ctx, "s", ChannelChat); err != nil {
		t.Fatalf("InitSession() error = %v", err)
	}
	if err := store.AppendTurns(ctx, "s", Turn{Role: RoleModel}); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("expected ErrEmptyTurn, got %v", err)
	}
}

func TestMemoryStoreHistoryIsACopy(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.InitSession(ctx, "s", ChannelChat); err != nil {
		t.Fatalf("InitSession() error = %v", err)
	}
	if err := store.AppendTurns(ctx, "s", UserTurn("one", time.Now())); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}

	history, _ := store.History(ctx, "s")
	history[0].Text = "mutated"

	again, _ := store.History(ctx, "s")
	if again[0].Text != "one" {
		t.Fatalf("history aliased: %q", again[0].Text)
	}
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.InitSession(ctx, "s", ChannelChat); err != nil {
		t.Fatalf("InitSession() error = %v", err)
	}

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			call := ToolCall{ID: fmt.Sprintf("c%d", i), Name: "check_availability"}
			if err := store.AppendTurns(ctx, "s", ToolInteraction(call, ToolResult{Output: "ok"}, time.Now())...); err != nil {
				t.Errorf("AppendTurns() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, _ := store.History(ctx, "s")
	if len(history) != 2*writers {
		t.Fatalf("history length = %d, want %d", len(history), 2*writers)
	}
	// Pairs must stay adjacent: every request is directly followed by its result.
	for i := 0; i < len(history); i += 2 {
		req, res := history[i], history[i+1]
		if req.Call == nil || res.Result == nil || req.Call.ID != res.Result.CallID {
			t.Fatalf("pair %d interleaved: %#v / %#v", i/2, req, res)
		}
	}
}

func TestToolResultContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   ToolResult
		want string
	}{
		{name: "error", in: ToolResult{Error: "slot taken"}, want: `{"error":"slot taken"}`},
		{name: "string", in: ToolResult{Output: "done"}, want: "done"},
		{name: "nil", in: ToolResult{}, want: "{}"},
		{name: "struct", in: ToolResult{Output: map[string]int{"free": 2}}, want: `{"free":2}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.Content(); got != tt.want {
				t.Fatalf("Content() = %q, want %q", got, tt.want)
			}
		})
	}
}
