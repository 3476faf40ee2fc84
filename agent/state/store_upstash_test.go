package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeRedis implements the handful of Upstash REST commands the store uses.
type fakeRedis struct {
	mu       sync.Mutex
	data     map[string]string
	commands [][]any
}

func newFakeRedis(t *testing.T) (*fakeRedis, *httptest.Server) {
	t.Helper()
	f := &fakeRedis{data: map[string]string{}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		var cmd []any
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, f.handle(cmd))
	}))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeRedis) handle(cmd []any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)

	name, _ := cmd[0].(string)
	key, _ := cmd[1].(string)
	switch name {
	case "GET":
		v, ok := f.data[key]
		if !ok {
			return `{"result":null}`
		}
		encoded, _ := json.Marshal(v)
		return fmt.Sprintf(`{"result":%s}`, encoded)
	case "SET":
		value, _ := cmd[2].(string)
		nx := false
		for _, arg := range cmd[3:] {
			if s, ok := arg.(string); ok && strings.EqualFold(s, "NX") {
				nx = true
			}
		}
		if _, exists := f.data[key]; exists && nx {
			return `{"result":null}`
		}
		f.data[key] = value
		return `{"result":"OK"}`
	case "DEL":
		delete(f.data, key)
		return `{"result":1}`
	default:
		return `{"error":"unknown command"}`
	}
}

func (f *fakeRedis) lastCommand() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func newTestUpstashStore(t *testing.T, server *httptest.Server, opts ...StoreOption) *UpstashRedisStore {
	t.Helper()
	opts = append([]StoreOption{WithHTTPClient(server.Client())}, opts...)
	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, opts...)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	return store
}

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	got, err := store.redisKey("sms:+972500000000")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "concierge:session:sms:+972500000000" {
		t.Fatalf("redisKey() = %q", got)
	}
}

func TestUpstashRedisStoreRedisKeyEmptySession(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidSession", err)
	}
}

func TestUpstashRedisStoreInitSessionUsesNX(t *testing.T) {
	t.Parallel()

	redis, server := newFakeRedis(t)
	store := newTestUpstashStore(t, server, WithKeyPrefix("test:"))
	ctx := context.Background()

	if err := store.InitSession(ctx, "whatsapp:+972501111111", ChannelChat); err != nil {
		t.Fatalf("InitSession() error = %v", err)
	}
	cmd := redis.lastCommand()
	if cmd[0] != "SET" || cmd[1] != "test:whatsapp:+972501111111" || cmd[3] != "NX" {
		t.Fatalf("unexpected command: %#v", cmd)
	}

	if err := store.AppendTurns(ctx, "whatsapp:+972501111111", UserTurn("hello", store.now())); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}

	// A second init must neither reset history nor change the channel.
	if err := store.InitSession(ctx, "whatsapp:+972501111111", ChannelSMS); err != nil {
		t.Fatalf("InitSession() second call error = %v", err)
	}
	sess, err := store.load(ctx, "whatsapp:+972501111111")
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if sess.Channel != ChannelChat {
		t.Fatalf("channel = %s, want chat", sess.Channel)
	}
	if len(sess.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(sess.History))
	}
}

func TestUpstashRedisStoreAppendAndAttributes(t *testing.T) {
	t.Parallel()

	_, server := newFakeRedis(t)
	store := newTestUpstashStore(t, server, WithTTL(0))
	ctx := context.Background()

	if err := store.InitSession(ctx, "sms:+972502222222", ChannelSMS); err != nil {
		t.Fatalf("InitSession() error = %v", err)
	}
	if err := store.AppendTurns(ctx, "sms:+972502222222", UserTurn("book me tomorrow", store.now())); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}
	call := ToolCall{ID: "call_1", Name: "check_availability", Args: map[string]any{"date": "2026-10-20"}}
	if err := store.AppendTurns(ctx, "sms:+972502222222", ToolInteraction(call, ToolResult{Output: []string{"10:00"}}, store.now())...); err != nil {
		t.Fatalf("AppendTurns() error = %v", err)
	}
	if err := store.SetAttribute(ctx, "sms:+972502222222", AttrPersona, "female"); err != nil {
		t.Fatalf("SetAttribute() error = %v", err)
	}

	history, err := store.History(ctx, "sms:+972502222222")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[1].Call == nil || history[1].Call.Name != "check_availability" {
		t.Fatalf("unexpected tool request turn: %#v", history[1])
	}
	if history[2].Role != RoleTool || history[2].Result == nil || history[2].Result.CallID != "call_1" {
		t.Fatalf("unexpected tool result turn: %#v", history[2])
	}

	persona, err := store.Attribute(ctx, "sms:+972502222222", AttrPersona)
	if err != nil {
		t.Fatalf("Attribute() error = %v", err)
	}
	if persona != "female" {
		t.Fatalf("persona = %q, want female", persona)
	}
}

func TestUpstashRedisStoreMissingSession(t *testing.T) {
	t.Parallel()

	_, server := newFakeRedis(t)
	store := newTestUpstashStore(t, server)

	_, err := store.History(context.Background(), "nobody")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("History() error = %v, want ErrSessionNotFound", err)
	}
}

func TestUpstashRedisStoreDelete(t *testing.T) {
	t.Parallel()

	redis, server := newFakeRedis(t)
	store := newTestUpstashStore(t, server)

	if err := store.Delete(context.Background(), "CA123"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	cmd := redis.lastCommand()
	if cmd[0] != "DEL" || cmd[1] != "concierge:session:CA123" {
		t.Fatalf("unexpected command: %#v", cmd)
	}
}

func TestUpstashRedisStoreConcurrentAppendsAreSerialized(t *testing.T) {
	t.Parallel()

	_, server := newFakeRedis(t)
	store := newTestUpstashStore(t, server)
	ctx := context.Background()

	if err := store.InitSession(ctx, "CA-concurrent", ChannelVoice); err != nil {
		t.Fatalf("InitSession() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.AppendTurns(ctx, "CA-concurrent", UserTurn(fmt.Sprintf("msg-%d", i), store.now())); err != nil {
				t.Errorf("AppendTurns() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := store.History(ctx, "CA-concurrent")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("history length = %d, want %d", len(history), writers)
	}
	if got := store.locks.Len(); got != 0 {
		t.Fatalf("held session locks = %d, want 0", got)
	}
}

func TestUpstashRedisStoreHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	t.Cleanup(server.Close)

	store := newTestUpstashStore(t, server)
	err := store.InitSession(context.Background(), "s1", ChannelChat)
	if err == nil || !strings.Contains(err.Error(), "status=500") {
		t.Fatalf("expected status error, got %v", err)
	}
}
