// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/slackflow/pkg/rtm"
)

// recordedCall captures one transport invocation for assertions.
type recordedCall struct {
	Method string
	Args   map[string]any
	Await  bool
}

// fakeTransport substitutes the RTM client. Tests drive lifecycle by
// pushing events into its channel and script the API via handlers.
type fakeTransport struct {
	events chan rtm.Event

	mu       sync.Mutex
	started  bool
	closed   bool
	calls    []recordedCall
	apiCalls []recordedCall

	// callHandler scripts real-time replies; nil echoes an ok frame.
	callHandler func(method string, args map[string]any) (map[string]any, error)
	// apiHandler scripts Web API responses; nil uses defaultAPIHandler.
	apiHandler func(method string, args map[string]any) (map[string]any, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan rtm.Event, 64)}
}

func (f *fakeTransport) Start(ctx context.Context) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeTransport) Events() <-chan rtm.Event {
	return f.events
}

func (f *fakeTransport) Call(ctx context.Context, method string, args map[string]any, awaitReply bool) (map[string]any, error) {
	f.mu.Lock()
	handler := f.callHandler
	f.calls = append(f.calls, recordedCall{Method: method, Args: args, Await: awaitReply})
	f.mu.Unlock()
	if handler != nil {
		return handler(method, args)
	}
	if !awaitReply {
		return nil, nil
	}
	return map[string]any{"ok": true, "reply_to": float64(1), "ts": "111.222"}, nil
}

func (f *fakeTransport) CallAPI(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	f.mu.Lock()
	handler := f.apiHandler
	f.apiCalls = append(f.apiCalls, recordedCall{Method: method, Args: args})
	f.mu.Unlock()
	if handler != nil {
		return handler(method, args)
	}
	return defaultAPIHandler(method)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// emit injects a transport event into the session's loop.
func (f *fakeTransport) emit(evt rtm.Event) {
	f.events <- evt
}

func (f *fakeTransport) rtmCalls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeTransport) apiCallsFor(method string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.apiCalls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// defaultAPIHandler serves a small fixture workspace so a full refresh
// succeeds out of the box.
func defaultAPIHandler(method string) (map[string]any, error) {
	switch method {
	case "conversations.list":
		return map[string]any{"ok": true, "channels": []any{
			map[string]any{"id": "C1", "name": "general", "is_channel": true},
			map[string]any{"id": "D1", "is_im": true, "user": "U1"},
		}}, nil
	case "users.list":
		return map[string]any{"ok": true, "members": []any{
			map[string]any{"id": "U1", "name": "alice", "real_name": "Alice"},
			map[string]any{"id": "U2", "name": "bob", "real_name": "Bob"},
		}}, nil
	case "team.info":
		return map[string]any{"ok": true, "team": map[string]any{
			"id": "T1", "name": "Acme", "domain": "acme",
		}}, nil
	case "auth.test":
		return map[string]any{"ok": true, "user_id": "U2", "user": "bob", "team_id": "T1", "team": "Acme"}, nil
	case "dnd.info":
		return map[string]any{"ok": true, "dnd_enabled": false}, nil
	case "bots.info":
		return map[string]any{"ok": true, "bot": map[string]any{
			"id": "B1", "name": "deploybot", "app_id": "A1",
		}}, nil
	default:
		return map[string]any{"ok": true}, nil
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{Token: "xoxb-test"}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

// newTestSession assembles a started session on a fake transport.
func newTestSession(t *testing.T, cfg *Config) (*Session, *fakeTransport) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	ft := newFakeTransport()
	s := newSessionWith(cfg, NewRegistry(zerolog.Nop()), ft, zerolog.Nop())
	s.start()
	t.Cleanup(func() { s.Close() })
	return s, ft
}

// connectSession drives the session to ready and waits for the cache to
// finish its initial refresh.
func connectSession(t *testing.T, s *Session, ft *fakeTransport) {
	t.Helper()
	ft.emit(rtm.Event{Type: rtm.EventTypeConnecting})
	ft.emit(rtm.Event{Type: rtm.EventTypeAuthenticated})
	ft.emit(rtm.Event{Type: rtm.EventTypeConnected})
	ft.emit(rtm.Event{Type: rtm.EventTypeHello, Data: map[string]any{"type": "hello"}})
	waitFor(t, func() bool {
		if s.Status() != StatusReady {
			return false
		}
		_, ok := s.FindChannelByID("C1")
		return ok
	})
}

// waitFor polls a condition until it holds or the test times out.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

// drainUntil pulls delivered events until one matches, failing on timeout.
func drainUntil(t *testing.T, s *Session, eventType string) rtm.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %q", eventType)
			}
			if evt.Type == eventType {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
		}
	}
}
