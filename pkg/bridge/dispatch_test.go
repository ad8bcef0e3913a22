// Copyright 2024-2026 Aiku AI

package bridge

import (
	"errors"
	"testing"

	"github.com/aiku/slackflow/pkg/rtm"
)

// "#name" shorthand resolves the room through the cache and expands into a
// message call with the coerced text.
func TestSend_ChannelShorthand(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)

	resp, err := s.Send("#general", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ok, _ := resp["ok"].(bool); !ok {
		t.Errorf("resp: got %v", resp)
	}

	calls := ft.rtmCalls()
	if len(calls) != 1 {
		t.Fatalf("rtm calls: got %d, want 1", len(calls))
	}
	if calls[0].Method != "message" || !calls[0].Await {
		t.Errorf("call: got %+v", calls[0])
	}
	if calls[0].Args["channel"] != "C1" || calls[0].Args["text"] != "hello" {
		t.Errorf("args: got %v", calls[0].Args)
	}
}

// "@name" resolves to the member's direct channel.
func TestSend_DirectShorthand(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)

	if _, err := s.Send("@alice", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := ft.rtmCalls()
	if calls[0].Args["channel"] != "D1" {
		t.Errorf("channel: got %v", calls[0].Args["channel"])
	}
}

// An unresolvable shorthand is a local usage error; nothing reaches the
// transport.
func TestSend_UnknownChannel(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)

	if _, err := s.Send("#nonexistent", "hi"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("want ErrUnknownChannel, got %v", err)
	}
	if calls := ft.rtmCalls(); len(calls) != 0 {
		t.Errorf("transport should stay untouched, got %v", calls)
	}
}

// Non-scalar shorthand text is coerced through Stringify, never dropped.
func TestSend_CoercesText(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)

	if _, err := s.Send("#general", map[string]any{"a": 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := ft.rtmCalls()
	if calls[0].Args["text"] != `{"a":1}` {
		t.Errorf("text: got %v", calls[0].Args["text"])
	}
}

// A canonical message call resolves an @/#-prefixed channel option and
// coerces its text.
func TestSend_CanonicalMessage(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)

	if _, err := s.Send("message", map[string]any{"channel": "#general", "text": 42}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := ft.rtmCalls()
	if calls[0].Args["channel"] != "C1" {
		t.Errorf("channel: got %v", calls[0].Args["channel"])
	}
	if calls[0].Args["text"] != "42" {
		t.Errorf("text: got %v", calls[0].Args["text"])
	}
}

// Fire-and-forget methods return a synthesized ack; the transport is told
// not to await a reply.
func TestSend_FireAndForget(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)

	resp, err := s.Send("typing", map[string]any{"channel": "C1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ok, _ := resp["ok"].(bool); !ok || resp["type"] != "typing" {
		t.Errorf("ack: got %v", resp)
	}
	calls := ft.rtmCalls()
	if calls[0].Await {
		t.Error("typing must not await a reply")
	}
}

// Sends while not connected fail fast with a structured payload instead of
// queueing or erroring.
func TestSend_NotConnected(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	s.state.UpsertChannel(Channel{ID: "C1", Name: "general", IsChannel: true})

	resp, err := s.Send("#general", "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Errorf("resp: got %v", resp)
	}
	if resp["error"] != "not_connected" {
		t.Errorf("error: got %v", resp["error"])
	}
	if calls := ft.rtmCalls(); len(calls) != 0 {
		t.Errorf("transport should stay untouched, got %v", calls)
	}
}

// Transport failures surface as the structured error payload with a nil Go
// error.
func TestSend_TransportFailure(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)
	ft.mu.Lock()
	ft.callHandler = func(method string, args map[string]any) (map[string]any, error) {
		return nil, rtm.ErrReplyTimeout
	}
	ft.mu.Unlock()

	resp, err := s.Send("#general", "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp["error"] != "reply_timeout" || resp["ok"] != false {
		t.Errorf("resp: got %v", resp)
	}
}

// CallAPI returns a rejected call's structured payload, dressed, with a nil
// Go error.
func TestCallAPI_Rejected(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)
	ft.mu.Lock()
	ft.apiHandler = func(method string, args map[string]any) (map[string]any, error) {
		payload := map[string]any{"ok": false, "error": "channel_not_found"}
		return payload, &rtm.APIError{Method: method, Reason: "channel_not_found", Payload: payload}
	}
	ft.mu.Unlock()

	resp, err := s.CallAPI("chat.postMessage", map[string]any{"channel": "Cmissing"})
	if err != nil {
		t.Fatalf("CallAPI: %v", err)
	}
	if resp["error"] != "channel_not_found" {
		t.Errorf("resp: got %v", resp)
	}
}

// A successful CallAPI response comes back dressed against the cache.
func TestCallAPI_DressesResponse(t *testing.T) {
	t.Parallel()
	s, ft := newTestSession(t, nil)
	connectSession(t, s, ft)
	ft.mu.Lock()
	ft.apiHandler = func(method string, args map[string]any) (map[string]any, error) {
		if method == "chat.postMessage" {
			return map[string]any{"ok": true, "channel": "C1", "ts": "1.2"}, nil
		}
		return defaultAPIHandler(method)
	}
	ft.mu.Unlock()

	resp, err := s.CallAPI("chat.postMessage", map[string]any{"channel": "C1", "text": "hi"})
	if err != nil {
		t.Fatalf("CallAPI: %v", err)
	}
	if ch, ok := resp["channelObject"].(Channel); !ok || ch.Name != "general" {
		t.Errorf("channelObject: got %v", resp["channelObject"])
	}
}
