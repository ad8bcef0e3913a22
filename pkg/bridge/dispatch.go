// Copyright 2024-2026 Aiku AI

package bridge

import (
	"errors"

	"github.com/aiku/slackflow/pkg/rtm"
)

// ErrUnknownChannel is returned by Send when an @name/#name shorthand does
// not resolve in the cache. Nothing is sent in that case.
var ErrUnknownChannel = errors.New("bridge: unknown channel")

// sendMethod is the real-time method a shorthand send expands into.
const sendMethod = "message"

// rtmMethodAwaitsReply is the per-method reply policy. Methods the backend
// acknowledges are awaited; notification-style methods are fire-and-forget
// with a synthesized ack. Unknown methods default to awaiting, so a method
// added backend-side degrades to a timeout, never a silent drop.
func rtmMethodAwaitsReply(method string) bool {
	switch method {
	case "typing", "presence_sub", "presence_query":
		return false
	default:
		return true
	}
}

// Send dispatches one outbound real-time call.
//
// When method starts with "@" or "#" it is a channel shorthand: the name
// resolves through the cache (direct channel for @, room for #) and options
// becomes the message text, coerced through rtm.Stringify. Otherwise method
// is the literal real-time method and options its argument map.
//
// Remote and transport failures come back as a structured error payload
// with a nil Go error; a non-nil error means the call itself was unusable
// (unresolvable shorthand) and nothing was sent. Calls while the session is
// not connected fail fast with a "not_connected" payload rather than
// queueing.
func (s *Session) Send(method string, options any) (map[string]any, error) {
	args := map[string]any{}
	callMethod := method
	if len(method) > 0 && (method[0] == '@' || method[0] == '#') {
		ch, ok := s.state.ChannelByName(method)
		if !ok {
			return nil, ErrUnknownChannel
		}
		callMethod = sendMethod
		args["channel"] = ch.ID
		args["text"] = rtm.Stringify(options)
	} else {
		args = optionsMap(options)
		if callMethod == sendMethod {
			if text, ok := args["text"]; ok {
				args["text"] = rtm.Stringify(text)
			}
		}
		s.resolveChannelOption(args)
	}

	if !s.machine.Status().Active() {
		return errorPayload(callMethod, "not_connected"), nil
	}

	await := rtmMethodAwaitsReply(callMethod)
	resp, err := s.transport.Call(s.runCtx, callMethod, args, await)
	if err != nil {
		s.log.Warn().Err(err).Str("method", callMethod).Msg("Real-time call failed")
		return errorPayload(callMethod, reasonFor(err)), nil
	}
	if !await {
		return map[string]any{"ok": true, "type": callMethod}, nil
	}
	return s.Dress(resp), nil
}

// resolveChannelOption rewrites an @name/#name channel argument to its id.
// Best effort: an unresolvable name passes through untouched and the
// backend reports the failure.
func (s *Session) resolveChannelOption(args map[string]any) {
	name, ok := args["channel"].(string)
	if !ok || name == "" {
		return
	}
	if name[0] != '@' && name[0] != '#' {
		return
	}
	if ch, found := s.state.ChannelByName(name); found {
		args["channel"] = ch.ID
	}
}

// CallAPI invokes a Web API method through the session, dressing the
// response. Remote rejections (ok:false) are returned as the structured
// error payload with a nil Go error, matching Send's convention.
func (s *Session) CallAPI(method string, options any) (map[string]any, error) {
	resp, err := s.transport.CallAPI(s.runCtx, method, optionsMap(options))
	if err != nil {
		var apiErr *rtm.APIError
		if errors.As(err, &apiErr) {
			return s.Dress(apiErr.Payload), nil
		}
		s.log.Warn().Err(err).Str("method", method).Msg("Web API call failed")
		return errorPayload(method, reasonFor(err)), nil
	}
	return s.Dress(resp), nil
}

// optionsMap normalizes a call's options into an argument map. Maps pass
// through; anything else becomes {"text": value} for message-style calls.
func optionsMap(options any) map[string]any {
	switch v := options.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = value
		}
		return out
	default:
		return map[string]any{"text": rtm.Stringify(v)}
	}
}

// errorPayload is the structured failure envelope delivered in place of a
// reply.
func errorPayload(method, reason string) map[string]any {
	return map[string]any{"ok": false, "type": method, "error": reason}
}

// reasonFor maps a transport error to its payload reason string.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, rtm.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, rtm.ErrReplyTimeout):
		return "reply_timeout"
	case errors.Is(err, rtm.ErrClosed):
		return "session_closed"
	default:
		return err.Error()
	}
}
