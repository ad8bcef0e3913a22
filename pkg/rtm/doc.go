// Copyright 2024-2026 Aiku AI

// Package rtm implements the Slack transport layer: a generic Web API REST
// client and the persistent RTM websocket connection.
//
// [APIClient] issues one-shot Web API calls. Methods are plain strings
// ("conversations.list", "chat.postMessage", ...) posted form-encoded to
// the API base URL; responses are raw JSON maps so callers can work with
// arbitrary methods without a typed binding per endpoint.
//
// [Client] owns the duplex RTM session. It authenticates via rtm.connect,
// dials the returned websocket URL, and keeps the connection alive with a
// ping ticker. Connection lifecycle progress (connecting, authenticated,
// connected, hello, reconnecting, ...) is reported on the same event stream
// as backend push events. Transient connection loss is retried with capped
// exponential backoff; this backoff is the only retry mechanism in the
// system. Fatal authentication failures are reported once and not retried.
//
// Outgoing real-time messages carry ids from an atomic counter; replies are
// matched on the reply_to field. Callers choose per call whether to await a
// reply. A disconnect does not abort in-flight calls; they settle on their
// own (usually via the reply timeout).
package rtm
