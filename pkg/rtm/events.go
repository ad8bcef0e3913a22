// Copyright 2024-2026 Aiku AI

package rtm

// Event is one message delivered on the client's event stream: a backend
// push event or a connection lifecycle marker. Data is the raw decoded
// frame for push events; lifecycle markers may carry supplementary data
// (the rtm.connect payload, an error reason).
type Event struct {
	Type string
	Data map[string]any
}

// Lifecycle event types emitted by the client alongside backend push
// events. EventTypeHello is server-sent and marks the session ready.
const (
	EventTypeConnecting    = "connecting"
	EventTypeAuthenticated = "authenticated"
	EventTypeConnected     = "connected"
	EventTypeHello         = "hello"
	EventTypeReconnecting  = "reconnecting"
	EventTypeDisconnecting = "disconnecting"
	EventTypeDisconnected  = "disconnected"
	EventTypeError         = "error"
)
