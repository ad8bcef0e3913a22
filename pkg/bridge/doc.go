// Copyright 2024-2026 Aiku AI

// Package bridge implements the stateful core of the Slack→flow-engine
// bridge: one persistent real-time session per token, a locally cached
// mirror of the remote entities, and enrichment of every inbound and
// outbound payload against that mirror.
//
// # Core Types
//
// [Registry] owns the token→session mapping and enforces the one live
// session per token invariant. All consumers holding the same token share
// the session it hands out.
//
// [Session] is the connection state machine. It drives the transport's
// lifecycle events through a typed [Status], keeps the [State] cache in
// sync (full refresh on connect plus a periodic timer, incremental
// mutation from push events), hosts a watchdog that reports stuck
// connection states, and delivers filtered, dressed events to
// collaborators.
//
// [State] is the in-memory entity cache: channels, members, bots, the
// team, the session's own identity, presence, and do-not-disturb status.
// Lookups distinguish "not yet loaded" from "confirmed absent" by
// reporting a plain miss either way; sub-maps initialize lazily.
//
// # Dressing
//
// Session.Dress attaches resolved-entity side fields (userObject,
// channelObject, ...) to any payload field whose name appears in the
// enrichment schema and whose id resolves in the cache. The walk is
// depth-limited and idempotent, so cyclic payloads terminate and
// re-dressing is a no-op.
//
// # Outbound calls
//
// Session.Send dispatches real-time calls with @name/#name channel
// shorthand, total text coercion, and a fixed reply policy; Session.CallAPI
// covers the REST channel. Remote failures come back as the structured
// error payload rather than a Go error, so collaborators branch on the
// envelope instead of installing error handlers.
package bridge
