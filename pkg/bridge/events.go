// Copyright 2024-2026 Aiku AI

package bridge

import "strings"

// EventTypeStateInitialized is the synthetic event emitted once per session
// after the first successful full cache refresh. It always passes the event
// filter.
const EventTypeStateInitialized = "state_initialized"

// eventFilter is an allow-list over event type (and optionally subtype). A
// nil filter admits everything.
type eventFilter struct {
	allow map[string]struct{}
}

// parseEventFilter builds a filter from a comma-separated list of entries.
// Each entry is either a bare event type, which admits all its subtypes, or
// "type::subtype" for an exact pair. An empty spec means no filtering.
func parseEventFilter(spec string) *eventFilter {
	allow := make(map[string]struct{})
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		allow[entry] = struct{}{}
	}
	if len(allow) == 0 {
		return nil
	}
	return &eventFilter{allow: allow}
}

// allows reports whether an event passes. Lifecycle events and the
// state-initialized marker are exempt and handled by the caller.
func (f *eventFilter) allows(eventType, subtype string) bool {
	if f == nil {
		return true
	}
	if _, ok := f.allow[eventType]; ok {
		return true
	}
	if subtype != "" {
		if _, ok := f.allow[eventType+"::"+subtype]; ok {
			return true
		}
	}
	return false
}
