// Copyright 2024-2026 Aiku AI

package bridge

import (
	"sync"
	"time"
)

// Status is the connection state of a session. Transitions are driven
// exclusively by transport lifecycle events; the session never forces one
// except through Close.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusAuthenticated
	StatusConnected
	StatusReady
	StatusReconnecting
	StatusDisconnecting
	StatusDisconnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusAuthenticated:
		return "authenticated"
	case StatusConnected:
		return "connected"
	case StatusReady:
		return "ready"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Active reports whether the state implies a live channel for outbound
// real-time calls and cache refresh.
func (s Status) Active() bool {
	return s == StatusConnected || s == StatusReady
}

// Transition records one state change.
type Transition struct {
	From Status
	To   Status
	At   time.Time
}

// stateMachine tracks the current status and fans transitions out to
// subscribers.
type stateMachine struct {
	mu        sync.RWMutex
	status    Status
	changedAt time.Time
	subs      map[int]chan Transition
	nextSub   int
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		status:    StatusIdle,
		changedAt: time.Now(),
		subs:      make(map[int]chan Transition),
	}
}

func (m *stateMachine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *stateMachine) ChangedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAt
}

// set moves to a new status, notifying subscribers. A same-state set is a
// no-op and does not reset the change timestamp.
func (m *stateMachine) set(to Status) (Transition, bool) {
	m.mu.Lock()
	if m.status == to {
		m.mu.Unlock()
		return Transition{}, false
	}
	tr := Transition{From: m.status, To: to, At: time.Now()}
	m.status = to
	m.changedAt = tr.At
	// Notify under the lock so a concurrent cancel cannot close a channel
	// mid-send. Sends are non-blocking; a slow subscriber drops.
	for _, ch := range m.subs {
		select {
		case ch <- tr:
		default:
		}
	}
	m.mu.Unlock()
	return tr, true
}

// subscribe registers a transition listener. The returned cancel func
// unregisters it and closes the channel.
func (m *stateMachine) subscribe() (<-chan Transition, func()) {
	ch := make(chan Transition, 16)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// closeSubs releases every subscriber. Used on session teardown.
func (m *stateMachine) closeSubs() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
