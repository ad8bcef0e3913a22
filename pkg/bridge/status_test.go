// Copyright 2024-2026 Aiku AI

package bridge

import "testing"

func TestStatus_Active(t *testing.T) {
	t.Parallel()
	for _, status := range []Status{StatusConnected, StatusReady} {
		if !status.Active() {
			t.Errorf("%s should be active", status)
		}
	}
	for _, status := range []Status{StatusIdle, StatusConnecting, StatusAuthenticated,
		StatusReconnecting, StatusDisconnecting, StatusDisconnected, StatusError} {
		if status.Active() {
			t.Errorf("%s should not be active", status)
		}
	}
}

// A same-state set is a no-op and must not reset the change timestamp.
func TestStateMachine_SetNoOp(t *testing.T) {
	t.Parallel()
	m := newStateMachine()
	if _, changed := m.set(StatusConnecting); !changed {
		t.Fatal("first set should transition")
	}
	at := m.ChangedAt()
	if _, changed := m.set(StatusConnecting); changed {
		t.Error("same-state set should not transition")
	}
	if !m.ChangedAt().Equal(at) {
		t.Error("same-state set must not touch the timestamp")
	}
}

func TestStateMachine_Subscribe(t *testing.T) {
	t.Parallel()
	m := newStateMachine()
	ch, cancel := m.subscribe()
	defer cancel()

	m.set(StatusConnecting)
	tr := <-ch
	if tr.From != StatusIdle || tr.To != StatusConnecting {
		t.Errorf("transition: got %s -> %s", tr.From, tr.To)
	}

	cancel()
	if _, open := <-ch; open {
		t.Error("cancel should close the subscription channel")
	}
	// A set after cancel must not panic.
	m.set(StatusConnected)
}

func TestStateMachine_CloseSubs(t *testing.T) {
	t.Parallel()
	m := newStateMachine()
	ch, cancel := m.subscribe()
	m.closeSubs()
	if _, open := <-ch; open {
		t.Error("closeSubs should close subscriber channels")
	}
	// Cancel after closeSubs is a harmless no-op.
	cancel()
}
