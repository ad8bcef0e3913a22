// Copyright 2024-2026 Aiku AI

package bridge

import "time"

// watchdog samples the state machine and reports connection states that
// have overstayed the stuck threshold. It only observes; recovery stays
// with the transport's own reconnect cycle.
func (s *Session) watchdog() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	var lastReported time.Time
	for {
		select {
		case <-s.closed:
			return
		case now := <-ticker.C:
			status := s.machine.Status()
			changedAt := s.machine.ChangedAt()
			stuck, elapsed := stuckState(status, changedAt, now, s.cfg.StuckThreshold)
			if !stuck {
				lastReported = time.Time{}
				continue
			}
			// One warning per stuck period, not one per tick.
			if !lastReported.IsZero() && !changedAt.After(lastReported) {
				continue
			}
			lastReported = changedAt
			s.log.Warn().
				Stringer("status", status).
				Dur("stuck_for", elapsed).
				Msg("Connection state appears stuck")
		}
	}
}

// stuckState reports whether a status has been held past the threshold.
// Settled states never count: active connections, the pre-start idle state,
// a final disconnect, and the terminal error state are all legitimate
// places to stay indefinitely.
func stuckState(status Status, changedAt, now time.Time, threshold time.Duration) (bool, time.Duration) {
	if status.Active() {
		return false, 0
	}
	switch status {
	case StatusIdle, StatusDisconnected, StatusError:
		return false, 0
	}
	elapsed := now.Sub(changedAt)
	if elapsed < threshold {
		return false, 0
	}
	return true, elapsed
}
