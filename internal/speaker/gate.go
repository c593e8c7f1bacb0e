package speaker

import (
	"time"

	"github.com/lexiqai/salon-voice-gateway/internal/observability"
)

// Gate describes what the assistant is saying on a call. It is advisory:
// caller audio is never blocked while a gate is active.
type Gate struct {
	Text         string
	StartedAt    time.Time
	EstimatedEnd time.Time

	// Mark names the playback marker whose echo ends the gate; empty when
	// the gate relies on the estimate alone.
	Mark string

	released bool
}

// Active reports whether the gate still holds at now.
func (g *Gate) Active(now time.Time) bool {
	return !g.released && now.Before(g.EstimatedEnd)
}

// ActivateSpeechGate marks the call as speaking text and returns the
// estimated playback duration.
func (m *Manager) ActivateSpeechGate(callID, text string, audioBytes int) time.Duration {
	est := m.EstimateDuration(text, audioBytes)
	now := m.now()

	m.gateMu.Lock()
	m.gates[callID] = &Gate{
		Text:         text,
		StartedAt:    now,
		EstimatedEnd: now.Add(est),
	}
	m.gateMu.Unlock()

	observability.RecordSpeechGate("activate")
	m.logger.Debug().
		Str("call_id", callID).
		Dur("estimate", est).
		Msg("Speech gate activated")
	return est
}

// AwaitMark ties the active gate to a playback marker. The gate then holds
// until ReleaseSpeechGate receives that mark, or until the estimate plus the
// mark grace period passes.
func (m *Manager) AwaitMark(callID, mark string) {
	m.gateMu.Lock()
	defer m.gateMu.Unlock()
	g, ok := m.gates[callID]
	if !ok || g.released {
		return
	}
	g.Mark = mark
	g.EstimatedEnd = g.EstimatedEnd.Add(m.cfg.MarkGrace)
}

// IsSpeechGateActive reports whether the assistant is still speaking on the call.
func (m *Manager) IsSpeechGateActive(callID string) bool {
	m.gateMu.RLock()
	defer m.gateMu.RUnlock()
	g, ok := m.gates[callID]
	return ok && g.Active(m.now())
}

// ReleaseSpeechGate ends the gate. A non-empty mark only releases a gate
// waiting on that mark, so stale marks from earlier replies are ignored.
// It reports whether a gate was released.
func (m *Manager) ReleaseSpeechGate(callID, mark string) bool {
	m.gateMu.Lock()
	defer m.gateMu.Unlock()
	g, ok := m.gates[callID]
	if !ok || g.released {
		return false
	}
	if mark != "" && mark != g.Mark {
		return false
	}
	g.released = true
	if mark != "" {
		observability.RecordSpeechGate("mark_release")
	}
	return true
}

// Gate returns a copy of the call's gate, if any.
func (m *Manager) Gate(callID string) (Gate, bool) {
	m.gateMu.RLock()
	defer m.gateMu.RUnlock()
	g, ok := m.gates[callID]
	if !ok {
		return Gate{}, false
	}
	return *g, true
}

// CleanupCall drops the call's gate. The audio cache is shared across calls
// and is left alone. Repeated calls are no-ops.
func (m *Manager) CleanupCall(callID string) {
	m.gateMu.Lock()
	defer m.gateMu.Unlock()
	delete(m.gates, callID)
}

// ActiveGates returns the number of calls with gate state.
func (m *Manager) ActiveGates() int {
	m.gateMu.RLock()
	defer m.gateMu.RUnlock()
	return len(m.gates)
}
