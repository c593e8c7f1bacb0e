package speaker

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newGateManager() (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	m := newTestManager(newFakeSynth(), 4)
	m.cfg.MarkGrace = time.Second
	m.now = clock.now
	return m, clock
}

func TestSpeechGate_EstimateExpires(t *testing.T) {
	m, clock := newGateManager()

	if m.IsSpeechGateActive("CA1") {
		t.Fatal("Expected no gate before activation")
	}
	est := m.ActivateSpeechGate("CA1", "Your haircut is booked for tomorrow", 20000)
	if est != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s estimate, got %v", est)
	}
	if !m.IsSpeechGateActive("CA1") {
		t.Error("Expected gate active right after activation")
	}

	clock.advance(2400 * time.Millisecond)
	if !m.IsSpeechGateActive("CA1") {
		t.Error("Expected gate active before the estimate")
	}
	clock.advance(200 * time.Millisecond)
	if m.IsSpeechGateActive("CA1") {
		t.Error("Expected gate inactive after the estimate")
	}
}

func TestSpeechGate_MarkRelease(t *testing.T) {
	m, clock := newGateManager()

	m.ActivateSpeechGate("CA1", "Hello", 8000)
	m.AwaitMark("CA1", "reply-1")

	clock.advance(1500 * time.Millisecond)
	if !m.IsSpeechGateActive("CA1") {
		t.Error("Expected gate to wait for its mark past the estimate")
	}

	if m.ReleaseSpeechGate("CA1", "reply-0") {
		t.Error("Expected stale mark to be ignored")
	}
	if !m.ReleaseSpeechGate("CA1", "reply-1") {
		t.Error("Expected matching mark to release the gate")
	}
	if m.IsSpeechGateActive("CA1") {
		t.Error("Expected gate inactive after mark release")
	}
	if m.ReleaseSpeechGate("CA1", "reply-1") {
		t.Error("Expected second release to be a no-op")
	}
}

func TestSpeechGate_MarkNeverArrives(t *testing.T) {
	m, clock := newGateManager()

	m.ActivateSpeechGate("CA1", "Hello", 8000)
	m.AwaitMark("CA1", "reply-1")

	clock.advance(2100 * time.Millisecond)
	if m.IsSpeechGateActive("CA1") {
		t.Error("Expected gate to expire after estimate plus grace")
	}
}

func TestSpeechGate_UnconditionalRelease(t *testing.T) {
	m, _ := newGateManager()

	m.ActivateSpeechGate("CA1", "Hello", 8000)
	m.AwaitMark("CA1", "reply-1")
	if !m.ReleaseSpeechGate("CA1", "") {
		t.Error("Expected barge-in release without a mark")
	}

	g, ok := m.Gate("CA1")
	if !ok || g.Text != "Hello" || g.Active(time.Time{}) {
		t.Errorf("Unexpected gate %+v ok=%v", g, ok)
	}
}

func TestSpeechGate_Reactivation(t *testing.T) {
	m, clock := newGateManager()

	m.ActivateSpeechGate("CA1", "First", 8000)
	m.ReleaseSpeechGate("CA1", "")
	clock.advance(100 * time.Millisecond)
	m.ActivateSpeechGate("CA1", "Second", 8000)

	if !m.IsSpeechGateActive("CA1") {
		t.Error("Expected new gate to be active")
	}
	if g, _ := m.Gate("CA1"); g.Text != "Second" {
		t.Errorf("Expected latest text, got %q", g.Text)
	}
}

func TestSpeakerCleanupCall_Idempotent(t *testing.T) {
	m, _ := newGateManager()

	m.Synthesize(t.Context(), "Hello", "CA123")
	m.ActivateSpeechGate("CA123", "Hello", 8000)

	m.CleanupCall("CA123")
	m.CleanupCall("CA123")

	if m.IsSpeechGateActive("CA123") || m.ActiveGates() != 0 {
		t.Error("Expected gate state released")
	}
	if m.CacheLen() != 1 {
		t.Errorf("Expected shared cache to survive call cleanup, got %d entries", m.CacheLen())
	}
}
