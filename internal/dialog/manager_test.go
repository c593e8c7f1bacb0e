package dialog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager() (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	m := NewManager(Config{DuplicateWindow: 3 * time.Second, RepeatThreshold: 3, MaxClarifications: 2}, zerolog.Nop())
	m.now = clock.now
	return m, clock
}

func TestDialogState(t *testing.T) {
	m, _ := newTestManager()

	if s := m.GetDialogState("CA1"); s != StateGreeting {
		t.Errorf("Expected initial state greeting, got %s", s)
	}
	m.SetDialogState("CA1", StateListening)
	m.SetDialogState("CA1", StateConfirming)
	if s := m.GetDialogState("CA1"); s != StateConfirming {
		t.Errorf("Expected confirming, got %s", s)
	}
	if s := m.GetDialogState("CA2"); s != StateGreeting {
		t.Errorf("Expected other calls to be unaffected, got %s", s)
	}
	if !StateClosing.Terminal() || StateListening.Terminal() {
		t.Error("Expected only closing to be terminal")
	}
}

func TestShouldSuppressDuplicate(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
		gap    time.Duration
		want   bool
	}{
		{"identical within window", "Book a haircut", "book a haircut.", time.Second, true},
		{"identical after window", "Book a haircut", "book a haircut", 4 * time.Second, false},
		{"different text", "Book a haircut", "book a color", time.Second, false},
		{"empty text", "", "", time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock := newTestManager()
			if m.ShouldSuppressDuplicate("CA1", tt.first) {
				t.Fatal("First transcript must never be a duplicate")
			}
			clock.advance(tt.gap)
			if got := m.ShouldSuppressDuplicate("CA1", tt.second); got != tt.want {
				t.Errorf("ShouldSuppressDuplicate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldSuppressDuplicate_PerCall(t *testing.T) {
	m, _ := newTestManager()
	m.ShouldSuppressDuplicate("CA1", "hello there")
	if m.ShouldSuppressDuplicate("CA2", "hello there") {
		t.Error("Expected duplicate detection to be per call")
	}
}

func TestShouldSuppressRepeatedUtterance(t *testing.T) {
	m, _ := newTestManager()

	utterances := []string{
		"I want a haircut",
		"Um, I want a haircut.",
		"I WANT A HAIRCUT please",
	}
	for i, u := range utterances {
		got := m.ShouldSuppressRepeatedUtterance("CA1", u)
		want := i == len(utterances)-1
		if got != want {
			t.Errorf("occurrence %d: got %v, want %v", i+1, got, want)
		}
	}

	if m.ShouldSuppressRepeatedUtterance("CA1", "actually a manicure") {
		t.Error("Expected a different utterance to reset the run")
	}
}

func TestShouldSuppressRepeatedUtterance_InterruptedRun(t *testing.T) {
	m, _ := newTestManager()

	for _, u := range []string{"book a trim", "book a trim", "what are your hours", "book a trim", "book a trim"} {
		if m.ShouldSuppressRepeatedUtterance("CA1", u) {
			t.Fatalf("Unexpected escalation on %q", u)
		}
	}
	if !m.ShouldSuppressRepeatedUtterance("CA1", "book a trim") {
		t.Error("Expected escalation on the third consecutive repeat")
	}
}

func TestShouldSuppressRepeatedUtterance_FillerOnly(t *testing.T) {
	m, _ := newTestManager()
	for i := 0; i < 5; i++ {
		if m.ShouldSuppressRepeatedUtterance("CA1", "um, uh") {
			t.Fatal("Filler-only utterances must not count as repeats")
		}
	}
}

func TestClarificationAttempts(t *testing.T) {
	m, _ := newTestManager()

	if m.ClarificationsExhausted("CA1") {
		t.Fatal("Expected no exhaustion before any clarification")
	}
	if n := m.IncrementClarificationAttempts("CA1"); n != 1 {
		t.Errorf("Expected 1, got %d", n)
	}
	if m.ClarificationsExhausted("CA1") {
		t.Error("Expected one clarification to be allowed more")
	}
	m.IncrementClarificationAttempts("CA1")
	if !m.ClarificationsExhausted("CA1") {
		t.Error("Expected exhaustion after the maximum clarifications")
	}

	m.ResetClarificationAttempts("CA1")
	if m.ClarificationAttempts("CA1") != 0 || m.ClarificationsExhausted("CA1") {
		t.Error("Expected reset to clear the counter")
	}
}

func TestStoreCallInfo_Merges(t *testing.T) {
	m, _ := newTestManager()

	m.StoreCallInfo("CA1", CallInfo{Service: "haircut"})
	m.StoreCallInfo("CA1", CallInfo{RequestedTime: "tomorrow", Notes: "short layers"})
	info := m.StoreCallInfo("CA1", CallInfo{CustomerName: "Dana", Notes: "first visit"})

	want := CallInfo{CustomerName: "Dana", Service: "haircut", RequestedTime: "tomorrow", Notes: "short layers; first visit"}
	if info != want {
		t.Errorf("StoreCallInfo() = %+v, want %+v", info, want)
	}
	got, ok := m.GetCallInfo("CA1")
	if !ok || got != want || !got.ReadyToConfirm() {
		t.Errorf("GetCallInfo() = %+v %v", got, ok)
	}
	if _, ok := m.GetCallInfo("CA2"); ok {
		t.Error("Expected no info for an unknown call")
	}
}

func TestHistory(t *testing.T) {
	m, _ := newTestManager()

	for i := 0; i < maxHistory+5; i++ {
		m.AppendHistory("CA1", fmt.Sprintf("utterance %d", i))
	}
	h := m.History("CA1")
	if len(h) != maxHistory {
		t.Fatalf("Expected history bounded to %d, got %d", maxHistory, len(h))
	}
	if h[0] != "utterance 5" || h[len(h)-1] != fmt.Sprintf("utterance %d", maxHistory+4) {
		t.Errorf("Expected most recent utterances, got first=%q last=%q", h[0], h[len(h)-1])
	}

	h[0] = "mutated"
	if m.History("CA1")[0] == "mutated" {
		t.Error("Expected History to return a copy")
	}
}

func TestCleanupCall_Idempotent(t *testing.T) {
	m, _ := newTestManager()

	m.SetDialogState("CA123", StateConfirming)
	m.IncrementClarificationAttempts("CA123")
	m.StoreCallInfo("CA123", CallInfo{Service: "haircut"})

	m.CleanupCall("CA123")
	m.CleanupCall("CA123")

	if m.ActiveCalls() != 0 {
		t.Errorf("Expected no active calls, got %d", m.ActiveCalls())
	}
	if m.GetDialogState("CA123") != StateGreeting || m.ClarificationAttempts("CA123") != 0 || m.History("CA123") != nil {
		t.Error("Expected cleanup to release all call state")
	}
}

func TestManager_ConcurrentCalls(t *testing.T) {
	m := NewManager(DefaultConfig(), zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.ShouldSuppressDuplicate(id, "hello")
				m.IncrementClarificationAttempts(id)
				m.AppendHistory(id, "hello")
			}
			m.CleanupCall(id)
		}(fmt.Sprintf("CA%d", i))
	}
	wg.Wait()

	if m.ActiveCalls() != 0 {
		t.Errorf("Expected all calls cleaned up, got %d", m.ActiveCalls())
	}
}
