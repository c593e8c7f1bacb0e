// Package dialog stores per-call conversation state: the dialog state
// machine position, transcript de-duplication and clarification counters.
// It stores state only; callers decide which transitions are legal.
package dialog

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// State is a position in the call's dialog.
type State string

const (
	StateGreeting   State = "greeting"
	StateListening  State = "listening"
	StateClarifying State = "clarifying"
	StateConfirming State = "confirming"
	StateClosing    State = "closing"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateClosing
}

const maxHistory = 50

// fillerWords are dropped before comparing utterances for repetition.
var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "erm": {}, "hmm": {}, "like": {}, "so": {}, "well": {},
	"just": {}, "please": {}, "okay": {}, "ok": {}, "yeah": {}, "oh": {},
	"hey": {}, "hi": {}, "hello": {}, "again": {}, "i": {}, "said": {},
}

// CallInfo accumulates booking details across turns.
type CallInfo struct {
	CallerNumber  string `json:"caller_number,omitempty" msgpack:"caller_number,omitempty"`
	CustomerName  string `json:"customer_name,omitempty" msgpack:"customer_name,omitempty"`
	Service       string `json:"service,omitempty" msgpack:"service,omitempty"`
	RequestedTime string `json:"requested_time,omitempty" msgpack:"requested_time,omitempty"`
	Notes         string `json:"notes,omitempty" msgpack:"notes,omitempty"`
}

// ReadyToConfirm reports whether enough is known to confirm a booking.
func (c CallInfo) ReadyToConfirm() bool {
	return c.Service != "" && c.RequestedTime != ""
}

func (c *CallInfo) merge(p CallInfo) {
	if p.CallerNumber != "" {
		c.CallerNumber = p.CallerNumber
	}
	if p.CustomerName != "" {
		c.CustomerName = p.CustomerName
	}
	if p.Service != "" {
		c.Service = p.Service
	}
	if p.RequestedTime != "" {
		c.RequestedTime = p.RequestedTime
	}
	if p.Notes != "" {
		if c.Notes != "" {
			c.Notes += "; " + p.Notes
		} else {
			c.Notes = p.Notes
		}
	}
}

// Config controls duplicate and repetition detection.
type Config struct {
	DuplicateWindow   time.Duration
	RepeatThreshold   int
	MaxClarifications int
}

// DefaultConfig returns the default dialog policy.
func DefaultConfig() Config {
	return Config{
		DuplicateWindow:   3 * time.Second,
		RepeatThreshold:   3,
		MaxClarifications: 2,
	}
}

type callState struct {
	mu             sync.Mutex
	state          State
	lastText       string
	lastAt         time.Time
	repeatKey      string
	repeatCount    int
	clarifications int
	info           CallInfo
	history        []string
}

// Manager keeps dialog state per call ID.
type Manager struct {
	cfg    Config
	mu     sync.RWMutex
	calls  map[string]*callState
	now    func() time.Time
	logger zerolog.Logger
}

// NewManager creates a dialog manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = def.DuplicateWindow
	}
	if cfg.RepeatThreshold < 2 {
		cfg.RepeatThreshold = def.RepeatThreshold
	}
	if cfg.MaxClarifications <= 0 {
		cfg.MaxClarifications = def.MaxClarifications
	}
	return &Manager{
		cfg:    cfg,
		calls:  make(map[string]*callState),
		now:    time.Now,
		logger: logger.With().Str("component", "dialog").Logger(),
	}
}

func (m *Manager) call(callID string) *callState {
	m.mu.RLock()
	cs, ok := m.calls[callID]
	m.mu.RUnlock()
	if ok {
		return cs
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cs, ok = m.calls[callID]; !ok {
		cs = &callState{state: StateGreeting}
		m.calls[callID] = cs
	}
	return cs
}

// GetDialogState returns the call's state; calls with no state are in Greeting.
func (m *Manager) GetDialogState(callID string) State {
	m.mu.RLock()
	cs, ok := m.calls[callID]
	m.mu.RUnlock()
	if !ok {
		return StateGreeting
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// SetDialogState stores the call's state without checking the transition.
func (m *Manager) SetDialogState(callID string, state State) {
	cs := m.call(callID)
	cs.mu.Lock()
	prev := cs.state
	cs.state = state
	cs.mu.Unlock()

	if prev != state {
		m.logger.Debug().
			Str("call_id", callID).
			Str("from", string(prev)).
			Str("to", string(state)).
			Msg("Dialog state changed")
	}
}

// ShouldSuppressDuplicate reports whether text repeats the previous transcript
// of the call within the duplicate window. Every call records text as the
// new previous transcript.
func (m *Manager) ShouldSuppressDuplicate(callID, text string) bool {
	norm := normalize(text)
	now := m.now()

	cs := m.call(callID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	dup := norm != "" && norm == cs.lastText && now.Sub(cs.lastAt) < m.cfg.DuplicateWindow
	cs.lastText = norm
	cs.lastAt = now
	return dup
}

// ShouldSuppressRepeatedUtterance reports whether the caller has now said the
// same thing RepeatThreshold times in a row. Comparison ignores case,
// punctuation and filler words. It stays true until the caller says
// something different.
func (m *Manager) ShouldSuppressRepeatedUtterance(callID, text string) bool {
	key := repeatKey(text)
	if key == "" {
		return false
	}

	cs := m.call(callID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if key == cs.repeatKey {
		cs.repeatCount++
	} else {
		cs.repeatKey = key
		cs.repeatCount = 1
	}
	return cs.repeatCount >= m.cfg.RepeatThreshold
}

// IncrementClarificationAttempts records one more clarification prompt and
// returns the new count.
func (m *Manager) IncrementClarificationAttempts(callID string) int {
	cs := m.call(callID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.clarifications++
	return cs.clarifications
}

// ResetClarificationAttempts clears the counter after a resolved intent.
func (m *Manager) ResetClarificationAttempts(callID string) {
	cs := m.call(callID)
	cs.mu.Lock()
	cs.clarifications = 0
	cs.mu.Unlock()
}

// ClarificationAttempts returns the current counter.
func (m *Manager) ClarificationAttempts(callID string) int {
	m.mu.RLock()
	cs, ok := m.calls[callID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.clarifications
}

// ClarificationsExhausted reports whether another clarification prompt would
// exceed MaxClarifications.
func (m *Manager) ClarificationsExhausted(callID string) bool {
	return m.ClarificationAttempts(callID) >= m.cfg.MaxClarifications
}

// StoreCallInfo merges the non-empty fields of partial into the call's info.
func (m *Manager) StoreCallInfo(callID string, partial CallInfo) CallInfo {
	cs := m.call(callID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.info.merge(partial)
	return cs.info
}

// GetCallInfo returns the accumulated info and whether the call has state.
func (m *Manager) GetCallInfo(callID string) (CallInfo, bool) {
	m.mu.RLock()
	cs, ok := m.calls[callID]
	m.mu.RUnlock()
	if !ok {
		return CallInfo{}, false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.info, true
}

// AppendHistory records one caller utterance. Only the most recent
// utterances are kept.
func (m *Manager) AppendHistory(callID, text string) {
	cs := m.call(callID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.history = append(cs.history, text)
	if len(cs.history) > maxHistory {
		cs.history = append(cs.history[:0:0], cs.history[len(cs.history)-maxHistory:]...)
	}
}

// History returns a copy of the caller's utterances in order.
func (m *Manager) History(callID string) []string {
	m.mu.RLock()
	cs, ok := m.calls[callID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.history...)
}

// CleanupCall releases the call's state. Repeated calls are no-ops.
func (m *Manager) CleanupCall(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, callID)
}

// ActiveCalls returns the number of calls with state.
func (m *Manager) ActiveCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// normalize lowercases text, drops punctuation and collapses whitespace.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func repeatKey(text string) string {
	words := strings.Fields(normalize(text))
	kept := words[:0]
	for _, w := range words {
		if _, filler := fillerWords[w]; !filler {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
