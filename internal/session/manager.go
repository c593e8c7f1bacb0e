package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/audio"
	"github.com/lexiqai/salon-voice-gateway/internal/dialog"
	"github.com/lexiqai/salon-voice-gateway/internal/events"
	"github.com/lexiqai/salon-voice-gateway/internal/intent"
	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/speaker"
	"github.com/lexiqai/salon-voice-gateway/internal/speech"
)

// Components are the per-call pipeline stages a Manager routes between.
type Components struct {
	Audio   *audio.Processor
	Speech  *speech.Recognizer
	Intent  *intent.Extractor
	Dialog  *dialog.Manager
	Speaker *speaker.Manager
}

func (c Components) validate() error {
	if c.Audio == nil || c.Speech == nil || c.Intent == nil || c.Dialog == nil || c.Speaker == nil {
		return errors.New("session: all components are required")
	}
	return nil
}

// turn is one unit of work for a call's turn lane.
type turn struct {
	pcm   []byte
	greet bool
}

// callSession is the orchestrator's view of one live call.
type callSession struct {
	id        string
	streamSID string
	from      string
	to        string
	started   time.Time

	outbound Outbound
	logger   zerolog.Logger
	metrics  *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	frames chan []byte
	turns  chan turn

	// mu is the liveness lock. Component mutations happen under it and only
	// while ended is false, so results arriving after EndCall are dropped.
	mu    sync.Mutex
	ended bool

	lastActivity atomic.Int64
	markSeq      atomic.Uint64
}

// alive runs fn under the liveness lock if the call has not ended.
func (cs *callSession) alive(fn func()) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ended {
		return false
	}
	fn()
	return true
}

func (cs *callSession) touch(now time.Time) {
	cs.lastActivity.Store(now.UnixNano())
}

// Manager owns the set of live calls.
type Manager struct {
	c         Components
	responder Responder
	events    *events.Emitter
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	mu         sync.RWMutex
	calls      map[string]*callSession
	tombstones map[string]time.Time

	// lanes counts the lane goroutines of every call, live or ending.
	lanes sync.WaitGroup
}

// NewManager creates a session manager. A nil emitter discards events.
func NewManager(c Components, responder Responder, emitter *events.Emitter, cfg Config, logger zerolog.Logger) (*Manager, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if responder == nil {
		return nil, errors.New("session: responder is required")
	}
	cfg.applyDefaults()
	return &Manager{
		c:          c,
		responder:  responder,
		events:     emitter,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		calls:      make(map[string]*callSession),
		tombstones: make(map[string]time.Time),
	}, nil
}

// StartCall registers a call, starts its lanes and queues the greeting.
// Starting a call that is already live is a no-op.
func (m *Manager) StartCall(ctx context.Context, info StartInfo, out Outbound) error {
	if info.CallID == "" {
		return ErrEmptyCallID
	}
	if out == nil {
		return errors.New("session: outbound is required")
	}

	m.mu.Lock()
	if _, ok := m.calls[info.CallID]; ok {
		m.mu.Unlock()
		m.logger.Warn().Str("call_id", info.CallID).Msg("Duplicate start for live call ignored")
		return nil
	}
	if _, ok := m.tombstones[info.CallID]; ok {
		m.mu.Unlock()
		m.logger.Warn().Str("call_id", info.CallID).Msg("Start for ended call ignored")
		return nil
	}

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cs := &callSession{
		id:        info.CallID,
		streamSID: info.StreamSID,
		from:      info.From,
		to:        info.To,
		started:   m.now(),
		outbound:  out,
		logger:    observability.ForCall(info.CallID).With().Str("stream_sid", info.StreamSID).Logger(),
		metrics:   observability.NewCallMetrics(info.CallID),
		ctx:       callCtx,
		cancel:    cancel,
		frames:    make(chan []byte, m.cfg.FrameQueue),
		turns:     make(chan turn, m.cfg.UtteranceQueue),
	}
	cs.touch(cs.started)
	m.calls[info.CallID] = cs
	m.mu.Unlock()

	cs.metrics.RecordCallStart()
	if info.From != "" {
		m.c.Dialog.StoreCallInfo(info.CallID, dialog.CallInfo{CallerNumber: info.From})
	}
	m.events.Emit(ctx, info.CallID, events.CallStarted, map[string]any{
		"stream_sid": info.StreamSID,
		"from":       info.From,
		"to":         info.To,
	})
	cs.logger.Info().Str("from", info.From).Str("to", info.To).Msg("Call started")

	m.lanes.Add(2)
	go m.frameLane(cs)
	go m.turnLane(cs)

	cs.turns <- turn{greet: true}
	return nil
}

// lookup returns the live session for callID. Ended calls yield (nil, nil)
// and unknown calls ErrUnknownCall.
func (m *Manager) lookup(callID string) (*callSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cs, ok := m.calls[callID]; ok {
		return cs, nil
	}
	if _, ok := m.tombstones[callID]; ok {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCall, callID)
}

// HandleMedia queues one inbound μ-law frame. It never blocks: frames that
// find the call's queue full are dropped and counted.
func (m *Manager) HandleMedia(callID string, frame []byte) error {
	cs, err := m.lookup(callID)
	if err != nil {
		m.logger.Error().Err(err).Msg("Media for unknown call")
		return err
	}
	if cs == nil {
		return nil
	}
	cs.touch(m.now())
	cs.metrics.RecordAudioBytes("inbound", int64(len(frame)))

	select {
	case cs.frames <- frame:
	default:
		observability.RecordDropped("frame")
		cs.logger.Warn().Msg("Frame queue full, dropping frame")
	}
	return nil
}

// HandleMark processes a playback marker echoed by the telephony leg.
func (m *Manager) HandleMark(callID, name string) error {
	cs, err := m.lookup(callID)
	if err != nil {
		m.logger.Error().Err(err).Msg("Mark for unknown call")
		return err
	}
	if cs == nil {
		return nil
	}
	cs.alive(func() {
		if m.c.Speaker.ReleaseSpeechGate(callID, name) {
			cs.logger.Debug().Str("mark", name).Msg("Playback finished")
		}
	})
	return nil
}

// EndCall stops the call's lanes and releases every component's state for
// it. Ending an already-ended call is a no-op.
func (m *Manager) EndCall(callID, reason string) error {
	m.mu.Lock()
	cs, ok := m.calls[callID]
	if !ok {
		_, ended := m.tombstones[callID]
		m.mu.Unlock()
		if ended {
			return nil
		}
		err := fmt.Errorf("%w: %s", ErrUnknownCall, callID)
		m.logger.Error().Err(err).Str("reason", reason).Msg("End for unknown call")
		return err
	}
	delete(m.calls, callID)
	m.tombstones[callID] = m.now()
	m.mu.Unlock()

	cs.mu.Lock()
	cs.ended = true
	cs.cancel()
	m.cleanup(callID)
	cs.mu.Unlock()

	cs.metrics.RecordCallEnd(reason)
	duration := m.now().Sub(cs.started)
	m.events.Emit(context.Background(), callID, events.CallEnded, map[string]any{
		"reason":      reason,
		"duration_ms": duration.Milliseconds(),
	})
	cs.logger.Info().Str("reason", reason).Dur("duration", duration).Msg("Call ended")
	return nil
}

func (m *Manager) cleanup(callID string) {
	m.c.Audio.CleanupCall(callID)
	m.c.Speech.CleanupCall(callID)
	m.c.Intent.CleanupCall(callID)
	m.c.Dialog.CleanupCall(callID)
	m.c.Speaker.CleanupCall(callID)
}

// Drain blocks until the lanes of every ended call have exited or ctx is
// done. Live calls keep their lanes running, so end them first.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.lanes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCalls returns the number of live calls.
func (m *Manager) ActiveCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Run reaps idle calls and expired tombstones until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	now := m.now()
	var idle []string

	m.mu.Lock()
	for id, cs := range m.calls {
		if now.Sub(time.Unix(0, cs.lastActivity.Load())) > m.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	for id, at := range m.tombstones {
		if now.Sub(at) > m.cfg.TombstoneTTL {
			delete(m.tombstones, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		m.logger.Warn().Str("call_id", id).Dur("idle_timeout", m.cfg.IdleTimeout).Msg("Ending idle call")
		_ = m.EndCall(id, "idle_timeout")
	}
}

// Shutdown ends every live call.
func (m *Manager) Shutdown(reason string) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.EndCall(id, reason)
	}
}
