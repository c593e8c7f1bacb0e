package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/observability"
)

// ErrEmptyFrame is returned for a zero-length media frame. The call's state is left untouched.
var ErrEmptyFrame = errors.New("audio: empty frame")

// Flush reasons reported with each utterance.
const (
	FlushSilence     = "silence"
	FlushMaxDuration = "max_duration"
)

// Processor segments each call's inbound μ-law stream into utterances of
// 16-bit PCM. Calls are independent; frames of one call must be fed in order.
type Processor struct {
	cfg         VADConfig
	newDetector func() Detector
	logger      zerolog.Logger

	mu    sync.RWMutex
	calls map[string]*callState
}

type callState struct {
	mu       sync.Mutex
	detector Detector
	degraded bool

	preRoll    *RingBuffer
	buf        []byte
	speaking   bool
	hadSpeech  bool
	speechRun  time.Duration
	silenceRun time.Duration
	buffered   time.Duration
}

// NewProcessor creates a processor. newDetector builds one Detector per call;
// nil selects an EnergyDetector at cfg.EnergyThreshold.
func NewProcessor(cfg VADConfig, newDetector func() Detector, logger zerolog.Logger) *Processor {
	def := DefaultVADConfig()
	if cfg.EndSilence <= 0 {
		cfg.EndSilence = def.EndSilence
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = def.MaxUtterance
	}
	if cfg.FallbackChunk <= 0 || cfg.FallbackChunk > cfg.MaxUtterance {
		cfg.FallbackChunk = cfg.MaxUtterance
	}
	if newDetector == nil {
		threshold := cfg.EnergyThreshold
		newDetector = func() Detector { return NewEnergyDetector(threshold) }
	}
	return &Processor{
		cfg:         cfg,
		newDetector: newDetector,
		logger:      logger.With().Str("component", "audio").Logger(),
		calls:       make(map[string]*callState),
	}
}

func (p *Processor) state(callID string, create bool) *callState {
	p.mu.RLock()
	cs, ok := p.calls[callID]
	p.mu.RUnlock()
	if ok || !create {
		return cs
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cs, ok = p.calls[callID]; ok {
		return cs
	}
	preRollBytes := int(p.cfg.PreRoll.Seconds()*TelephonySampleRate) * 2
	cs = &callState{
		detector: p.newDetector(),
		preRoll:  NewRingBuffer(preRollBytes),
	}
	p.calls[callID] = cs
	return cs
}

// ProcessAudioFrame decodes one μ-law frame, classifies it and updates the
// call's utterance buffer. A detector failure switches that call to
// AlwaysSpeech for the rest of its lifetime instead of returning an error.
func (p *Processor) ProcessAudioFrame(callID string, frame []byte) error {
	if len(frame) == 0 {
		observability.RecordDropped("empty_frame")
		return ErrEmptyFrame
	}

	samples := make([]int16, len(frame))
	for i, b := range frame {
		samples[i] = MulawToLinear(b)
	}
	pcm := SamplesToBytes(samples)
	frameDur := MulawDuration(len(frame))

	cs := p.state(callID, true)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	isSpeech, err := cs.detector.IsSpeech(samples)
	if err != nil {
		p.degrade(callID, cs, err)
		isSpeech = true
	}

	switch {
	case isSpeech:
		if !cs.speaking {
			cs.speaking = true
			cs.buf = append(cs.buf, cs.preRoll.Drain()...)
			cs.buffered = PCMDuration(len(cs.buf))
		}
		cs.buf = append(cs.buf, pcm...)
		cs.buffered += frameDur
		cs.hadSpeech = true
		cs.speechRun += frameDur
		cs.silenceRun = 0

	case cs.speaking:
		// Trailing silence stays in the utterance so the recognizer sees the natural ending.
		cs.buf = append(cs.buf, pcm...)
		cs.buffered += frameDur
		cs.silenceRun += frameDur
		cs.speechRun = 0

	default:
		cs.preRoll.Write(pcm)
	}

	return nil
}

func (p *Processor) degrade(callID string, cs *callState, err error) {
	if cs.degraded {
		return
	}
	cs.degraded = true
	cs.detector = AlwaysSpeech{}
	observability.RecordError("vad_failure", "audio")
	p.logger.Warn().
		Err(err).
		Str("call_id", callID).
		Dur("chunk", p.cfg.FallbackChunk).
		Msg("VAD failed, falling back to fixed-duration chunking")
}

// ShouldFlushBuffer reports whether the call's buffered utterance is complete:
// trailing silence longer than the end-of-utterance threshold after speech,
// or buffered audio at the duration cap.
func (p *Processor) ShouldFlushBuffer(callID string) bool {
	cs := p.state(callID, false)
	if cs == nil {
		return false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return p.flushReason(cs) != ""
}

func (p *Processor) flushReason(cs *callState) string {
	if len(cs.buf) == 0 {
		return ""
	}
	if cs.hadSpeech && cs.silenceRun > p.cfg.EndSilence {
		return FlushSilence
	}
	limit := p.cfg.MaxUtterance
	if cs.degraded {
		limit = p.cfg.FallbackChunk
	}
	if cs.buffered >= limit {
		return FlushMaxDuration
	}
	return ""
}

// GetAndClearBuffer returns the buffered utterance and resets the call's
// segmentation state in one step. ok is false when nothing is buffered.
func (p *Processor) GetAndClearBuffer(callID string) (pcm []byte, ok bool) {
	cs := p.state(callID, false)
	if cs == nil {
		return nil, false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if len(cs.buf) == 0 {
		return nil, false
	}

	reason := p.flushReason(cs)
	if reason == "" {
		reason = "forced"
	}
	observability.RecordUtterance(reason, cs.buffered)

	pcm = cs.buf
	cs.buf = nil
	cs.speaking = false
	cs.hadSpeech = false
	cs.speechRun = 0
	cs.silenceRun = 0
	cs.buffered = 0
	cs.preRoll.Clear()
	return pcm, true
}

// Flush returns the buffered utterance if it is complete. It is meant for the
// call's frame lane, the only writer of that call's buffer.
func (p *Processor) Flush(callID string) ([]byte, bool) {
	if !p.ShouldFlushBuffer(callID) {
		return nil, false
	}
	return p.GetAndClearBuffer(callID)
}

// Degraded reports whether the call has fallen back to AlwaysSpeech.
func (p *Processor) Degraded(callID string) bool {
	cs := p.state(callID, false)
	if cs == nil {
		return false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.degraded
}

// CleanupCall releases all state for the call. Unknown or already cleaned calls are a no-op.
func (p *Processor) CleanupCall(callID string) {
	p.mu.Lock()
	delete(p.calls, callID)
	p.mu.Unlock()
}

// ActiveCalls returns the number of calls with segmentation state.
func (p *Processor) ActiveCalls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.calls)
}
