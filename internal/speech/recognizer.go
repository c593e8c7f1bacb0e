// Package speech isolates the pipeline from the transcription and synthesis
// backends and from the telephony wire format.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/audio"
	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/resilience"
	"github.com/lexiqai/salon-voice-gateway/internal/stt"
	"github.com/lexiqai/salon-voice-gateway/internal/tts"
)

// Status of a TranscriptEvent.
type Status string

const (
	StatusOK          Status = "ok"
	StatusSuppressed  Status = "suppressed"
	StatusUnavailable Status = "unavailable"
)

// TranscriptEvent is the result of transcribing one utterance. Text is empty
// unless Status is StatusOK.
type TranscriptEvent struct {
	CallID     string
	Text       string
	Confidence float64
	AvgLogProb float64
	Status     Status
	Backend    string
	Latency    time.Duration
	CreatedAt  time.Time
}

// Usable reports whether the event carries text worth acting on.
func (e TranscriptEvent) Usable() bool {
	return e.Status == StatusOK && e.Text != ""
}

// defaultStoplist holds filler and silence-marker transcripts that ASR
// backends commonly produce from noise.
var defaultStoplist = []string{
	"you",
	"thank you.",
	"thanks for watching",
	"[blank_audio]",
	"[silence]",
	"(silence)",
	"[music]",
	"[noise]",
	"um",
	"uh",
	"hmm",
	"mm",
	"...",
}

// Config controls the recognizer's policy.
type Config struct {
	MinConfidence float64
	STTTimeout    time.Duration
	TTSTimeout    time.Duration
	Retry         *resilience.RetryConfig

	BreakerMaxFailures int
	BreakerReset       time.Duration

	// Stoplist adds to the built-in filler list.
	Stoplist []string
}

// Recognizer is the pipeline's speech-to-text and text-to-speech front.
type Recognizer struct {
	transcriber stt.Transcriber
	synthesizer tts.Synthesizer
	cfg         Config
	stoplist    map[string]struct{}
	sttPolicy   resilience.Policy
	ttsPolicy   resilience.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewRecognizer creates a recognizer over the given backends.
func NewRecognizer(transcriber stt.Transcriber, synthesizer tts.Synthesizer, cfg Config, logger zerolog.Logger) *Recognizer {
	if cfg.Retry == nil {
		cfg.Retry = resilience.SingleRetryConfig(200 * time.Millisecond)
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}

	stoplist := make(map[string]struct{}, len(defaultStoplist)+len(cfg.Stoplist))
	for _, s := range append(append([]string{}, defaultStoplist...), cfg.Stoplist...) {
		stoplist[NormalizeText(s)] = struct{}{}
	}

	r := &Recognizer{
		transcriber: transcriber,
		synthesizer: synthesizer,
		cfg:         cfg,
		stoplist:    stoplist,
		logger:      logger.With().Str("component", "speech").Logger(),
		now:         time.Now,
	}
	onChange := observability.BreakerStateHook(r.logger)
	r.sttPolicy = resilience.Policy{
		Breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:          "stt_" + transcriber.Name(),
			MaxFailures:   cfg.BreakerMaxFailures,
			ResetTimeout:  cfg.BreakerReset,
			OnStateChange: onChange,
		}),
		Timeout: cfg.STTTimeout,
		Retry:   cfg.Retry,
	}
	r.ttsPolicy = resilience.Policy{
		Breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:          "tts_" + synthesizer.Name(),
			MaxFailures:   cfg.BreakerMaxFailures,
			ResetTimeout:  cfg.BreakerReset,
			OnStateChange: onChange,
		}),
		Timeout: cfg.TTSTimeout,
		Retry:   cfg.Retry,
	}
	return r
}

// TranscribeAudio transcribes one utterance of 8 kHz PCM. Backend failures
// and timeouts produce a StatusUnavailable event instead of an error.
func (r *Recognizer) TranscribeAudio(ctx context.Context, pcm []byte, callID string) TranscriptEvent {
	start := r.now()
	event := TranscriptEvent{
		CallID:    callID,
		Backend:   r.transcriber.Name(),
		CreatedAt: start,
	}

	if len(pcm) == 0 {
		event.Status = StatusSuppressed
		observability.RecordTranscript(string(event.Status))
		return event
	}

	req := stt.Request{
		WAV:        audio.WrapWAV(pcm, audio.TelephonySampleRate, 1),
		SampleRate: audio.TelephonySampleRate,
		CallID:     callID,
	}

	var res *stt.Result
	err := r.sttPolicy.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.transcriber.Transcribe(ctx, req)
		return err
	})
	event.Latency = r.now().Sub(start)
	r.recordPolicy("stt", r.sttPolicy, start, err)

	switch {
	case err != nil:
		event.Status = StatusUnavailable
		r.logger.Warn().
			Err(err).
			Str("call_id", callID).
			Str("backend", event.Backend).
			Dur("latency", event.Latency).
			Msg("Transcription unavailable")

	case r.ShouldSuppressTranscript(res.Text, res.Confidence):
		event.Status = StatusSuppressed
		event.Confidence = res.Confidence
		event.AvgLogProb = res.AvgLogProb
		r.logger.Debug().
			Str("call_id", callID).
			Str("text", res.Text).
			Float64("confidence", res.Confidence).
			Msg("Transcript suppressed")

	default:
		event.Status = StatusOK
		event.Text = strings.TrimSpace(res.Text)
		event.Confidence = res.Confidence
		event.AvgLogProb = res.AvgLogProb
	}

	observability.RecordTranscript(string(event.Status))
	return event
}

// ShouldSuppressTranscript reports whether a transcript is noise: confidence
// below the floor, or empty or stoplisted after normalization.
func (r *Recognizer) ShouldSuppressTranscript(text string, confidence float64) bool {
	if confidence < r.cfg.MinConfidence {
		return true
	}
	normalized := NormalizeText(text)
	if normalized == "" {
		return true
	}
	_, stop := r.stoplist[normalized]
	return stop
}

// SynthesizeTTS synthesizes text and returns 8 kHz μ-law audio ready for the
// telephony leg. Errors are returned after the retry so callers can degrade.
func (r *Recognizer) SynthesizeTTS(ctx context.Context, text, voice, callID string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}

	start := r.now()
	var out *tts.Audio
	err := r.ttsPolicy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.synthesizer.Synthesize(ctx, text, voice)
		return err
	})
	r.recordPolicy("tts", r.ttsPolicy, start, err)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("call_id", callID).
			Str("backend", r.synthesizer.Name()).
			Msg("Synthesis failed")
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	pcm := out.PCM
	if out.Channels > 1 {
		pcm = downmix(pcm, out.Channels)
	}
	mulaw, err := audio.ConvertPCMToPCMU(pcm, out.SampleRate, audio.TelephonySampleRate)
	if err != nil {
		return nil, fmt.Errorf("convert synthesized audio: %w", err)
	}
	return mulaw, nil
}

// TranscriberAvailable reports whether the transcription breaker admits requests.
func (r *Recognizer) TranscriberAvailable(context.Context) (bool, error) {
	if r.sttPolicy.Breaker.State() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

// SynthesizerAvailable reports whether the synthesis breaker admits requests.
func (r *Recognizer) SynthesizerAvailable(context.Context) (bool, error) {
	if r.ttsPolicy.Breaker.State() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

func (r *Recognizer) recordPolicy(kind string, p resilience.Policy, start time.Time, err error) {
	observability.RecordBackend(kind, start, err == nil)
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		observability.IncrementCircuitBreakerFailures(p.Breaker.Name())
	}
}

// downmix averages interleaved 16-bit channels into mono.
func downmix(pcm []byte, channels int) []byte {
	frame := 2 * channels
	out := make([]byte, 0, len(pcm)/channels)
	for i := 0; i+frame <= len(pcm); i += frame {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(int16(pcm[i+2*c]) | int16(pcm[i+2*c+1])<<8)
		}
		m := int16(sum / int32(channels))
		out = append(out, byte(m), byte(m>>8))
	}
	return out
}

// NormalizeText lowercases text, collapses whitespace and trims surrounding
// punctuation other than brackets, so "Thank you." and "thank you" compare equal.
func NormalizeText(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	s := strings.Join(fields, " ")
	return strings.TrimFunc(s, func(r rune) bool {
		if r == '[' || r == ']' || r == '(' || r == ')' {
			return false
		}
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// CleanupCall exists for lifecycle symmetry with the other stages. The
// recognizer keeps no per-call state, so it does nothing.
func (r *Recognizer) CleanupCall(string) {}
