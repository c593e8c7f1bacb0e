package intent

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/resilience"
)

const (
	keywordConfidence = 0.6
	quickConfidence   = 0.5
)

// Config controls the extractor's policy.
type Config struct {
	Timeout       time.Duration
	Retry         *resilience.RetryConfig
	MinConfidence float64

	// HandoffAfterAttempts is how many failed clarifications make a
	// low-confidence record escalate.
	HandoffAfterAttempts int

	BreakerMaxFailures int
	BreakerReset       time.Duration
}

// Extractor resolves transcripts to Records: safety terms first, then the
// primary classifier, then the keyword matcher.
type Extractor struct {
	primary Classifier
	cfg     Config
	policy  resilience.Policy
	logger  zerolog.Logger
}

// NewExtractor creates an extractor. A nil primary classifier uses keyword
// matching only.
func NewExtractor(primary Classifier, cfg Config, logger zerolog.Logger) *Extractor {
	if cfg.Retry == nil {
		cfg.Retry = resilience.SingleRetryConfig(200 * time.Millisecond)
	}
	if cfg.HandoffAfterAttempts <= 0 {
		cfg.HandoffAfterAttempts = 2
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = 30 * time.Second
	}

	e := &Extractor{
		primary: primary,
		cfg:     cfg,
		logger:  logger.With().Str("component", "intent").Logger(),
	}
	if primary != nil {
		e.policy = resilience.Policy{
			Breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
				Name:          "intent_" + primary.Name(),
				MaxFailures:   cfg.BreakerMaxFailures,
				ResetTimeout:  cfg.BreakerReset,
				OnStateChange: observability.BreakerStateHook(e.logger),
			}),
			Timeout: cfg.Timeout,
			Retry:   cfg.Retry,
		}
	}
	return e
}

// ExtractIntent classifies text. It never fails: backend errors fall back to
// keyword matching and then to an unknown record with zero confidence.
func (e *Extractor) ExtractIntent(ctx context.Context, text, callID string) Record {
	rec := e.extract(ctx, text, callID)
	rec.Handoff = e.ShouldHandoffToHuman(rec, 0)
	observability.RecordIntent(string(rec.Category), string(rec.Source))
	return rec
}

func (e *Extractor) extract(ctx context.Context, text, callID string) Record {
	if strings.TrimSpace(text) == "" {
		return UnknownRecord()
	}

	if isSafetyCritical(text) {
		return Record{
			Category:   CategoryUrgent,
			Entities:   extractEntities(text),
			Confidence: 1.0,
			Urgent:     true,
			Source:     SourceSafety,
		}
	}

	if e.primary != nil {
		rec, err := e.classify(ctx, text, callID)
		if err == nil {
			return rec
		}
		e.logger.Warn().
			Err(err).
			Str("call_id", callID).
			Str("backend", e.primary.Name()).
			Msg("Primary intent classification failed, using keyword fallback")
	}

	category, ok := matchKeywords(text)
	if !ok {
		return UnknownRecord()
	}
	return Record{
		Category:   category,
		Entities:   extractEntities(text),
		Confidence: keywordConfidence,
		Urgent:     category == CategoryUrgent,
		Source:     SourceKeyword,
	}
}

func (e *Extractor) classify(ctx context.Context, text, callID string) (Record, error) {
	start := time.Now()
	var out *Record
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.primary.Classify(ctx, text, callID)
		return err
	})

	observability.RecordBackend("intent", start, err == nil)
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(e.policy.Breaker.Name())
		}
		return Record{}, err
	}
	if out == nil {
		return Record{}, errors.New("classifier returned no record")
	}

	rec := *out
	if !rec.Category.Valid() {
		e.logger.Warn().
			Str("call_id", callID).
			Str("category", string(rec.Category)).
			Msg("Classifier returned unknown category")
		rec.Category = CategoryUnknown
		rec.Confidence = 0
	}
	rec.Confidence = clamp01(rec.Confidence)
	if rec.Category == CategoryUrgent {
		rec.Urgent = true
	}
	return rec, nil
}

// ShouldHandoffToHuman reports whether a record warrants escalation: urgent,
// an always-handoff category, or low confidence after repeated clarification.
func (e *Extractor) ShouldHandoffToHuman(rec Record, clarificationAttempts int) bool {
	if rec.Urgent || rec.Category.alwaysHandoff() {
		return true
	}
	return rec.Confidence < e.cfg.MinConfidence && clarificationAttempts >= e.cfg.HandoffAfterAttempts
}

// ClassifyQuick runs the keyword matcher only. Its records are capped at low
// confidence and must not drive booking decisions.
func (e *Extractor) ClassifyQuick(text string) Record {
	category, ok := matchKeywords(text)
	if !ok {
		return Record{Category: CategoryUnknown, Source: SourceKeyword}
	}
	return Record{
		Category:   category,
		Entities:   extractEntities(text),
		Confidence: quickConfidence,
		Urgent:     category == CategoryUrgent,
		Source:     SourceKeyword,
	}
}

// Available reports whether the primary classifier's breaker admits requests.
func (e *Extractor) Available(context.Context) (bool, error) {
	if e.primary == nil {
		return true, nil
	}
	if e.policy.Breaker.State() == resilience.StateOpen {
		return false, resilience.ErrCircuitOpen
	}
	return true, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CleanupCall is a no-op: classification holds no per-call state.
func (e *Extractor) CleanupCall(string) {}
