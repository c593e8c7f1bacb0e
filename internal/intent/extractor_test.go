package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/resilience"
)

type fakeClassifier struct {
	calls int
	rec   *Record
	err   error
	block bool
}

func (f *fakeClassifier) Name() string { return "fake" }

func (f *fakeClassifier) Classify(ctx context.Context, text, callID string) (*Record, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	rec := *f.rec
	return &rec, nil
}

func newTestExtractor(primary Classifier) *Extractor {
	return NewExtractor(primary, Config{
		Timeout:       20 * time.Millisecond,
		Retry:         resilience.SingleRetryConfig(time.Millisecond),
		MinConfidence: 0.5,
	}, zerolog.Nop())
}

func TestExtractIntent_Primary(t *testing.T) {
	primary := &fakeClassifier{rec: &Record{
		Category:   CategoryBooking,
		Entities:   Entities{Service: "haircut", RequestedTime: "tomorrow"},
		Confidence: 0.85,
		Source:     SourceLLM,
	}}
	e := newTestExtractor(primary)

	rec := e.ExtractIntent(context.Background(), "book a haircut for tomorrow", "CA123")

	if rec.Category != CategoryBooking || rec.Confidence != 0.85 || rec.Source != SourceLLM {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.Handoff {
		t.Error("Expected no handoff for a confident booking")
	}
	if rec.Entities.Service != "haircut" {
		t.Errorf("Expected service entity, got %+v", rec.Entities)
	}
}

func TestExtractIntent_SafetyShortCircuits(t *testing.T) {
	primary := &fakeClassifier{rec: &Record{Category: CategoryBooking, Confidence: 0.9}}
	e := newTestExtractor(primary)

	rec := e.ExtractIntent(context.Background(), "This is an emergency, my scalp is burning my scalp", "CA1")

	if rec.Category != CategoryUrgent || !rec.Urgent || rec.Source != SourceSafety {
		t.Errorf("Expected safety record, got %+v", rec)
	}
	if !rec.Handoff {
		t.Error("Expected urgent record to hand off")
	}
	if primary.calls != 0 {
		t.Errorf("Expected primary classifier not to be called, got %d calls", primary.calls)
	}
}

func TestExtractIntent_FallbackOnTimeout(t *testing.T) {
	primary := &fakeClassifier{block: true}
	e := newTestExtractor(primary)

	rec := e.ExtractIntent(context.Background(), "How much does a blowout cost?", "CA1")

	if rec.Category != CategoryPricing || rec.Source != SourceKeyword {
		t.Errorf("Expected keyword pricing record, got %+v", rec)
	}
	if rec.Confidence != keywordConfidence {
		t.Errorf("Expected keyword confidence, got %f", rec.Confidence)
	}
	if primary.calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", primary.calls)
	}
}

func TestExtractIntent_UnknownWhenNothingMatches(t *testing.T) {
	e := newTestExtractor(&fakeClassifier{err: errors.New("connection refused")})

	rec := e.ExtractIntent(context.Background(), "the weather is lovely", "CA1")

	if rec.Category != CategoryUnknown || rec.Confidence != 0 || rec.Source != SourceNone {
		t.Errorf("Expected unknown record, got %+v", rec)
	}
}

func TestExtractIntent_InvalidCategoryFromPrimary(t *testing.T) {
	e := newTestExtractor(&fakeClassifier{rec: &Record{Category: "spa_day", Confidence: 0.9}})

	rec := e.ExtractIntent(context.Background(), "hello", "CA1")

	if rec.Category != CategoryUnknown || rec.Confidence != 0 {
		t.Errorf("Expected invalid category to become unknown, got %+v", rec)
	}
}

func TestExtractIntent_KeywordOnly(t *testing.T) {
	e := newTestExtractor(nil)

	tests := []struct {
		text string
		want Category
	}{
		{"I'd like to book a haircut for tomorrow", CategoryBooking},
		{"can I reschedule my appointment", CategoryReschedule},
		{"I need to cancel my appointment", CategoryCancel},
		{"I want to speak to a manager about my appointment", CategoryHumanRequest},
		{"I have a complaint about my color", CategoryComplaint},
		{"what time do you close on sunday", CategoryHours},
		{"do you do balayage", CategoryGeneral},
		{"", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := e.ExtractIntent(context.Background(), tt.text, "CA1"); got.Category != tt.want {
				t.Errorf("ExtractIntent(%q) = %s, want %s", tt.text, got.Category, tt.want)
			}
		})
	}
}

func TestShouldHandoffToHuman(t *testing.T) {
	e := newTestExtractor(nil)

	tests := []struct {
		name     string
		rec      Record
		attempts int
		want     bool
	}{
		{"urgent", Record{Category: CategoryGeneral, Confidence: 0.9, Urgent: true}, 0, true},
		{"complaint", Record{Category: CategoryComplaint, Confidence: 0.9}, 0, true},
		{"human request", Record{Category: CategoryHumanRequest, Confidence: 0.9}, 0, true},
		{"confident booking", Record{Category: CategoryBooking, Confidence: 0.85}, 5, false},
		{"low confidence first try", Record{Category: CategoryUnknown, Confidence: 0.1}, 1, false},
		{"low confidence after two clarifications", Record{Category: CategoryUnknown, Confidence: 0.1}, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ShouldHandoffToHuman(tt.rec, tt.attempts); got != tt.want {
				t.Errorf("ShouldHandoffToHuman() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyQuick(t *testing.T) {
	e := newTestExtractor(&fakeClassifier{err: errors.New("must not be called")})

	rec := e.ClassifyQuick("book a manicure for friday")
	if rec.Category != CategoryBooking || rec.Confidence > 0.5 || rec.Source != SourceKeyword {
		t.Errorf("Unexpected quick record: %+v", rec)
	}
	if rec.Entities.Service != "manicure" || rec.Entities.RequestedTime != "friday" {
		t.Errorf("Unexpected entities: %+v", rec.Entities)
	}

	if rec := e.ClassifyQuick("hmm"); rec.Category != CategoryUnknown || rec.Confidence != 0 {
		t.Errorf("Expected unknown quick record, got %+v", rec)
	}
}

func TestExtractor_Available(t *testing.T) {
	primary := &fakeClassifier{err: errors.New("service unavailable")}
	e := NewExtractor(primary, Config{
		Retry:              resilience.SingleRetryConfig(time.Millisecond),
		BreakerMaxFailures: 2,
		BreakerReset:       time.Hour,
	}, zerolog.Nop())

	e.ExtractIntent(context.Background(), "book a trim", "CA1")
	if ok, err := e.Available(context.Background()); ok || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected open breaker, got %v %v", ok, err)
	}

	rec := e.ExtractIntent(context.Background(), "book a trim", "CA1")
	if rec.Source != SourceKeyword {
		t.Errorf("Expected keyword fallback while breaker is open, got %+v", rec)
	}
	if primary.calls != 2 {
		t.Errorf("Expected open breaker to skip the backend, got %d calls", primary.calls)
	}
}
