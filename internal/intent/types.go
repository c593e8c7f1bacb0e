// Package intent maps caller transcripts to structured intent records.
package intent

import (
	"context"
)

// Category is the kind of request a caller is making.
type Category string

const (
	CategoryBooking      Category = "booking_request"
	CategoryReschedule   Category = "reschedule_request"
	CategoryCancel       Category = "cancel_request"
	CategoryPricing      Category = "pricing_question"
	CategoryHours        Category = "hours_question"
	CategoryComplaint    Category = "complaint"
	CategoryHumanRequest Category = "human_request"
	CategoryUrgent       Category = "urgent"
	CategoryGeneral      Category = "general_inquiry"
	CategoryUnknown      Category = "unknown"
)

// Categories lists every category a classifier may return, unknown excluded.
var Categories = []Category{
	CategoryBooking,
	CategoryReschedule,
	CategoryCancel,
	CategoryPricing,
	CategoryHours,
	CategoryComplaint,
	CategoryHumanRequest,
	CategoryUrgent,
	CategoryGeneral,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	if c == CategoryUnknown {
		return true
	}
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// alwaysHandoff categories are escalated regardless of confidence.
func (c Category) alwaysHandoff() bool {
	return c == CategoryComplaint || c == CategoryHumanRequest || c == CategoryUrgent
}

// Source records which path produced a Record.
type Source string

const (
	SourceLLM     Source = "llm"
	SourceGRPC    Source = "grpc"
	SourceKeyword Source = "keyword"
	SourceSafety  Source = "safety"
	SourceNone    Source = "none"
)

// Entities are the booking details mentioned in one utterance.
type Entities struct {
	Service       string `json:"service" msgpack:"service"`
	RequestedTime string `json:"requested_time" msgpack:"requested_time"`
	CustomerName  string `json:"customer_name" msgpack:"customer_name"`
	Notes         string `json:"notes" msgpack:"notes"`
}

// Record is the structured result of classifying one transcript.
type Record struct {
	Category   Category `json:"category" msgpack:"category"`
	Entities   Entities `json:"entities" msgpack:"entities"`
	Confidence float64  `json:"confidence" msgpack:"confidence"`
	Urgent     bool     `json:"urgent" msgpack:"urgent"`
	Handoff    bool     `json:"handoff" msgpack:"handoff"`
	Source     Source   `json:"source" msgpack:"source"`
}

// UnknownRecord is the result when nothing could be classified.
func UnknownRecord() Record {
	return Record{Category: CategoryUnknown, Confidence: 0, Source: SourceNone}
}

// Classifier is a primary intent backend.
type Classifier interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Classify returns the intent of one transcript
	Classify(ctx context.Context, text, callID string) (*Record, error)
}
