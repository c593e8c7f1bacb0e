// Package events carries call-level and turn-level events out of the
// pipeline. Delivery is best effort: sink failures never reach call handling.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/store"
)

// Type names an event.
type Type string

const (
	CallStarted      Type = "call_started"
	Transcript       Type = "transcript"
	QuickIntent      Type = "quick_intent"
	Intent           Type = "intent"
	SpeechGate       Type = "speech_gate"
	BargeIn          Type = "barge_in"
	Handoff          Type = "handoff"
	BookingConfirmed Type = "booking_confirmed"
	CallEnded        Type = "call_ended"
)

// Event is one pipeline occurrence.
type Event struct {
	ID     string         `json:"id" msgpack:"id"`
	Type   Type           `json:"type" msgpack:"type"`
	CallID string         `json:"call_id" msgpack:"call_id"`
	At     time.Time      `json:"at" msgpack:"at"`
	Data   map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger zerolog.Logger
}

// Emit implements Sink.
func (s LogSink) Emit(_ context.Context, e Event) error {
	s.Logger.Info().
		Str("event_id", e.ID).
		Str("event", string(e.Type)).
		Str("call_id", e.CallID).
		Fields(e.Data).
		Msg("Pipeline event")
	return nil
}

const outboxPrefix = "event:"

// StoreSink appends events to a badger outbox for later export.
type StoreSink struct {
	store *store.Store
	ttl   time.Duration
	seq   atomic.Uint64
}

// NewStoreSink creates an outbox sink. A zero ttl keeps events until exported.
func NewStoreSink(s *store.Store, ttl time.Duration) *StoreSink {
	return &StoreSink{store: s, ttl: ttl}
}

// Emit implements Sink.
func (s *StoreSink) Emit(_ context.Context, e Event) error {
	key := fmt.Sprintf("%s%020d:%010d:%s", outboxPrefix, e.At.UnixNano(), s.seq.Add(1), e.ID)
	return s.store.SetRecord(key, e, s.ttl)
}

// ReadOutbox calls fn for every stored event in emission order.
func ReadOutbox(s *store.Store, fn func(Event) error) error {
	return s.Scan(outboxPrefix, func(key string, value []byte) error {
		var e Event
		if err := store.Decode(value, &e); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return fn(e)
	})
}

// PurgeOutbox deletes every stored event and returns how many were removed.
func PurgeOutbox(s *store.Store) (int, error) {
	var keys []string
	if err := s.Scan(outboxPrefix, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return 0, err
	}
	for i, key := range keys {
		if err := s.Delete(key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter stamps events and shields callers from sink failures.
type Emitter struct {
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
}

// NewEmitter creates an emitter. A nil sink discards events.
func NewEmitter(sink Sink, logger zerolog.Logger) *Emitter {
	return &Emitter{sink: sink, logger: logger, now: time.Now}
}

// Emit sends one event. Errors and panics from the sink are logged and counted.
func (em *Emitter) Emit(ctx context.Context, callID string, typ Type, data map[string]any) {
	if em == nil || em.sink == nil {
		return
	}
	e := Event{
		ID:     uuid.NewString(),
		Type:   typ,
		CallID: callID,
		At:     em.now().UTC(),
		Data:   data,
	}

	defer func() {
		if r := recover(); r != nil {
			observability.RecordEventSinkFailure()
			em.logger.Error().
				Interface("panic", r).
				Str("call_id", callID).
				Str("event", string(typ)).
				Msg("Event sink panicked")
		}
	}()
	if err := em.sink.Emit(ctx, e); err != nil {
		observability.RecordEventSinkFailure()
		em.logger.Warn().
			Err(err).
			Str("call_id", callID).
			Str("event", string(typ)).
			Msg("Event sink rejected event")
	}
}
