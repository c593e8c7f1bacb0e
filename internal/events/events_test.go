package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	panic  bool
}

func (s *recordingSink) Emit(_ context.Context, e Event) error {
	if s.panic {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func TestEmitter_StampsEvents(t *testing.T) {
	sink := &recordingSink{}
	em := NewEmitter(sink, zerolog.Nop())

	em.Emit(context.Background(), "CA123", Transcript, map[string]any{"text": "book a haircut"})

	if len(sink.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if e.ID == "" || e.At.IsZero() || e.CallID != "CA123" || e.Type != Transcript {
		t.Errorf("Unexpected event: %+v", e)
	}
	if e.Data["text"] != "book a haircut" {
		t.Errorf("Unexpected data: %v", e.Data)
	}
}

func TestEmitter_SwallowsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	NewEmitter(&recordingSink{err: errors.New("disk full")}, logger).Emit(context.Background(), "CA1", Intent, nil)
	NewEmitter(&recordingSink{panic: true}, logger).Emit(context.Background(), "CA1", Intent, nil)

	out := buf.String()
	if !strings.Contains(out, "disk full") || !strings.Contains(out, "Event sink panicked") {
		t.Errorf("Expected failures to be logged, got %s", out)
	}
}

func TestEmitter_NilSink(t *testing.T) {
	NewEmitter(nil, zerolog.Nop()).Emit(context.Background(), "CA1", CallStarted, nil)

	var em *Emitter
	em.Emit(context.Background(), "CA1", CallStarted, nil)
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("unavailable")}

	err := MultiSink{ok, bad}.Emit(context.Background(), Event{Type: CallEnded})
	if err == nil || len(ok.events) != 1 || len(bad.events) != 1 {
		t.Errorf("Expected every sink to be tried and the error returned, got %v", err)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	LogSink{Logger: zerolog.New(&buf)}.Emit(context.Background(), Event{ID: "e1", Type: Handoff, CallID: "CA9", Data: map[string]any{"reason": "complaint"}})

	out := buf.String()
	for _, want := range []string{`"event":"handoff"`, `"call_id":"CA9"`, `"reason":"complaint"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}

func TestStoreSink_Outbox(t *testing.T) {
	s, err := store.Open(store.Options{InMemory: true, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	em := NewEmitter(NewStoreSink(s, 0), zerolog.Nop())
	em.Emit(context.Background(), "CA1", CallStarted, map[string]any{"from": "+15550100"})
	em.Emit(context.Background(), "CA1", BookingConfirmed, map[string]any{"service": "haircut"})
	em.Emit(context.Background(), "CA1", CallEnded, nil)

	var types []Type
	err = ReadOutbox(s, func(e Event) error {
		types = append(types, e.Type)
		if e.Type == BookingConfirmed && e.Data["service"] != "haircut" {
			t.Errorf("Unexpected data: %v", e.Data)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReadOutbox failed: %v", err)
	}
	if len(types) != 3 || types[0] != CallStarted || types[2] != CallEnded {
		t.Errorf("Expected events in emission order, got %v", types)
	}
}

func TestPurgeOutbox(t *testing.T) {
	s, err := store.Open(store.Options{InMemory: true, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	em := NewEmitter(NewStoreSink(s, 0), zerolog.Nop())
	em.Emit(context.Background(), "CA1", CallStarted, nil)
	em.Emit(context.Background(), "CA1", CallEnded, nil)
	if err := s.Set("tts:keep", []byte{1}, 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	n, err := PurgeOutbox(s)
	if err != nil {
		t.Fatalf("PurgeOutbox failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 purged events, got %d", n)
	}

	count := 0
	if err := ReadOutbox(s, func(Event) error { count++; return nil }); err != nil {
		t.Fatalf("ReadOutbox failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty outbox, got %d events", count)
	}
	if _, err := s.Get("tts:keep"); err != nil {
		t.Errorf("Purge removed a non-event key: %v", err)
	}
}
