package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/salon-voice-gateway/internal/events"
)

func TestPrintSink(t *testing.T) {
	var buf bytes.Buffer
	sink := &printSink{w: &buf}
	ctx := context.Background()

	sink.Emit(ctx, events.Event{Type: events.Transcript, Data: map[string]any{"text": "book a haircut", "status": "ok", "confidence": 0.9}})
	sink.Emit(ctx, events.Event{Type: events.SpeechGate, Data: map[string]any{"text": "Shall I book that?"}})
	sink.Emit(ctx, events.Event{Type: events.CallStarted})
	sink.Emit(ctx, events.Event{Type: events.Handoff, Data: map[string]any{"reason": "urgent"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"book a haircut"`) {
		t.Errorf("Unexpected transcript line: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "salon:") {
		t.Errorf("Unexpected reply line: %s", lines[1])
	}
	if lines[2] != "handoff: urgent" {
		t.Errorf("Unexpected handoff line: %s", lines[2])
	}
}

func TestScale(t *testing.T) {
	if got := scale(time.Second, 10); got != 100*time.Millisecond {
		t.Errorf("scale(1s, 10) = %v", got)
	}
	if got := scale(20*time.Millisecond, 1); got != 20*time.Millisecond {
		t.Errorf("scale(20ms, 1) = %v", got)
	}
}
