package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lexiqai/salon-voice-gateway/internal/config"
	"github.com/lexiqai/salon-voice-gateway/internal/events"
	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/session"
)

const (
	frameBytes  = 160 // 20ms of 8 kHz μ-law
	framePeriod = 20 * time.Millisecond
)

var replayFlags struct {
	callID string
	from   string
	settle time.Duration
	speed  float64
}

var replayCmd = &cobra.Command{
	Use:   "replay <file.ulaw>",
	Short: "Run a recorded call through the pipeline",
	Long: `Replay feeds a raw 8 kHz μ-law recording through the same pipeline a live
call uses, printing transcripts, intents and replies as they happen.

Frames and playback marks are paced at --speed times real time; the
pipeline drops frames it cannot queue, so very high speeds lose audio.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFlags.callID, "call-id", "", "call ID (default: random)")
	replayCmd.Flags().StringVar(&replayFlags.from, "from", "+15550100", "caller number")
	replayCmd.Flags().DurationVar(&replayFlags.settle, "settle", 5*time.Second, "time to wait for the last reply after the recording ends")
	replayCmd.Flags().Float64Var(&replayFlags.speed, "speed", 10, "playback speed relative to real time")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayFlags.speed <= 0 {
		return fmt.Errorf("--speed must be positive, got %v", replayFlags.speed)
	}
	recording, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read recording: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	w := cmd.OutOrStdout()
	p, err := newPipeline(cfg, logger, &printSink{w: w})
	if err != nil {
		return err
	}
	defer p.Close()

	callID := replayFlags.callID
	if callID == "" {
		callID = "RP" + uuid.NewString()
	}

	ctx := cmd.Context()
	out := &replayOutbound{w: w, calls: p.sessions, callID: callID, speed: replayFlags.speed}
	if err := p.sessions.StartCall(ctx, session.StartInfo{
		CallID:    callID,
		StreamSID: "MZ" + callID,
		From:      replayFlags.from,
	}, out); err != nil {
		return err
	}

	// Trailing silence closes an utterance that runs to the end of the file.
	silence := make([]byte, 8000)
	for i := range silence {
		silence[i] = 0xFF
	}
	audio := append(recording, silence...)

	for off := 0; off < len(audio); off += frameBytes {
		end := min(off+frameBytes, len(audio))
		if err := p.sessions.HandleMedia(callID, audio[off:end]); err != nil {
			return err
		}
		time.Sleep(scale(framePeriod, replayFlags.speed))
	}

	select {
	case <-time.After(replayFlags.settle):
	case <-ctx.Done():
	}
	if err := p.sessions.EndCall(callID, "replay_done"); err != nil {
		return err
	}
	out.wait()
	return p.sessions.Drain(context.WithoutCancel(ctx))
}

// printSink writes the call's conversational events to w.
type printSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *printSink) Emit(_ context.Context, e events.Event) error {
	var line string
	switch e.Type {
	case events.Transcript:
		line = fmt.Sprintf("caller:  %q (%v, %v)", e.Data["text"], e.Data["status"], e.Data["confidence"])
	case events.Intent:
		line = fmt.Sprintf("intent:  %v (%v via %v)", e.Data["category"], e.Data["confidence"], e.Data["source"])
	case events.SpeechGate:
		line = fmt.Sprintf("salon:   %q", e.Data["text"])
	case events.BargeIn:
		line = "barge-in"
	case events.Handoff:
		line = fmt.Sprintf("handoff: %v", e.Data["reason"])
	case events.BookingConfirmed:
		line = fmt.Sprintf("booked:  %v %v for %v", e.Data["service"], e.Data["requested_time"], e.Data["customer_name"])
	case events.CallEnded:
		line = fmt.Sprintf("ended:   %v after %vms", e.Data["reason"], e.Data["duration_ms"])
	default:
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, line)
	return err
}

// replayOutbound stands in for the Twilio leg. It acknowledges every mark
// back to the pipeline.
type replayOutbound struct {
	w      io.Writer
	calls  *session.Manager
	callID string
	speed  float64

	mu      sync.Mutex
	pending time.Duration
	acks    sync.WaitGroup
}

func (o *replayOutbound) SendAudio(_ context.Context, mulaw []byte) error {
	o.mu.Lock()
	o.pending += time.Duration(len(mulaw)) * time.Second / 8000
	o.mu.Unlock()
	return nil
}

func (o *replayOutbound) SendMark(_ context.Context, name string) error {
	o.mu.Lock()
	delay := scale(o.pending, o.speed)
	o.pending = 0
	o.mu.Unlock()

	o.acks.Add(1)
	go func() {
		defer o.acks.Done()
		time.Sleep(delay)
		_ = o.calls.HandleMark(o.callID, name)
	}()
	return nil
}

func (o *replayOutbound) Clear(context.Context) error {
	o.mu.Lock()
	o.pending = 0
	o.mu.Unlock()
	fmt.Fprintln(o.w, "clear:   playback cleared")
	return nil
}

func (o *replayOutbound) wait() {
	o.acks.Wait()
}

func scale(d time.Duration, speed float64) time.Duration {
	return time.Duration(float64(d) / speed)
}
