// Package session drives the per-call pipeline: it owns one frame lane and
// one turn lane per active call and routes work between the audio, speech,
// intent, dialog and speaker components, which keep their own per-call state
// keyed by call ID.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownCall is returned for a call ID that was never started. It
	// indicates a defect in the caller, unlike events for calls that have
	// already ended, which are ignored.
	ErrUnknownCall = errors.New("session: unknown call")

	// ErrEmptyCallID is returned when a start event carries no call ID.
	ErrEmptyCallID = errors.New("session: empty call id")
)

// StartInfo describes a call whose media stream just opened.
type StartInfo struct {
	CallID    string
	StreamSID string
	From      string
	To        string
}

// Outbound is the media leg back to the caller.
type Outbound interface {
	// SendAudio plays 8 kHz μ-law audio to the caller.
	SendAudio(ctx context.Context, mulaw []byte) error

	// SendMark asks the telephony leg to echo name once all audio sent so
	// far has played.
	SendMark(ctx context.Context, name string) error

	// Clear discards audio queued for playback.
	Clear(ctx context.Context) error
}

// Config controls call lifecycle and queueing.
type Config struct {
	// IdleTimeout ends calls that receive no media for this long.
	IdleTimeout time.Duration

	// TombstoneTTL is how long ended call IDs are remembered so that late
	// events for them are ignored rather than reported as unknown.
	TombstoneTTL time.Duration

	// ReapInterval is how often Run checks for idle calls.
	ReapInterval time.Duration

	// FrameQueue and UtteranceQueue bound each call's lanes.
	FrameQueue     int
	UtteranceQueue int

	// IntentMinConfidence is the floor below which an intent is treated
	// as not understood.
	IntentMinConfidence float64

	// TurnTimeout bounds one turn from transcription to the reply decision.
	TurnTimeout time.Duration

	// SpeakTimeout bounds synthesis and playback of one reply. It starts
	// when the reply is chosen, not when the turn does.
	SpeakTimeout time.Duration
}

// DefaultConfig returns the default lifecycle settings.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:         2 * time.Minute,
		TombstoneTTL:        10 * time.Minute,
		ReapInterval:        5 * time.Second,
		FrameQueue:          500,
		UtteranceQueue:      4,
		IntentMinConfidence: 0.5,
		TurnTimeout:         30 * time.Second,
		SpeakTimeout:        15 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = def.TombstoneTTL
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.FrameQueue <= 0 {
		c.FrameQueue = def.FrameQueue
	}
	if c.UtteranceQueue <= 0 {
		c.UtteranceQueue = def.UtteranceQueue
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = def.TurnTimeout
	}
	if c.SpeakTimeout <= 0 {
		c.SpeakTimeout = def.SpeakTimeout
	}
}
