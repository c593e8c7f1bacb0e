package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when there is nothing to synthesize.
var ErrEmptyText = errors.New("tts: empty text")

// Audio is synthesized speech in the backend's native format.
type Audio struct {
	PCM        []byte // 16-bit little-endian linear PCM
	SampleRate int    // Sample rate in Hz
	Channels   int    // Number of channels (1 for mono)
}

// Synthesizer is a text-to-speech backend.
type Synthesizer interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Synthesize converts text to audio with the given voice; an empty voice
	// selects the backend default.
	Synthesize(ctx context.Context, text, voice string) (*Audio, error)
}
