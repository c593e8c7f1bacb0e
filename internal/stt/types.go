package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a request carries no audio.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is one utterance submitted for transcription.
type Request struct {
	// WAV is a complete RIFF/WAVE file of 16-bit mono PCM.
	WAV []byte

	// SampleRate of the PCM inside WAV
	SampleRate int

	// CallID is used for logging and correlation only
	CallID string
}

// Result represents a transcription result
type Result struct {
	// Text is the transcribed text
	Text string

	// Confidence is the confidence score (0.0 to 1.0)
	Confidence float64

	// AvgLogProb is the mean segment log-probability when the backend reports one
	AvgLogProb float64

	// Duration is the duration of the utterance in seconds, if reported
	Duration float64
}

// Transcriber is a speech-to-text backend for complete utterances.
type Transcriber interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// Transcribe returns the transcript of one utterance
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
