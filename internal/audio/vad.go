package audio

import (
	"errors"
	"time"
)

// ErrNoSamples is returned by a Detector given an empty frame.
var ErrNoSamples = errors.New("vad: no samples")

// VADConfig holds configuration for Voice Activity Detection and utterance segmentation
type VADConfig struct {
	EnergyThreshold float64       // RMS energy threshold for speech detection
	EndSilence      time.Duration // Trailing silence that ends an utterance
	MaxUtterance    time.Duration // Safety cap on buffered audio
	PreRoll         time.Duration // Silence kept in front of a speech onset
	FallbackChunk   time.Duration // Chunk length once a call falls back to AlwaysSpeech
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 500.0,
		EndSilence:      400 * time.Millisecond,
		MaxUtterance:    15 * time.Second,
		PreRoll:         100 * time.Millisecond,
		FallbackChunk:   4 * time.Second,
	}
}

// Detector classifies one frame of 8 kHz linear samples as speech or silence.
type Detector interface {
	IsSpeech(samples []int16) (bool, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(samples []int16) (bool, error)

// IsSpeech implements Detector.
func (f DetectorFunc) IsSpeech(samples []int16) (bool, error) {
	return f(samples)
}

// EnergyDetector is an RMS threshold VAD.
type EnergyDetector struct {
	Threshold float64
}

// NewEnergyDetector creates an energy detector; a non-positive threshold uses the default.
func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultVADConfig().EnergyThreshold
	}
	return &EnergyDetector{Threshold: threshold}
}

// IsSpeech implements Detector.
func (d *EnergyDetector) IsSpeech(samples []int16) (bool, error) {
	if len(samples) == 0 {
		return false, ErrNoSamples
	}
	return CalculateRMS(samples) > d.Threshold, nil
}

// AlwaysSpeech classifies every frame as speech. Utterances then end only at
// the chunk cap.
type AlwaysSpeech struct{}

// IsSpeech implements Detector.
func (AlwaysSpeech) IsSpeech([]int16) (bool, error) {
	return true, nil
}
