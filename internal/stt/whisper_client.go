package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// WhisperConfig configures the OpenAI-compatible transcriber.
type WhisperConfig struct {
	APIKey   string
	BaseURL  string // empty uses api.openai.com; set for a local whisper server
	Model    string
	Language string
}

// WhisperTranscriber implements Transcriber against an OpenAI-compatible
// /audio/transcriptions endpoint using verbose_json output.
type WhisperTranscriber struct {
	client *openai.Client
	cfg    WhisperConfig
}

// NewWhisperTranscriber creates a new whisper transcriber. Extra request
// options are appended after the configured ones.
func NewWhisperTranscriber(cfg WhisperConfig, opts ...option.RequestOption) *WhisperTranscriber {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	client := openai.NewClient(clientOpts...)
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &WhisperTranscriber{client: &client, cfg: cfg}
}

// Name implements Transcriber.
func (w *WhisperTranscriber) Name() string {
	return "whisper"
}

// Transcribe implements Transcriber.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.WAV) == 0 {
		return nil, ErrEmptyAudio
	}

	params := openai.AudioTranscriptionNewParams{
		File:           openai.File(bytes.NewReader(req.WAV), "utterance.wav", "audio/wav"),
		Model:          openai.AudioModel(w.cfg.Model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if w.cfg.Language != "" {
		params.Language = openai.String(w.cfg.Language)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	result := &Result{Text: resp.Text, Confidence: 1.0}
	if raw := resp.RawJSON(); raw != "" {
		if err := applyVerboseJSON(result, []byte(raw)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// verboseTranscription is the verbose_json body; segments carry avg_logprob.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		AvgLogProb   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// applyVerboseJSON derives confidence from the segment log-probabilities,
// discounted by the model's own no-speech estimate. Without segments the
// result keeps its default confidence.
func applyVerboseJSON(result *Result, raw []byte) error {
	var vt verboseTranscription
	if err := json.Unmarshal(raw, &vt); err != nil {
		return fmt.Errorf("failed to decode verbose transcription: %w", err)
	}
	if vt.Text != "" {
		result.Text = vt.Text
	}
	result.Duration = vt.Duration
	if len(vt.Segments) == 0 {
		return nil
	}

	var logProb, noSpeech float64
	for _, s := range vt.Segments {
		logProb += s.AvgLogProb
		noSpeech += s.NoSpeechProb
	}
	n := float64(len(vt.Segments))
	result.AvgLogProb = logProb / n
	result.Confidence = math.Exp(result.AvgLogProb) * (1 - noSpeech/n)
	result.Confidence = math.Max(0, math.Min(1, result.Confidence))
	return nil
}
