package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	restapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// prerecordedAPI is the part of the Deepgram REST client used here.
type prerecordedAPI interface {
	FromStream(ctx context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions) (*restinterfaces.PreRecordedResponse, error)
}

// DeepgramConfig configures the Deepgram prerecorded transcriber.
type DeepgramConfig struct {
	APIKey   string
	Model    string
	Language string
	// Host overrides the API host, for self-hosted deployments.
	Host string
}

// DeepgramTranscriber implements Transcriber using Deepgram's prerecorded REST API.
type DeepgramTranscriber struct {
	cfg    DeepgramConfig
	client prerecordedAPI
}

// NewDeepgramTranscriber creates a new Deepgram transcriber
func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	c := listenClient.NewREST(cfg.APIKey, &interfaces.ClientOptions{Host: cfg.Host})
	return &DeepgramTranscriber{
		cfg:    cfg,
		client: restapi.New(c),
	}
}

// Name implements Transcriber.
func (d *DeepgramTranscriber) Name() string {
	return "deepgram"
}

// Transcribe implements Transcriber.
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if len(req.WAV) == 0 {
		return nil, ErrEmptyAudio
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.cfg.Model,
		Language:    d.cfg.Language,
		Punctuate:   true,
		SmartFormat: true,
	}

	res, err := d.client.FromStream(ctx, bytes.NewReader(req.WAV), options)
	if err != nil {
		return nil, fmt.Errorf("deepgram transcription failed: %w", err)
	}
	return parseDeepgramResponse(res)
}

// deepgramResponse holds the fields read from a prerecorded response.
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parseDeepgramResponse reads the best alternative of the first channel. The
// SDK type is re-decoded through its JSON form so nil sections need no checks.
func parseDeepgramResponse(res *restinterfaces.PreRecordedResponse) (*Result, error) {
	if res == nil {
		return nil, fmt.Errorf("deepgram returned no response")
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deepgram response: %w", err)
	}
	var dr deepgramResponse
	if err := json.Unmarshal(raw, &dr); err != nil {
		return nil, fmt.Errorf("failed to decode deepgram response: %w", err)
	}

	result := &Result{Duration: dr.Metadata.Duration}
	if len(dr.Results.Channels) == 0 || len(dr.Results.Channels[0].Alternatives) == 0 {
		return result, nil
	}
	alt := dr.Results.Channels[0].Alternatives[0]
	result.Text = alt.Transcript
	result.Confidence = alt.Confidence
	return result, nil
}
