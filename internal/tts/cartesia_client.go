package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lexiqai/salon-voice-gateway/internal/resilience"
)

const (
	cartesiaDefaultURL = "https://api.cartesia.ai/v1/tts"
	cartesiaSampleRate = 24000
)

// CartesiaConfig configures the Cartesia client.
type CartesiaConfig struct {
	APIKey  string
	APIURL  string // empty uses the public endpoint
	VoiceID string
	ModelID string
}

// CartesiaClient implements Synthesizer using Cartesia's TTS API
type CartesiaClient struct {
	cfg        CartesiaConfig
	httpClient *http.Client
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client. A nil httpClient uses http.DefaultClient.
func NewCartesiaClient(cfg CartesiaConfig, httpClient *http.Client) *CartesiaClient {
	if cfg.APIURL == "" {
		cfg.APIURL = cartesiaDefaultURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CartesiaClient{cfg: cfg, httpClient: httpClient}
}

// Name implements Synthesizer.
func (c *CartesiaClient) Name() string {
	return "cartesia"
}

// Synthesize implements Synthesizer. Cartesia returns raw PCM at 24kHz.
func (c *CartesiaClient) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = c.cfg.VoiceID
	}

	reqBody := CartesiaRequest{
		Text:            text,
		VoiceID:         voice,
		ModelID:         c.cfg.ModelID,
		OutputFormat:    "pcm",
		SampleRate:      cartesiaSampleRate,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &resilience.StatusError{Backend: "cartesia", StatusCode: resp.StatusCode, Body: string(body)}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading cartesia audio response: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio data")
	}

	return &Audio{PCM: audioData, SampleRate: cartesiaSampleRate, Channels: 1}, nil
}
