package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI speech endpoints return raw PCM at 24kHz for response_format=pcm.
const openAISpeechSampleRate = 24000

// OpenAIConfig configures the OpenAI speech client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// OpenAISynthesizer implements Synthesizer using the /audio/speech endpoint.
type OpenAISynthesizer struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAISynthesizer creates a new OpenAI speech client.
func NewOpenAISynthesizer(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAISynthesizer {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	client := openai.NewClient(clientOpts...)
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	return &OpenAISynthesizer{client: &client, cfg: cfg}
}

// Name implements Synthesizer.
func (o *OpenAISynthesizer) Name() string {
	return "openai"
}

// Synthesize implements Synthesizer.
func (o *OpenAISynthesizer) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voice == "" {
		voice = o.cfg.Voice
	}

	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(o.cfg.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech failed: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading openai speech response: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("openai speech returned empty audio data")
	}
	return &Audio{PCM: pcm, SampleRate: openAISpeechSampleRate, Channels: 1}, nil
}
