package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend names accepted by the *_BACKEND settings.
const (
	BackendDeepgram = "deepgram"
	BackendWhisper  = "whisper"
	BackendCartesia = "cartesia"
	BackendOpenAI   = "openai"
	BackendGRPC     = "grpc"
	BackendKeyword  = "keyword"
)

// Config holds all configuration for the salon voice gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, only used for logging the stream endpoint.
	VoiceGatewayURL string `envconfig:"VOICE_GATEWAY_URL" default:""`

	// Backend selection
	STTBackend    string `envconfig:"STT_BACKEND" default:"deepgram"`  // deepgram, whisper
	TTSBackend    string `envconfig:"TTS_BACKEND" default:"cartesia"`  // cartesia, openai
	IntentBackend string `envconfig:"INTENT_BACKEND" default:"openai"` // openai, grpc, keyword

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2-phonecall"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// OpenAI-compatible API (whisper transcription, speech, intent tool calls).
	// OPENAI_BASE_URL may point at a local whisper/LLM server.
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL" default:""`
	WhisperModel   string `envconfig:"WHISPER_MODEL" default:"whisper-1"`
	WhisperLang    string `envconfig:"WHISPER_LANGUAGE" default:"en"`
	OpenAITTSModel string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`
	IntentModel    string `envconfig:"INTENT_MODEL" default:"gpt-4o-mini"`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Voice passed to the synthesis backend and used in the TTS cache key
	TTSVoice string `envconfig:"TTS_VOICE" default:"alloy"`

	// Salon name used in reply templates
	SalonName string `envconfig:"SALON_NAME" default:"the salon"`

	// Intent business-logic gRPC endpoint
	IntentServiceURL        string `envconfig:"INTENT_SERVICE_URL" default:"localhost:50051"`
	IntentServiceTLSEnabled bool   `envconfig:"INTENT_SERVICE_TLS_ENABLED" default:"false"`

	// Backend timeouts (milliseconds)
	STTTimeout    int `envconfig:"STT_TIMEOUT_MS" default:"8000"`
	TTSTimeout    int `envconfig:"TTS_TIMEOUT_MS" default:"6000"`
	IntentTimeout int `envconfig:"INTENT_TIMEOUT_MS" default:"4000"`

	// Audio processing configuration
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADEndSilence      int     `envconfig:"VAD_END_SILENCE_MS" default:"400"`     // Trailing silence that ends an utterance
	VADMaxUtterance    int     `envconfig:"VAD_MAX_UTTERANCE_MS" default:"15000"` // Safety cap on buffered speech
	VADPreRoll         int     `envconfig:"VAD_PREROLL_MS" default:"100"`         // Silence kept before speech onset
	VADFallbackChunk   int     `envconfig:"VAD_FALLBACK_CHUNK_MS" default:"4000"` // Chunk length once a call falls back to always-speech

	// Transcript / dialog policy
	STTMinConfidence    float64 `envconfig:"STT_MIN_CONFIDENCE" default:"0.35"`
	DuplicateWindow     int     `envconfig:"DUPLICATE_WINDOW_MS" default:"3000"`
	RepeatThreshold     int     `envconfig:"REPEAT_THRESHOLD" default:"3"`
	MaxClarifications   int     `envconfig:"MAX_CLARIFICATIONS" default:"2"`
	IntentMinConfidence float64 `envconfig:"INTENT_MIN_CONFIDENCE" default:"0.5"`

	// TTS cache and speech gate
	TTSCacheSize      int    `envconfig:"TTS_CACHE_SIZE" default:"256"`
	TTSCacheDir       string `envconfig:"TTS_CACHE_DIR" default:""` // empty disables the persistent tier
	TTSWordsPerMinute int    `envconfig:"TTS_WORDS_PER_MINUTE" default:"150"`

	// Call lifecycle
	CallIdleTimeout int `envconfig:"CALL_IDLE_TIMEOUT_S" default:"120"`
	TombstoneTTL    int `envconfig:"TOMBSTONE_TTL_S" default:"600"`

	// Event outbox; empty keeps events in the log only
	EventStoreDir string `envconfig:"EVENT_STORE_DIR" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`             // First attempt plus one retry
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"200"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the credentials required by the selected backends are present.
func (c *Config) Validate() error {
	c.STTBackend = strings.ToLower(c.STTBackend)
	c.TTSBackend = strings.ToLower(c.TTSBackend)
	c.IntentBackend = strings.ToLower(c.IntentBackend)

	switch c.STTBackend {
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required for STT_BACKEND=deepgram")
		}
	case BackendWhisper:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required for STT_BACKEND=whisper")
		}
	default:
		return fmt.Errorf("unknown STT_BACKEND %q", c.STTBackend)
	}

	switch c.TTSBackend {
	case BackendCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required for TTS_BACKEND=cartesia")
		}
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required for TTS_BACKEND=openai")
		}
	default:
		return fmt.Errorf("unknown TTS_BACKEND %q", c.TTSBackend)
	}

	switch c.IntentBackend {
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required for INTENT_BACKEND=openai")
		}
	case BackendGRPC:
		if c.IntentServiceURL == "" {
			return fmt.Errorf("INTENT_SERVICE_URL is required for INTENT_BACKEND=grpc")
		}
	case BackendKeyword:
	default:
		return fmt.Errorf("unknown INTENT_BACKEND %q", c.IntentBackend)
	}

	if c.TTSCacheSize <= 0 {
		return fmt.Errorf("TTS_CACHE_SIZE must be positive, got %d", c.TTSCacheSize)
	}
	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 2 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be 1 or 2 (one retry at most), got %d", c.RetryMaxAttempts)
	}
	if c.RepeatThreshold < 2 {
		return fmt.Errorf("REPEAT_THRESHOLD must be at least 2, got %d", c.RepeatThreshold)
	}
	return nil
}

// Millis converts a millisecond setting into a time.Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Seconds converts a second setting into a time.Duration.
func Seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
