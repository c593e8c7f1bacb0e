package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/salon-voice-gateway/internal/audio"
	"github.com/lexiqai/salon-voice-gateway/internal/config"
	"github.com/lexiqai/salon-voice-gateway/internal/dialog"
	"github.com/lexiqai/salon-voice-gateway/internal/events"
	"github.com/lexiqai/salon-voice-gateway/internal/intent"
	"github.com/lexiqai/salon-voice-gateway/internal/observability"
	"github.com/lexiqai/salon-voice-gateway/internal/resilience"
	"github.com/lexiqai/salon-voice-gateway/internal/session"
	"github.com/lexiqai/salon-voice-gateway/internal/speaker"
	"github.com/lexiqai/salon-voice-gateway/internal/speech"
	"github.com/lexiqai/salon-voice-gateway/internal/store"
	"github.com/lexiqai/salon-voice-gateway/internal/stt"
	"github.com/lexiqai/salon-voice-gateway/internal/tts"
)

// pipeline holds the components built from configuration.
type pipeline struct {
	sessions   *session.Manager
	recognizer *speech.Recognizer
	extractor  *intent.Extractor
	speaker    *speaker.Manager
	responder  session.Responder
	grpc       *intent.GRPCClassifier
	cacheStore *store.Store
	eventStore *store.Store
}

// newPipeline wires the backends selected in cfg. extra sinks receive every
// event in addition to the log and the optional outbox.
func newPipeline(cfg *config.Config, logger zerolog.Logger, extra ...events.Sink) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    config.Millis(cfg.RetryInitialBackoff),
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	breakerReset := config.Seconds(cfg.CircuitBreakerResetTimeout)

	transcriber, err := newTranscriber(cfg)
	if err != nil {
		return nil, err
	}
	synthesizer, err := newSynthesizer(cfg)
	if err != nil {
		return nil, err
	}
	p.recognizer = speech.NewRecognizer(transcriber, synthesizer, speech.Config{
		MinConfidence:      cfg.STTMinConfidence,
		STTTimeout:         config.Millis(cfg.STTTimeout),
		TTSTimeout:         config.Millis(cfg.TTSTimeout),
		Retry:              retry,
		BreakerMaxFailures: cfg.CircuitBreakerMaxFailures,
		BreakerReset:       breakerReset,
	}, logger)

	classifier, err := p.newClassifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	p.extractor = intent.NewExtractor(classifier, intent.Config{
		Timeout:              config.Millis(cfg.IntentTimeout),
		Retry:                retry,
		MinConfidence:        cfg.IntentMinConfidence,
		HandoffAfterAttempts: cfg.MaxClarifications,
		BreakerMaxFailures:   cfg.CircuitBreakerMaxFailures,
		BreakerReset:         breakerReset,
	}, logger)

	var persistent speaker.Persistent
	if cfg.TTSCacheDir != "" {
		if p.cacheStore, err = store.Open(store.Options{Dir: cfg.TTSCacheDir, Logger: logger}); err != nil {
			return nil, fmt.Errorf("open tts cache: %w", err)
		}
		persistent = store.NewAudioCache(p.cacheStore, 0)
	}
	p.speaker = speaker.NewManager(p.recognizer, persistent, speaker.Config{
		Voice:          cfg.TTSVoice,
		CacheSize:      cfg.TTSCacheSize,
		WordsPerMinute: cfg.TTSWordsPerMinute,
	}, logger)

	sinks := events.MultiSink{events.LogSink{Logger: observability.Component("events")}}
	if cfg.EventStoreDir != "" {
		es := p.cacheStore
		if cfg.EventStoreDir != cfg.TTSCacheDir {
			if p.eventStore, err = store.Open(store.Options{Dir: cfg.EventStoreDir, Logger: logger}); err != nil {
				return nil, fmt.Errorf("open event store: %w", err)
			}
			es = p.eventStore
		}
		sinks = append(sinks, events.NewStoreSink(es, 0))
	}
	sinks = append(sinks, extra...)

	if p.responder, err = session.NewTemplateResponder(cfg.SalonName, nil); err != nil {
		return nil, err
	}

	processor := audio.NewProcessor(audio.VADConfig{
		EnergyThreshold: cfg.VADEnergyThreshold,
		EndSilence:      config.Millis(cfg.VADEndSilence),
		MaxUtterance:    config.Millis(cfg.VADMaxUtterance),
		PreRoll:         config.Millis(cfg.VADPreRoll),
		FallbackChunk:   config.Millis(cfg.VADFallbackChunk),
	}, func() audio.Detector {
		return audio.NewEnergyDetector(cfg.VADEnergyThreshold)
	}, logger)

	dialogs := dialog.NewManager(dialog.Config{
		DuplicateWindow:   config.Millis(cfg.DuplicateWindow),
		RepeatThreshold:   cfg.RepeatThreshold,
		MaxClarifications: cfg.MaxClarifications,
	}, logger)

	p.sessions, err = session.NewManager(session.Components{
		Audio:   processor,
		Speech:  p.recognizer,
		Intent:  p.extractor,
		Dialog:  dialogs,
		Speaker: p.speaker,
	}, p.responder, events.NewEmitter(sinks, logger), session.Config{
		IdleTimeout:         config.Seconds(cfg.CallIdleTimeout),
		TombstoneTTL:        config.Seconds(cfg.TombstoneTTL),
		IntentMinConfidence: cfg.IntentMinConfidence,
		SpeakTimeout:        2*config.Millis(cfg.TTSTimeout) + config.Millis(cfg.RetryInitialBackoff) + time.Second,
	}, observability.Component("session"))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func newTranscriber(cfg *config.Config) (stt.Transcriber, error) {
	switch cfg.STTBackend {
	case config.BackendDeepgram:
		return stt.NewDeepgramTranscriber(stt.DeepgramConfig{
			APIKey:   cfg.DeepgramAPIKey,
			Model:    cfg.DeepgramModel,
			Language: cfg.DeepgramLanguage,
		}), nil
	case config.BackendWhisper:
		return stt.NewWhisperTranscriber(stt.WhisperConfig{
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Model:    cfg.WhisperModel,
			Language: cfg.WhisperLang,
		}), nil
	}
	return nil, fmt.Errorf("unknown STT backend %q", cfg.STTBackend)
}

func newSynthesizer(cfg *config.Config) (tts.Synthesizer, error) {
	switch cfg.TTSBackend {
	case config.BackendCartesia:
		return tts.NewCartesiaClient(tts.CartesiaConfig{
			APIKey:  cfg.CartesiaAPIKey,
			VoiceID: cfg.CartesiaVoiceID,
			ModelID: cfg.CartesiaModelID,
		}, &http.Client{Timeout: config.Millis(cfg.TTSTimeout)}), nil
	case config.BackendOpenAI:
		return tts.NewOpenAISynthesizer(tts.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAITTSModel,
			Voice:   cfg.TTSVoice,
		}), nil
	}
	return nil, fmt.Errorf("unknown TTS backend %q", cfg.TTSBackend)
}

// newClassifier returns the primary intent classifier, or nil for keyword-only.
func (p *pipeline) newClassifier(cfg *config.Config, logger zerolog.Logger) (intent.Classifier, error) {
	switch cfg.IntentBackend {
	case config.BackendOpenAI:
		c, err := intent.NewOpenAIClassifier(intent.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.IntentModel,
		})
		if err != nil {
			return nil, fmt.Errorf("create intent classifier: %w", err)
		}
		return c, nil
	case config.BackendGRPC:
		c, err := intent.NewGRPCClassifier(intent.GRPCConfig{
			Target:     cfg.IntentServiceURL,
			TLSEnabled: cfg.IntentServiceTLSEnabled,
			Reconnect: &resilience.ReconnectConfig{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				Backoff:     config.Millis(cfg.ReconnectBackoff),
				Multiplier:  2.0,
				MaxBackoff:  30 * time.Second,
				Logger:      logger.With().Str("component", "intent_grpc").Logger(),
			},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create intent client: %w", err)
		}
		p.grpc = c
		return c, nil
	case config.BackendKeyword:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown intent backend %q", cfg.IntentBackend)
}

// warm synthesizes the fallback phrase and the greeting ahead of the first call.
func (p *pipeline) warm(ctx context.Context) error {
	greeting := p.responder.Respond(ctx, session.PromptGreeting, dialog.CallInfo{})
	return p.speaker.Warm(ctx, greeting)
}

// checks lists the dependencies reported by /ready.
func (p *pipeline) checks() []observability.DependencyCheck {
	checks := []observability.DependencyCheck{
		{Name: "transcriber", Check: p.recognizer.TranscriberAvailable},
		{Name: "synthesizer", Check: p.recognizer.SynthesizerAvailable},
		{Name: "intent", Check: p.extractor.Available},
	}
	if p.grpc != nil {
		checks = append(checks, observability.DependencyCheck{Name: "intent_service", Check: p.grpc.HealthCheck})
	}
	if p.cacheStore != nil {
		checks = append(checks, observability.DependencyCheck{Name: "tts_cache", Check: storeCheck(p.cacheStore)})
	}
	if p.eventStore != nil {
		checks = append(checks, observability.DependencyCheck{Name: "event_store", Check: storeCheck(p.eventStore)})
	}
	return checks
}

func storeCheck(s *store.Store) observability.HealthCheckFunc {
	return func(context.Context) (bool, error) {
		if err := s.Ping(); err != nil {
			return false, err
		}
		return true, nil
	}
}

// Close releases backend connections and stores.
func (p *pipeline) Close() {
	logger := observability.GetLogger()
	if p.grpc != nil {
		if err := p.grpc.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing intent client")
		}
	}
	for _, s := range []*store.Store{p.eventStore, p.cacheStore} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error closing store")
		}
	}
}
