// Package speaker wraps speech synthesis with a process-wide audio cache and
// tracks, per call, whether the assistant is currently speaking.
package speaker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/lexiqai/salon-voice-gateway/internal/observability"
)

// ErrEmptyText is returned when there is nothing to synthesize.
var ErrEmptyText = errors.New("speaker: empty text")

// mulawBytesPerSecond is the byte rate of 8 kHz mono μ-law.
const mulawBytesPerSecond = 8000

// Synthesizer produces telephony audio for text.
type Synthesizer interface {
	SynthesizeTTS(ctx context.Context, text, voice, callID string) ([]byte, error)
}

// Persistent is an optional second cache tier consulted on a memory miss.
type Persistent interface {
	Load(key string) ([]byte, bool, error)
	Save(key string, audio []byte) error
}

// Config controls caching and speech-duration estimation.
type Config struct {
	Voice          string
	CacheSize      int
	WordsPerMinute int

	// FallbackPhrase is spoken when synthesis of a reply fails.
	FallbackPhrase string

	// MarkGrace is how long past the estimate a gate waits for its
	// playback mark before expiring.
	MarkGrace time.Duration
}

// DefaultFallbackPhrase asks the caller to repeat themselves.
const DefaultFallbackPhrase = "Sorry, I didn't catch that. Could you say it again?"

// Manager is the TTS front used by the session layer.
type Manager struct {
	synth      Synthesizer
	persistent Persistent
	cfg        Config
	cache      *lruCache
	flights    singleflight.Group

	fallbackMu sync.RWMutex
	fallback   []byte

	gateMu sync.RWMutex
	gates  map[string]*Gate

	now    func() time.Time
	logger zerolog.Logger
}

// NewManager creates a manager. persistent may be nil.
func NewManager(synth Synthesizer, persistent Persistent, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = 150
	}
	if cfg.FallbackPhrase == "" {
		cfg.FallbackPhrase = DefaultFallbackPhrase
	}
	if cfg.MarkGrace <= 0 {
		cfg.MarkGrace = 2 * time.Second
	}
	return &Manager{
		synth:      synth,
		persistent: persistent,
		cfg:        cfg,
		cache:      newLRUCache(cfg.CacheSize),
		gates:      make(map[string]*Gate),
		now:        time.Now,
		logger:     logger.With().Str("component", "speaker").Logger(),
	}
}

// Synthesize returns telephony audio for text, from cache when possible.
// Concurrent misses for the same text share one backend call. If the backend
// fails or ctx runs out first, the warmed fallback phrase is returned instead
// when available.
func (m *Manager) Synthesize(ctx context.Context, text, callID string) ([]byte, error) {
	norm := normalizeText(text)
	if norm == "" {
		return nil, ErrEmptyText
	}
	key := cacheKey(m.cfg.Voice, norm)

	audio, err := m.lookupOrSynthesize(ctx, key, norm, callID)
	if err == nil {
		return audio, nil
	}

	if fb := m.fallbackAudio(); fb != nil && norm != normalizeText(m.cfg.FallbackPhrase) {
		observability.RecordTTSCache("fallback")
		m.logger.Warn().
			Err(err).
			Str("call_id", callID).
			Msg("Synthesis failed, speaking fallback phrase")
		return fb, nil
	}
	return nil, err
}

func (m *Manager) lookupOrSynthesize(ctx context.Context, key, text, callID string) ([]byte, error) {
	if audio, ok := m.cache.get(key); ok {
		observability.RecordTTSCache("hit")
		return audio, nil
	}

	ch := m.flights.DoChan(key, func() (any, error) {
		// Another flight may have filled the cache since the check above.
		if audio, ok := m.cache.get(key); ok {
			return audio, nil
		}
		if audio := m.loadPersistent(key); audio != nil {
			observability.RecordTTSCache("persistent_hit")
			m.insert(key, audio)
			return audio, nil
		}

		observability.RecordTTSCache("miss")
		audio, err := m.synth.SynthesizeTTS(context.WithoutCancel(ctx), text, m.cfg.Voice, callID)
		if err != nil {
			return nil, err
		}
		m.insert(key, audio)
		m.savePersistent(key, audio)
		return audio, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			observability.RecordTTSCache("shared")
		}
		return res.Val.([]byte), nil
	}
}

func (m *Manager) insert(key string, audio []byte) {
	if n := m.cache.add(key, audio, m.now()); n > 0 {
		for i := 0; i < n; i++ {
			observability.RecordTTSCache("evict")
		}
	}
}

func (m *Manager) loadPersistent(key string) []byte {
	if m.persistent == nil {
		return nil
	}
	audio, ok, err := m.persistent.Load(persistentKey(key))
	if err != nil {
		m.logger.Warn().Err(err).Msg("Persistent TTS cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	return audio
}

func (m *Manager) savePersistent(key string, audio []byte) {
	if m.persistent == nil {
		return
	}
	if err := m.persistent.Save(persistentKey(key), audio); err != nil {
		m.logger.Warn().Err(err).Msg("Persistent TTS cache write failed")
	}
}

// Warm synthesizes the fallback phrase and any extra phrases so they are
// cached before the first call. The fallback audio is pinned outside the LRU.
func (m *Manager) Warm(ctx context.Context, phrases ...string) error {
	fb, err := m.Synthesize(ctx, m.cfg.FallbackPhrase, "")
	if err != nil {
		return fmt.Errorf("warm fallback phrase: %w", err)
	}
	m.fallbackMu.Lock()
	m.fallback = fb
	m.fallbackMu.Unlock()

	var errs []error
	for _, p := range phrases {
		if _, err := m.Synthesize(ctx, p, ""); err != nil {
			errs = append(errs, fmt.Errorf("warm %q: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// FallbackPhrase returns the phrase spoken when synthesis fails.
func (m *Manager) FallbackPhrase() string {
	return m.cfg.FallbackPhrase
}

func (m *Manager) fallbackAudio() []byte {
	m.fallbackMu.RLock()
	defer m.fallbackMu.RUnlock()
	return m.fallback
}

// CacheLen returns the number of entries in the memory cache.
func (m *Manager) CacheLen() int {
	return m.cache.len()
}

// EstimateDuration estimates how long text takes to play: the longer of the
// words-per-minute estimate and the audio's own length.
func (m *Manager) EstimateDuration(text string, audioBytes int) time.Duration {
	words := len(strings.Fields(text))
	byText := time.Duration(words) * time.Minute / time.Duration(m.cfg.WordsPerMinute)
	byAudio := time.Duration(audioBytes) * time.Second / mulawBytesPerSecond
	return max(byText, byAudio)
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func cacheKey(voice, text string) string {
	return voice + "\x00" + text
}

func persistentKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
