package store

import (
	"errors"
	"time"
)

const audioPrefix = "tts:"

type audioRecord struct {
	Audio     []byte    `msgpack:"audio"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// AudioCache persists synthesized telephony audio by cache key.
type AudioCache struct {
	store *Store
	ttl   time.Duration
}

// NewAudioCache creates an audio cache over s. A zero ttl keeps entries forever.
func NewAudioCache(s *Store, ttl time.Duration) *AudioCache {
	return &AudioCache{store: s, ttl: ttl}
}

// Load returns the cached audio for key, or ok=false on a miss.
func (c *AudioCache) Load(key string) (audio []byte, ok bool, err error) {
	var rec audioRecord
	err = c.store.GetRecord(audioPrefix+key, &rec)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Audio, true, nil
}

// Save stores audio under key.
func (c *AudioCache) Save(key string, audio []byte) error {
	return c.store.SetRecord(audioPrefix+key, audioRecord{Audio: audio, CreatedAt: time.Now().UTC()}, c.ttl)
}
