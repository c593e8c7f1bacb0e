package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig controls how long a dropped backend connection is retried.
type ReconnectConfig struct {
	MaxAttempts int           // Dial attempts before giving up
	Backoff     time.Duration // Wait after the first failed attempt
	Multiplier  float64       // Backoff growth per attempt
	MaxBackoff  time.Duration // Backoff ceiling; zero means none

	// Logger receives one line per failed attempt. The zero value discards.
	Logger zerolog.Logger
}

func defaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Reconnect calls dial until it succeeds, the attempts run out or ctx is
// done. The error returned after the last attempt wraps that attempt's error.
func Reconnect(ctx context.Context, dial func() error, config *ReconnectConfig) error {
	if config == nil {
		config = defaultReconnectConfig()
	}
	attempts := max(config.MaxAttempts, 1)
	backoff := config.Backoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = dial(); err == nil {
			if attempt > 1 {
				config.Logger.Info().Int("attempts", attempt).Msg("Reconnected")
			}
			return nil
		}
		if attempt == attempts {
			break
		}

		config.Logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", backoff).
			Msg("Reconnect attempt failed")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}
	return fmt.Errorf("failed to reconnect after %d attempts: %w", attempts, err)
}
