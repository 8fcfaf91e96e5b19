package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// WaitConfig controls how readiness of the fleet is polled after a start or
// stop transition.
type WaitConfig struct {
	PollInterval    time.Duration // Initial delay between polls (default: 10ms)
	MaxPollInterval time.Duration // Delay cap after backoff (default: 250ms)
	Timeout         time.Duration // Give up after this long (default: 15s)
}

// DefaultWaitConfig returns the readiness polling defaults.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		PollInterval:    10 * time.Millisecond,
		MaxPollInterval: 250 * time.Millisecond,
		Timeout:         15 * time.Second,
	}
}

// withDefaults backfills zero fields so a partially filled WaitConfig is
// usable.
func (c WaitConfig) withDefaults() WaitConfig {
	def := DefaultWaitConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = def.MaxPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// awaitStreams blocks until ready returns true for every stream, polling
// with exponential backoff between attempts.
//
// Backoff schedule (defaults): 10ms, 20ms, 40ms, 80ms, 160ms, then 250ms
// flat until the timeout. The fleet transitions in about a second on healthy
// hardware, so early polls are tight and the cap keeps a stuck fleet cheap.
//
// Returns a *StreamFaultError naming every stream still failing ready when
// the timeout elapses, or the context error when ctx ends first.
func awaitStreams(
	ctx context.Context,
	streams []*CaptureStream,
	op string,
	ready func(*CaptureStream) bool,
	cfg WaitConfig,
) error {
	cfg = cfg.withDefaults()
	deadline := time.Now().Add(cfg.Timeout)

	for attempt := 1; ; attempt++ {
		var pending []string
		for _, s := range streams {
			if !ready(s) {
				pending = append(pending, s.Name())
			}
		}
		if len(pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return &StreamFaultError{Op: op, Streams: pending, Timeout: cfg.Timeout}
		}

		delay := pollBackoff(attempt, cfg)
		slog.Debug("recorder: waiting for streams",
			"op", op,
			"pending", pending,
			"attempt", attempt,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("recorder: %s wait cancelled: %w", op, ctx.Err())
		}
	}
}

// pollBackoff calculates the delay before the next readiness poll.
//
// Formula: delay = pollInterval * 2^(attempt-1)
// Cap: min(delay, maxPollInterval)
func pollBackoff(attempt int, cfg WaitConfig) time.Duration {
	// Shifting past 62 bits would overflow time.Duration; the cap applies
	// long before that
	if attempt > 32 {
		return cfg.MaxPollInterval
	}

	delay := cfg.PollInterval * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxPollInterval || delay <= 0 {
		delay = cfg.MaxPollInterval
	}
	return delay
}
