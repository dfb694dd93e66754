package transport

import (
	"math/rand"
	"time"
)

// backoffDelay computes the delay before reconnect attempt number attempt
// (1-based): min(base·2^(attempt-1), max), widened by ±(jitter × delay)
// with a uniform random multiplier, clamped to be non-negative.
func backoffDelay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	delay := cfg.ReconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxReconnectDelay {
			delay = cfg.MaxReconnectDelay
			break
		}
	}
	if delay > cfg.MaxReconnectDelay {
		delay = cfg.MaxReconnectDelay
	}

	if cfg.ReconnectJitter > 0 {
		// Uniform in [-1, 1].
		mult := rng.Float64()*2 - 1
		delay += time.Duration(float64(delay) * cfg.ReconnectJitter * mult)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
