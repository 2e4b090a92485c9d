package resilience

import "time"

// Config controls retries and the circuit breaker.
type Config struct {
	RetryMaxAttempts    int           `yaml:"max_attempts,omitempty"`
	RetryInitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	RetryMaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	RetryMultiplier     float64       `yaml:"multiplier,omitempty"`

	BreakerEnabled          bool          `yaml:"breaker,omitempty"`
	BreakerMinRequests      uint32        `yaml:"breaker_min_requests,omitempty"`
	BreakerFailureRatio     float64       `yaml:"breaker_failure_ratio,omitempty"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout,omitempty"`
	BreakerHalfOpenMaxCalls uint32        `yaml:"breaker_half_open_calls,omitempty"`
}

// DefaultConfig returns settings tuned for slow text-generation endpoints.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    4,
		RetryInitialBackoff: 2 * time.Second,
		RetryMaxBackoff:     60 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      60 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}
