package distribution

import (
	"fmt"
	"time"
)

// Config bounds how long a send may stall the communicator loop and when a peer is
// considered unreachable.
type Config struct {
	SendRetryInitial time.Duration `yaml:"send_retry_initial"`
	SendRetryMax     time.Duration `yaml:"send_retry_max"`
	// SendRetryBudget caps the total time spent retrying one envelope. Zero disables retries.
	SendRetryBudget time.Duration `yaml:"send_retry_budget"`
	// BreakerFailures consecutive failed sends open the peer's breaker. Zero never opens it.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// DefaultConfig returns the settings used when the broker config omits them
func DefaultConfig() Config {
	return Config{
		SendRetryInitial: 1 * time.Millisecond,
		SendRetryMax:     10 * time.Millisecond,
		SendRetryBudget:  50 * time.Millisecond,
		BreakerFailures:  5,
		BreakerTimeout:   30 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SendRetryBudget < 0 {
		return fmt.Errorf("send_retry_budget must not be negative")
	}
	if c.SendRetryBudget > 0 {
		if c.SendRetryInitial <= 0 {
			return fmt.Errorf("send_retry_initial must be positive when retries are enabled")
		}
		if c.SendRetryMax < c.SendRetryInitial {
			return fmt.Errorf("send_retry_max must be >= send_retry_initial")
		}
	}
	if c.BreakerFailures > 0 && c.BreakerTimeout <= 0 {
		return fmt.Errorf("breaker_timeout must be positive when the breaker is enabled")
	}
	return nil
}
