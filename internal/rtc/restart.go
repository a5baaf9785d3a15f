package rtc

import (
	"time"

	"github.com/enochaseks/sideeye/config"
)

// RestartPolicy bounds ICE restarts after a failed connection.
type RestartPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRestartPolicy allows five restarts, one second apart at first and
// doubling up to thirty seconds.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RestartPolicyFromConfig reads the policy from configuration, falling back
// to the defaults for unset values.
func RestartPolicyFromConfig(cfg config.ICEConfig) RestartPolicy {
	p := RestartPolicy{
		MaxAttempts: cfg.RestartMaxAttempts,
		BaseDelay:   cfg.RestartBaseDelay,
		MaxDelay:    cfg.RestartMaxDelay,
	}
	return p.withDefaults()
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	d := DefaultRestartPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Delay returns the wait before restart attempt n, counting from 1.
func (p RestartPolicy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
