package config

import (
	"errors"
	"time"
)

// ResilienceConfig tunes retries, reconnection and the circuit breaker.
type ResilienceConfig struct {
	// Per-attempt timeout for a store operation.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	BackoffBase      time.Duration `yaml:"backoff_base"`

	ReconnectAttempts  int           `yaml:"reconnect_attempts"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`

	// Consecutive failures before the circuit opens. Zero means MaxRetries.
	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitCooldown  time.Duration `yaml:"circuit_cooldown"`

	ProbeInterval time.Duration `yaml:"probe_interval"`
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		OperationTimeout:   20 * time.Second,
		MaxRetries:         3,
		BackoffBase:        time.Second,
		ReconnectAttempts:  3,
		ReconnectBaseDelay: time.Second,
		CircuitThreshold:   3,
		CircuitCooldown:    30 * time.Second,
		ProbeInterval:      15 * time.Second,
	}
}

func (c *ResilienceConfig) ApplyDefaults() {
	d := DefaultResilienceConfig()
	if c.OperationTimeout == 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = d.ReconnectAttempts
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.CircuitThreshold == 0 {
		c.CircuitThreshold = c.MaxRetries
	}
	if c.CircuitCooldown == 0 {
		c.CircuitCooldown = d.CircuitCooldown
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = d.ProbeInterval
	}
}

func (c *ResilienceConfig) ApplyEnvOverrides() {}

func (c *ResilienceConfig) ResolvePaths(_ string) {}

func (c *ResilienceConfig) Validate() error {
	if c.OperationTimeout < 0 || c.BackoffBase < 0 || c.ReconnectBaseDelay < 0 ||
		c.CircuitCooldown < 0 || c.ProbeInterval < 0 {
		return errors.New("resilience durations must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("resilience.max_retries must not be negative")
	}
	if c.ReconnectAttempts < 1 {
		return errors.New("resilience.reconnect_attempts must be at least 1")
	}
	if c.CircuitThreshold < 1 {
		return errors.New("resilience.circuit_threshold must be at least 1")
	}
	return nil
}
