package inferrecovery

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level recovery configuration.
type Config struct {
	Policies  map[string]PolicyConfig `yaml:"policies"`
	RateLimit RateLimitConfig         `yaml:"rate_limit"`
	Store     StoreConfig             `yaml:"store"`
}

// PolicyConfig overrides the shipped policy of one error kind. Unset sections
// keep the shipped values.
type PolicyConfig struct {
	Retry    *RetryConfig    `yaml:"retry"`
	Fallback *FallbackConfig `yaml:"fallback"`
	Messages *MessagesConfig `yaml:"messages"`
}

// RetryConfig mirrors RetryStrategy.
type RetryConfig struct {
	MaxRetries     int         `yaml:"max_retries"`
	BaseDelayMs    int64       `yaml:"base_delay_ms"`
	MaxDelayMs     int64       `yaml:"max_delay_ms"`
	Backoff        BackoffKind `yaml:"backoff"`
	Jitter         bool        `yaml:"jitter"`
	RetryableKinds []string    `yaml:"retryable_kinds"`
}

// FallbackConfig mirrors FallbackStrategy.
type FallbackConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Message               string `yaml:"message"`
	PreserveCredits       *bool  `yaml:"preserve_credits"`
	NotifyUser            bool   `yaml:"notify_user"`
	EscalateAfterAttempts int    `yaml:"escalate_after_attempts"`
}

// MessagesConfig mirrors Messages. Empty fields keep the shipped text.
type MessagesConfig struct {
	Immediate  string `yaml:"immediate"`
	Retry      string `yaml:"retry"`
	Fallback   string `yaml:"fallback"`
	Escalation string `yaml:"escalation"`
}

// RateLimitConfig configures the RateLimiter.
type RateLimitConfig struct {
	Threshold int64         `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// StoreConfig configures store access.
type StoreConfig struct {
	Backend     string        `yaml:"backend"` // "memory" (default), "redis" or "postgres"
	RedisAddr   string        `yaml:"redis_addr"`
	DatabaseURL string        `yaml:"database_url"`
	KeyPrefix   string        `yaml:"key_prefix"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("inferrecovery: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("inferrecovery: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	for name, p := range c.Policies {
		if _, err := ParseErrorKind(name); err != nil {
			return fmt.Errorf("inferrecovery: config: policies: %w", err)
		}
		if r := p.Retry; r != nil {
			if r.MaxRetries < 0 {
				return fmt.Errorf("inferrecovery: config: policies[%s]: max_retries must be >= 0", name)
			}
			if r.BaseDelayMs < 0 || r.MaxDelayMs < 0 {
				return fmt.Errorf("inferrecovery: config: policies[%s]: delays must be >= 0", name)
			}
			if r.MaxDelayMs < r.BaseDelayMs {
				return fmt.Errorf("inferrecovery: config: policies[%s]: max_delay_ms (%d) < base_delay_ms (%d)",
					name, r.MaxDelayMs, r.BaseDelayMs)
			}
			switch r.Backoff {
			case "", BackoffExponential, BackoffLinear, BackoffFixed:
			default:
				return fmt.Errorf("inferrecovery: config: policies[%s]: invalid backoff %q", name, r.Backoff)
			}
			for _, k := range r.RetryableKinds {
				if _, err := ParseErrorKind(k); err != nil {
					return fmt.Errorf("inferrecovery: config: policies[%s]: retryable_kinds: %w", name, err)
				}
			}
		}
		if f := p.Fallback; f != nil && f.EscalateAfterAttempts < 1 {
			return fmt.Errorf("inferrecovery: config: policies[%s]: escalate_after_attempts must be >= 1", name)
		}
	}

	if c.RateLimit.Threshold < 0 {
		return fmt.Errorf("inferrecovery: config: rate_limit: threshold must be >= 0")
	}
	if c.RateLimit.Window < 0 {
		return fmt.Errorf("inferrecovery: config: rate_limit: window must be >= 0")
	}
	if c.Store.Timeout < 0 {
		return fmt.Errorf("inferrecovery: config: store: timeout must be >= 0")
	}
	switch c.Store.Backend {
	case "", "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("inferrecovery: config: store: redis_addr is required for the redis backend")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("inferrecovery: config: store: database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("inferrecovery: config: store: unknown backend %q", c.Store.Backend)
	}

	return nil
}

// PolicyTable builds the policy table: shipped policies with the configured
// overrides applied. It fails if the config is invalid.
func (c Config) PolicyTable() (PolicyTable, error) {
	if err := c.Validate(); err != nil {
		return PolicyTable{}, err
	}

	entries := DefaultPolicies()
	def := DefaultPolicy()

	for name, pc := range c.Policies {
		kind := ErrorKind(name)
		base, ok := entries[kind]
		if !ok {
			base = def
		}
		entries[kind] = pc.apply(base)
	}

	return NewPolicyTable(entries, def), nil
}

// RateLimiterOptions converts the rate limit section into limiter options.
func (c Config) RateLimiterOptions() []RateLimiterOption {
	var opts []RateLimiterOption
	if c.RateLimit.Threshold > 0 {
		opts = append(opts, WithThreshold(c.RateLimit.Threshold))
	}
	if c.RateLimit.Window > 0 {
		opts = append(opts, WithWindow(c.RateLimit.Window))
	}
	if c.Store.Timeout > 0 {
		opts = append(opts, WithLimiterTimeout(c.Store.Timeout))
	}
	return opts
}

func (pc PolicyConfig) apply(p RecoveryPolicy) RecoveryPolicy {
	if r := pc.Retry; r != nil {
		backoff := r.Backoff
		if backoff == "" {
			backoff = BackoffExponential
		}
		kinds := make([]ErrorKind, 0, len(r.RetryableKinds))
		for _, k := range r.RetryableKinds {
			kinds = append(kinds, ErrorKind(k))
		}
		p.Retry = RetryStrategy{
			MaxRetries:     r.MaxRetries,
			BaseDelayMs:    r.BaseDelayMs,
			MaxDelayMs:     r.MaxDelayMs,
			Backoff:        backoff,
			Jitter:         r.Jitter,
			RetryableKinds: kinds,
		}
	}
	if f := pc.Fallback; f != nil {
		preserve := true
		if f.PreserveCredits != nil {
			preserve = *f.PreserveCredits
		}
		p.Fallback = FallbackStrategy{
			Enabled:               f.Enabled,
			FallbackMessage:       f.Message,
			PreserveCredits:       preserve,
			NotifyUser:            f.NotifyUser,
			EscalateAfterAttempts: f.EscalateAfterAttempts,
		}
	}
	if m := pc.Messages; m != nil {
		if m.Immediate != "" {
			p.Messages.Immediate = m.Immediate
		}
		if m.Retry != "" {
			p.Messages.Retry = m.Retry
		}
		if m.Fallback != "" {
			p.Messages.Fallback = m.Fallback
		}
		if m.Escalation != "" {
			p.Messages.Escalation = m.Escalation
		}
	}
	return p
}
