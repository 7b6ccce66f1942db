// Package config loads and validates the lntapd TOML configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration to support human readable strings in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses values like "2s" or "5m".
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the full daemon configuration. Immutable after startup.
type Config struct {
	// ListenAddress serves the ops endpoints (healthz, status, metrics).
	ListenAddress string   `toml:"listen"`
	Env           string   `toml:"env"`
	PollInterval  Duration `toml:"poll_interval"`
	// Lookback positions the initial scan watermark before boot.
	Lookback Duration  `toml:"lookback"`
	Channels []Channel `toml:"channel"`
}

// Channel pairs one LNbits wallet with one relay output.
type Channel struct {
	Name      string `toml:"name"`
	LNbitsURL string `toml:"lnbits_url"`
	WalletID  string `toml:"wallet_id"`
	APIKey    string `toml:"api_key"`
	// GPIOPin is the relay line in BCM numbering.
	GPIOPin int `toml:"gpio_pin"`
	// MinPaymentSats below which payments never trigger. Zero means any
	// amount triggers.
	MinPaymentSats int64 `toml:"min_payment_sats"`
	// SatsPerSecond is the pour rate; non-positive falls back to
	// DefaultPourSeconds for every pour.
	SatsPerSecond      float64 `toml:"sats_per_second"`
	MaxPourSeconds     float64 `toml:"max_pour_seconds"`
	DefaultPourSeconds float64 `toml:"default_pour_seconds"`
}

const (
	defaultListen       = ":9790"
	defaultPollInterval = 2 * time.Second
	defaultLookback     = 2 * time.Minute
	defaultMaxPour      = 10
	defaultDefaultPour  = 5
)

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListen
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = defaultPollInterval
	}
	if c.Lookback.Duration <= 0 {
		c.Lookback.Duration = defaultLookback
	}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if strings.TrimSpace(ch.Name) == "" {
			ch.Name = fmt.Sprintf("channel-%d", i+1)
		}
		if ch.MaxPourSeconds == 0 {
			ch.MaxPourSeconds = defaultMaxPour
		}
		if ch.DefaultPourSeconds == 0 {
			ch.DefaultPourSeconds = defaultDefaultPour
		}
	}
}

// Validate rejects configurations that must not reach the polling loop.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one [[channel]] is required")
	}
	names := make(map[string]struct{}, len(c.Channels))
	pins := make(map[int]string, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		if strings.TrimSpace(ch.LNbitsURL) == "" {
			return fmt.Errorf("channel %s: lnbits_url is required", ch.Name)
		}
		if strings.TrimSpace(ch.APIKey) == "" {
			return fmt.Errorf("channel %s: api_key is required", ch.Name)
		}
		if strings.TrimSpace(ch.WalletID) == "" {
			return fmt.Errorf("channel %s: wallet_id is required", ch.Name)
		}
		if ch.GPIOPin <= 0 {
			return fmt.Errorf("channel %s: gpio_pin is required", ch.Name)
		}
		if ch.MaxPourSeconds <= 0 {
			return fmt.Errorf("channel %s: max_pour_seconds must be positive", ch.Name)
		}
		if ch.DefaultPourSeconds <= 0 {
			return fmt.Errorf("channel %s: default_pour_seconds must be positive", ch.Name)
		}
		if ch.MinPaymentSats < 0 {
			return fmt.Errorf("channel %s: min_payment_sats must not be negative", ch.Name)
		}
		if _, dup := names[ch.Name]; dup {
			return fmt.Errorf("duplicate channel name %s", ch.Name)
		}
		names[ch.Name] = struct{}{}
		// Channels must drive physically distinct valves; a shared pin would
		// interleave two channels' pours on one output.
		if other, dup := pins[ch.GPIOPin]; dup {
			return fmt.Errorf("channels %s and %s share gpio_pin %d", other, ch.Name, ch.GPIOPin)
		}
		pins[ch.GPIOPin] = ch.Name
	}
	return nil
}
