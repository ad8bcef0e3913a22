// Copyright 2024-2026 Aiku AI

package bridge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aiku/slackflow/pkg/rtm"
)

// Default intervals applied by PostProcess when a field is left zero.
const (
	defaultRefreshInterval  = 10 * time.Minute
	defaultWatchdogInterval = 15 * time.Second
	defaultStuckThreshold   = 30 * time.Second
)

// ErrTokenRequired is returned by PostProcess for a config without a token.
var ErrTokenRequired = errors.New("bridge: token is required")

// Config carries everything a session needs. A zero Config plus a token is
// valid; PostProcess fills the rest.
type Config struct {
	// Token is the backend credential and the session's registry key.
	Token string `yaml:"token"`
	// APIURL overrides the Web API base URL. Used by tests and proxies.
	APIURL string `yaml:"api_url"`
	// EventFilter is a comma-separated allow-list of event types, each
	// either bare ("message") or with a subtype ("message::bot_message").
	// Empty means deliver everything.
	EventFilter string `yaml:"event_filter"`

	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	ReplyTimeout     time.Duration `yaml:"reply_timeout"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	StuckThreshold   time.Duration `yaml:"stuck_threshold"`

	filter *eventFilter `yaml:"-"`
}

// rawConfig shadows Config for YAML decoding. Durations arrive as strings
// ("5m", "30s") and are parsed explicitly; yaml.v3 has no native
// time.Duration support.
type rawConfig struct {
	Token            string `yaml:"token"`
	APIURL           string `yaml:"api_url"`
	EventFilter      string `yaml:"event_filter"`
	RefreshInterval  string `yaml:"refresh_interval"`
	PingInterval     string `yaml:"ping_interval"`
	ReplyTimeout     string `yaml:"reply_timeout"`
	WatchdogInterval string `yaml:"watchdog_interval"`
	StuckThreshold   string `yaml:"stuck_threshold"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw rawConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Token = raw.Token
	c.APIURL = raw.APIURL
	c.EventFilter = raw.EventFilter
	for _, d := range []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"refresh_interval", raw.RefreshInterval, &c.RefreshInterval},
		{"ping_interval", raw.PingInterval, &c.PingInterval},
		{"reply_timeout", raw.ReplyTimeout, &c.ReplyTimeout},
		{"watchdog_interval", raw.WatchdogInterval, &c.WatchdogInterval},
		{"stuck_threshold", raw.StuckThreshold, &c.StuckThreshold},
	} {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

// PostProcess validates the config and fills defaults. It must be called
// before the config is handed to a registry; Registry.Session does it
// automatically.
func (c *Config) PostProcess() error {
	if c.Token == "" {
		return ErrTokenRequired
	}
	if c.APIURL == "" {
		c.APIURL = rtm.DefaultAPIURL
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = defaultWatchdogInterval
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = defaultStuckThreshold
	}
	c.filter = parseEventFilter(c.EventFilter)
	return nil
}

// LoadConfig reads a YAML config file and applies environment overrides:
// SLACK_TOKEN and SLACK_EVENT_FILTER win over the file when set. A missing
// file is fine as long as the environment provides a token.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if token := os.Getenv("SLACK_TOKEN"); token != "" {
		cfg.Token = token
	}
	if filter := os.Getenv("SLACK_EVENT_FILTER"); filter != "" {
		cfg.EventFilter = filter
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
