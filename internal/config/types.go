package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/quoteindex"
	"relaybot/internal/relay"
	"relaybot/internal/retention"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// Config is the on-disk shape. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m"); Materialize() converts and validates.
type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Logging   LoggingConfig    `json:"logging"`
	Storage   StorageConfig    `json:"storage"`
	Quote     QuoteIndexConfig `json:"quoteindex"`
	Relay     RelayConfig      `json:"relay"`
	Livefeed  LivefeedConfig   `json:"livefeed,omitempty"`
	Retention RetentionConfig  `json:"retention,omitempty"`
	Lobby     LobbyConfig      `json:"lobby,omitempty"`
}

// LobbyConfig feeds the built-in static directory. Unused when a real user
// service is wired in its place.
type LobbyConfig struct {
	Members []int64 `json:"members,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// QuoteIndexConfig selects the ephemeral quote-link tier. An empty
// redis_url means the in-process TTL map.
type QuoteIndexConfig struct {
	RedisURL string `json:"redis_url,omitempty"`
	TTL      string `json:"ttl,omitempty"`
}

// RelayConfig tunes the fan-out. Defaults (when fields are omitted/zero):
//   - album_flush_delay: "3s"
//   - album_safety_window: "1m"
//   - per_send_rate: 20
//   - retry_max: 3
//   - rate_limit_jitter: "500ms"
type RelayConfig struct {
	AlbumFlushDelay   string `json:"album_flush_delay,omitempty"`
	AlbumSafetyWindow string `json:"album_safety_window,omitempty"`
	PerSendRate       int    `json:"per_send_rate,omitempty"`
	RetryMax          int    `json:"retry_max,omitempty"`
	RateLimitJitter   string `json:"rate_limit_jitter,omitempty"`
}

type LivefeedConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type RetentionConfig struct {
	SweepSchedule string `json:"sweep_schedule,omitempty"`
	DefaultTTL    string `json:"default_ttl,omitempty"`
	FlaggedTTL    string `json:"flagged_ttl,omitempty"`
}

// Settings is Config after duration parsing, ready to hand to services.
type Settings struct {
	TelegramToken       string
	TelegramPollTimeout time.Duration

	Logging logx.Config
	Storage storage.Config
	Quote   quoteindex.Config
	Relay   relay.Config
	Ret     relay.Retention
	Sweep   retention.Config

	LivefeedEnabled bool
	LivefeedURL     string
	LivefeedTimeout time.Duration

	LobbyMembers []int64
}

// Materialize validates the raw config and converts duration strings.
func (c *Config) Materialize() (Settings, error) {
	var s Settings

	if strings.TrimSpace(c.Telegram.Token) == "" {
		return s, errors.New("telegram.token is required")
	}
	s.TelegramToken = strings.TrimSpace(c.Telegram.Token)

	var err error
	if s.TelegramPollTimeout, err = ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second); err != nil {
		return s, err
	}

	s.Logging = logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		return s, errors.New("storage.path is required")
	}
	s.Storage.Path = c.Storage.Path
	if s.Storage.BusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return s, err
	}

	s.Quote.RedisURL = strings.TrimSpace(c.Quote.RedisURL)
	if s.Quote.TTL, err = ParseDurationOrDefault("quoteindex.ttl", c.Quote.TTL, 10*time.Minute); err != nil {
		return s, err
	}

	if s.Relay.AlbumFlushDelay, err = ParseDurationOrDefault("relay.album_flush_delay", c.Relay.AlbumFlushDelay, 3*time.Second); err != nil {
		return s, err
	}
	if s.Relay.AlbumSafetyWindow, err = ParseDurationOrDefault("relay.album_safety_window", c.Relay.AlbumSafetyWindow, time.Minute); err != nil {
		return s, err
	}
	if s.Relay.AlbumSafetyWindow < s.Relay.AlbumFlushDelay {
		return s, fmt.Errorf("relay.album_safety_window (%s) must not undercut relay.album_flush_delay (%s)",
			s.Relay.AlbumSafetyWindow, s.Relay.AlbumFlushDelay)
	}
	s.Relay.PerSendRate = c.Relay.PerSendRate
	s.Relay.RetryMax = c.Relay.RetryMax
	if s.Relay.RetryMax == 0 {
		s.Relay.RetryMax = 3
	}
	if s.Relay.RateLimitJitter, err = ParseDurationOrDefault("relay.rate_limit_jitter", c.Relay.RateLimitJitter, 500*time.Millisecond); err != nil {
		return s, err
	}

	s.Ret = relay.DefaultRetention()
	if c.Retention.DefaultTTL != "" {
		if s.Ret.Default, err = ParseDurationField("retention.default_ttl", c.Retention.DefaultTTL); err != nil {
			return s, err
		}
	}
	if c.Retention.FlaggedTTL != "" {
		if s.Ret.Flagged, err = ParseDurationField("retention.flagged_ttl", c.Retention.FlaggedTTL); err != nil {
			return s, err
		}
	}
	if c.Retention.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Retention.SweepSchedule); err != nil {
			return s, fmt.Errorf("retention.sweep_schedule: %w", err)
		}
	}
	s.Sweep.Schedule = c.Retention.SweepSchedule

	s.LivefeedEnabled = c.Livefeed.Enabled
	s.LivefeedURL = strings.TrimSpace(c.Livefeed.URL)
	if s.LivefeedTimeout, err = ParseDurationOrDefault("livefeed.timeout", c.Livefeed.Timeout, 3*time.Second); err != nil {
		return s, err
	}
	if s.LivefeedEnabled && s.LivefeedURL == "" {
		return s, errors.New("livefeed.enabled requires livefeed.url")
	}

	s.LobbyMembers = append([]int64(nil), c.Lobby.Members...)

	return s, nil
}
