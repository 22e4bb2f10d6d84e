// Package config resolves the single configuration value the process runs
// with. Layers, lowest first: defaults, YAML file, .env file, environment
// (AGENDABOT_ prefix, "." in keys becomes "_").
package config

import (
	"path/filepath"
	"time"

	"agendabot/internal/domain/reminder"
	"agendabot/internal/infra/store"
)

// Config is resolved once at startup and passed to every constructor.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Meeting   MeetingConfig   `mapstructure:"meeting"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Hub       HubConfig       `mapstructure:"hub"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	settings map[string]any
	source   string
}

type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type MeetingConfig struct {
	Weekday  string `mapstructure:"weekday"`
	Time     string `mapstructure:"time"`
	Timezone string `mapstructure:"timezone"`
}

type SchedulerConfig struct {
	Tick time.Duration `mapstructure:"tick"`
}

type HubConfig struct {
	InboxSize        int    `mapstructure:"inbox_size"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
	UnknownCommand   string `mapstructure:"unknown_command"`
}

type ChannelsConfig struct {
	FeedbackTimeout time.Duration `mapstructure:"feedback_timeout"`
	Console         ConsoleConfig `mapstructure:"console"`
	Lark            LarkConfig    `mapstructure:"lark"`
	Web             WebConfig     `mapstructure:"web"`
}

type ConsoleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sender  string `mapstructure:"sender"`
}

type LarkConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	AppID         string  `mapstructure:"app_id"`
	AppSecret     string  `mapstructure:"app_secret"`
	ChatID        string  `mapstructure:"chat_id"`
	BaseDomain    string  `mapstructure:"base_domain"`
	AckEmoji      string  `mapstructure:"ack_emoji"`
	SendRate      float64 `mapstructure:"send_rate"`
	SendBurst     int     `mapstructure:"send_burst"`
	NameCacheSize int     `mapstructure:"name_cache_size"`
}

type WebConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HTTPConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Source is the config file that was read, or "" when none was found.
func (c Config) Source() string {
	return c.source
}

// Anchor returns the weekly meeting slot.
func (c Config) Anchor() (reminder.Anchor, error) {
	return reminder.ParseAnchor(c.Meeting.Weekday, c.Meeting.Time, c.meetingZone())
}

func (c Config) meetingZone() string {
	if c.Meeting.Timezone == "Local" {
		return ""
	}
	return c.Meeting.Timezone
}

// StoreConfig maps the storage section onto the document store.
func (c Config) StoreConfig() store.Config {
	cfg := store.Config{Backend: store.Kind(c.Storage.Backend), Dir: c.DataDir, DSN: c.Storage.PostgresDSN}
	if cfg.Backend == store.KindPebble {
		cfg.Dir = filepath.Join(c.DataDir, "pebble")
	}
	return cfg
}
