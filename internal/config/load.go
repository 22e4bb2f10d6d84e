package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"agendabot/internal/infra/filestore"
	boterrors "agendabot/internal/shared/errors"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix      = "AGENDABOT"
	configName     = "agendabot"
	defaultDataDir = "~/.agendabot"
)

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	configFile string
	envFiles   []string
	overrides  map[string]any
}

// WithConfigFile reads path instead of searching the default locations.
// A missing explicit file is an error.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configFile = path
	}
}

// WithEnvFiles loads dotenv files before reading the environment. Missing
// files are skipped. Variables already set in the environment win.
func WithEnvFiles(paths ...string) Option {
	return func(o *loadOptions) {
		o.envFiles = paths
	}
}

// WithOverride sets key above every other layer. Used for command flags.
func WithOverride(key string, value any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		o.overrides[key] = value
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("meeting.weekday", "thursday")
	v.SetDefault("meeting.time", "12:15")
	v.SetDefault("meeting.timezone", "Local")
	v.SetDefault("scheduler.tick", "1s")
	v.SetDefault("hub.inbox_size", 64)
	v.SetDefault("hub.subscriber_buffer", 256)
	v.SetDefault("hub.unknown_command", "silent")
	v.SetDefault("channels.feedback_timeout", "30s")
	v.SetDefault("channels.console.enabled", false)
	v.SetDefault("channels.console.sender", os.Getenv("USER"))
	v.SetDefault("channels.lark.enabled", false)
	v.SetDefault("channels.lark.app_id", "")
	v.SetDefault("channels.lark.app_secret", "")
	v.SetDefault("channels.lark.chat_id", "")
	v.SetDefault("channels.lark.base_domain", "")
	v.SetDefault("channels.lark.ack_emoji", "DONE")
	v.SetDefault("channels.lark.send_rate", 5.0)
	v.SetDefault("channels.lark.send_burst", 5)
	v.SetDefault("channels.lark.name_cache_size", 512)
	v.SetDefault("channels.web.enabled", false)
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load resolves and validates the configuration.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{envFiles: []string{".env"}}
	for _, opt := range opts {
		opt(&options)
	}

	for _, path := range options.envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return Config{}, &boterrors.ConfigError{Key: path, Err: err}
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if options.configFile != "" {
		v.SetConfigFile(options.configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, &boterrors.ConfigError{Key: "config", Err: err}
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.agendabot")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, &boterrors.ConfigError{Key: "config", Err: err}
			}
		}
	}
	for key, value := range options.overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, &boterrors.ConfigError{Key: "config", Err: fmt.Errorf("decode: %w", err)}
	}
	cfg.source = v.ConfigFileUsed()
	cfg.settings = redact(v.AllSettings())
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.DataDir = filestore.ResolvePath(cfg.DataDir, defaultDataDir)
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.Hub.UnknownCommand = strings.ToLower(strings.TrimSpace(cfg.Hub.UnknownCommand))
	if cfg.Channels.Console.Sender == "" {
		cfg.Channels.Console.Sender = "console"
	}
}

var secretKeys = map[string]bool{
	"app_secret":   true,
	"postgres_dsn": true,
}

func redact(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, val := range settings {
		switch typed := val.(type) {
		case map[string]any:
			out[k] = redact(typed)
		default:
			if secretKeys[k] && fmt.Sprint(val) != "" {
				out[k] = "********"
				continue
			}
			out[k] = val
		}
	}
	return out
}

// Dump renders the effective settings as YAML with secrets masked.
func (c Config) Dump() ([]byte, error) {
	return yaml.Marshal(c.settings)
}
