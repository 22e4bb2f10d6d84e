package config

import (
	"fmt"

	"agendabot/internal/infra/store"
	boterrors "agendabot/internal/shared/errors"
)

// Validate reports the first invalid setting as a ConfigError.
func (c Config) Validate() error {
	switch store.Kind(c.Storage.Backend) {
	case store.KindFile, store.KindPebble:
	case store.KindPostgres:
		if c.Storage.PostgresDSN == "" {
			return boterrors.NewConfigError("storage.postgres_dsn", "required for the postgres backend")
		}
	default:
		return boterrors.NewConfigError("storage.backend", "unknown backend %q", c.Storage.Backend)
	}

	if _, err := c.Anchor(); err != nil {
		return &boterrors.ConfigError{Key: "meeting", Err: err}
	}
	if c.Scheduler.Tick <= 0 {
		return boterrors.NewConfigError("scheduler.tick", "must be positive, got %s", c.Scheduler.Tick)
	}
	if c.Hub.InboxSize <= 0 {
		return boterrors.NewConfigError("hub.inbox_size", "must be positive, got %d", c.Hub.InboxSize)
	}
	if c.Hub.SubscriberBuffer <= 0 {
		return boterrors.NewConfigError("hub.subscriber_buffer", "must be positive, got %d", c.Hub.SubscriberBuffer)
	}
	switch c.Hub.UnknownCommand {
	case "silent", "reply":
	default:
		return boterrors.NewConfigError("hub.unknown_command", "want silent or reply, got %q", c.Hub.UnknownCommand)
	}
	if c.Channels.FeedbackTimeout <= 0 {
		return boterrors.NewConfigError("channels.feedback_timeout", "must be positive, got %s", c.Channels.FeedbackTimeout)
	}

	if lark := c.Channels.Lark; lark.Enabled {
		required := []struct{ key, val string }{
			{"channels.lark.app_id", lark.AppID},
			{"channels.lark.app_secret", lark.AppSecret},
			{"channels.lark.chat_id", lark.ChatID},
		}
		for _, r := range required {
			if r.val == "" {
				return boterrors.NewConfigError(r.key, "required when lark is enabled")
			}
		}
		if lark.SendRate <= 0 || lark.SendBurst <= 0 {
			return boterrors.NewConfigError("channels.lark.send_rate", "rate and burst must be positive")
		}
		if lark.NameCacheSize <= 0 {
			return boterrors.NewConfigError("channels.lark.name_cache_size", "must be positive, got %d", lark.NameCacheSize)
		}
	}
	if c.Channels.Web.Enabled && !c.HTTP.Enabled {
		return boterrors.NewConfigError("channels.web.enabled", "the web channel needs http.enabled")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return boterrors.NewConfigError("http.addr", "required when http is enabled")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("backend=%s data_dir=%s meeting=%s %s %s", c.Storage.Backend, c.DataDir, c.Meeting.Weekday, c.Meeting.Time, c.Meeting.Timezone)
}
