package config

import "strings"

// Environment variables that override file values.
const (
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvClistUsername = "CLIST_USERNAME"
	EnvClistAPIKey   = "CLIST_API_KEY"
	EnvDatabaseURL   = "DATABASE_URL"
	EnvPort          = "PORT"
	EnvWebhookURL    = "WEBHOOK_URL"
	EnvWebhookSecret = "WEBHOOK_SECRET"
	EnvLogLevel      = "LOG_LEVEL"
)

// ApplyEnv overlays non-empty environment values onto cfg.
//
// DATABASE_URL switches storage to postgres. WEBHOOK_URL switches telegram to
// webhook mode. PORT replaces the http listen address with ":<PORT>".
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	get := func(k string) (string, bool) {
		v := strings.TrimSpace(getenv(k))
		return v, v != ""
	}

	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvClistUsername); ok {
		cfg.Contests.Username = v
	}
	if v, ok := get(EnvClistAPIKey); ok {
		cfg.Contests.APIKey = v
	}
	if v, ok := get(EnvDatabaseURL); ok {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
	if v, ok := get(EnvPort); ok {
		cfg.HTTP.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := get(EnvWebhookURL); ok {
		cfg.Telegram.Mode = "webhook"
		cfg.Telegram.WebhookURL = v
	}
	if v, ok := get(EnvWebhookSecret); ok {
		cfg.Telegram.WebhookSecret = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
}
