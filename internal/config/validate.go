package config

import (
	"errors"
	"fmt"
	"strings"

	"contestbot/internal/timezone"
)

// Validate checks cfg for values the services would reject at startup.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	positive := func(path string, v int) {
		if v < 0 {
			add(fmt.Errorf("%s: must be >= 0", path))
		}
	}

	t := cfg.Telegram
	if strings.TrimSpace(t.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	switch strings.ToLower(strings.TrimSpace(t.Mode)) {
	case "", "polling":
	case "webhook":
		if strings.TrimSpace(t.WebhookURL) == "" {
			add(fmt.Errorf("telegram.webhook_url: required in webhook mode (or set %s)", EnvWebhookURL))
		}
		if !strings.HasPrefix(strings.TrimSpace(t.WebhookPath), "/") {
			add(errors.New("telegram.webhook_path: must start with /"))
		}
	default:
		add(fmt.Errorf("telegram.mode: unknown mode %q (polling|webhook)", t.Mode))
	}
	dur("telegram.poll_timeout", t.PollTimeout)
	dur("telegram.command_timeout", t.CommandTimeout)

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)

	s := cfg.Storage
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			add(errors.New("storage.path: required when storage.driver=sqlite"))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(s.DSN) == "" {
			add(fmt.Errorf("storage.dsn: required when storage.driver=postgres (or set %s)", EnvDatabaseURL))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q (sqlite|postgres)", s.Driver))
	}
	dur("storage.busy_timeout", s.BusyTimeout)
	positive("storage.max_open_conns", s.MaxOpenConns)

	c := cfg.Contests
	if strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.APIKey) == "" {
		add(fmt.Errorf("contests: username and api_key required (or set %s and %s)", EnvClistUsername, EnvClistAPIKey))
	}
	dur("contests.max_duration", c.MaxDuration)
	dur("contests.ttl", c.TTL)
	dur("contests.request_timeout", c.RequestTimeout)
	positive("contests.limit", c.Limit)
	positive("contests.requests_per_minute", c.RequestsPerMinute)

	r := cfg.Reminders
	if err := timezone.Validate(r.DefaultTimezone); err != nil {
		add(fmt.Errorf("reminders.default_timezone: %w", err))
	}
	positive("reminders.workers", r.Workers)
	positive("reminders.rate_per_sec", r.RatePerSec)
	positive("reminders.retry_max", r.RetryMax)
	positive("reminders.history_size", r.HistorySize)
	positive("reminders.upcoming_limit", r.UpcomingLimit)
	dur("reminders.retry_max_delay", r.RetryMaxDelay)

	if strings.TrimSpace(cfg.Scheduler.Schedule) == "" {
		add(errors.New("scheduler.schedule: required"))
	}
	if err := timezone.Validate(cfg.Scheduler.Timezone); err != nil {
		add(fmt.Errorf("scheduler.timezone: %w", err))
	}
	dur("scheduler.tick_timeout", cfg.Scheduler.TickTimeout)

	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		add(errors.New("logging.telegram.chat_id: required when logging.telegram.enabled"))
	}

	return errors.Join(errs...)
}
