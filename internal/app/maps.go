package app

import (
	"fmt"
	"strings"
	"time"

	"contestbot/internal/bot"
	"contestbot/internal/config"
	"contestbot/internal/contest"
	"contestbot/internal/httpapi"
	"contestbot/internal/notifier"
	"contestbot/internal/reminder"
	"contestbot/internal/storage"
	telegram "contestbot/internal/transport/telegram/adapter"
	logx "contestbot/pkg/logx"
)

var (
	parseDurationField     = config.ParseDurationField
	parseDurationOrDefault = config.ParseDurationOrDefault
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	t := cfg.Telegram
	poll, err := parseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	cmdTimeout, err := parseDurationOrDefault("telegram.command_timeout", t.CommandTimeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	mode := strings.ToLower(strings.TrimSpace(t.Mode))
	if mode == "" {
		mode = telegram.ModePolling
	}
	return telegram.Config{
		Token:          t.Token,
		Mode:           mode,
		PollTimeout:    poll,
		APIURL:         t.APIURL,
		WebhookURL:     strings.TrimRight(strings.TrimSpace(t.WebhookURL), "/") + webhookSuffix(t),
		WebhookSecret:  t.WebhookSecret,
		CommandTimeout: cmdTimeout,
	}, nil
}

// webhookSuffix appends the webhook path when webhook_url is only a base URL.
func webhookSuffix(t config.TelegramConfig) string {
	u := strings.TrimSpace(t.WebhookURL)
	if u == "" || strings.HasSuffix(strings.TrimRight(u, "/"), t.WebhookPath) {
		return ""
	}
	return t.WebhookPath
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	s := cfg.Storage
	busy, err := parseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		return storage.Config{Driver: "sqlite", Path: s.Path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(s.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: s.DSN, MaxOpenConns: s.MaxOpenConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
}

func mapClientConfig(cfg *config.Config) (contest.ClientConfig, error) {
	c := cfg.Contests
	timeout, err := parseDurationOrDefault("contests.request_timeout", c.RequestTimeout, 20*time.Second)
	if err != nil {
		return contest.ClientConfig{}, err
	}
	return contest.ClientConfig{
		BaseURL:           c.BaseURL,
		Username:          c.Username,
		APIKey:            c.APIKey,
		Timeout:           timeout,
		RequestsPerMinute: c.RequestsPerMinute,
	}, nil
}

func mapSourceConfig(cfg *config.Config) (contest.SourceConfig, error) {
	c := cfg.Contests
	maxDur, err := parseDurationOrDefault("contests.max_duration", c.MaxDuration, 6*time.Hour)
	if err != nil {
		return contest.SourceConfig{}, err
	}
	ttl, err := parseDurationOrDefault("contests.ttl", c.TTL, 12*time.Hour)
	if err != nil {
		return contest.SourceConfig{}, err
	}
	hosts := c.Hosts
	if len(hosts) == 0 {
		hosts = contest.DefaultHosts
	}
	return contest.SourceConfig{Hosts: hosts, MaxDuration: maxDur, TTL: ttl, Limit: c.Limit}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	r := cfg.Reminders
	maxDelay, err := parseDurationOrDefault("reminders.retry_max_delay", r.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:    r.RatePerSec,
		RetryMax:      r.RetryMax,
		RetryMaxDelay: maxDelay,
		HistorySize:   r.HistorySize,
	}, nil
}

func mapReminderConfig(cfg *config.Config) reminder.Config {
	return reminder.Config{DefaultTimezone: cfg.Reminders.DefaultTimezone, Workers: cfg.Reminders.Workers}
}

func mapRunnerConfig(cfg *config.Config) (reminder.RunnerConfig, error) {
	s := cfg.Scheduler
	timeout, err := parseDurationOrDefault("scheduler.tick_timeout", s.TickTimeout, 5*time.Minute)
	if err != nil {
		return reminder.RunnerConfig{}, err
	}
	rc := reminder.RunnerConfig{Schedule: s.Schedule, Timezone: s.Timezone, Timeout: timeout, RunOnStart: s.RunOnStart}
	if _, err := reminder.ParseSchedule(s.Schedule); err != nil {
		return reminder.RunnerConfig{}, fmt.Errorf("scheduler.schedule: %w", err)
	}
	return rc, nil
}

func mapBotConfig(cfg *config.Config) bot.Config {
	return bot.Config{DefaultTimezone: cfg.Reminders.DefaultTimezone, UpcomingLimit: cfg.Reminders.UpcomingLimit}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, time.Duration, error) {
	h := cfg.HTTP
	read, err := parseDurationField("http.read_timeout", h.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, 0, err
	}
	write, err := parseDurationField("http.write_timeout", h.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, 0, err
	}
	shutdown, err := parseDurationOrDefault("http.shutdown_timeout", h.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, 0, err
	}
	return httpapi.Config{
		Addr:         h.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		WebhookPath:  cfg.Telegram.WebhookPath,
	}, shutdown, nil
}

// validate runs config.Validate plus the checks only the services can do.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapRunnerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
