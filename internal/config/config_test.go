package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func validEnv() map[string]string {
	return map[string]string{
		EnvTelegramToken: "123:abc",
		EnvClistUsername: "user",
		EnvClistAPIKey:   "key",
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), WithEnv(envMap(validEnv())))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Schedule != "*/10 * * * *" || cfg.HTTP.Addr != ":3000" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("env token not applied")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseMissingRequiredFile(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), WithRequired(true), WithEnv(envMap(nil)))
	if _, err := m.Parse(); err == nil {
		t.Fatalf("Parse succeeded for missing required file")
	}
}

func TestParseYAMLOverlaysDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", `
contests:
  hosts: [codeforces.com, atcoder.jp]
  ttl: 1h
reminders:
  default_timezone: Asia/Kolkata
logging:
  console: false
`)
	cfg, err := NewManager(p, WithEnv(envMap(nil))).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Contests.Hosts) != 2 || cfg.Contests.TTL != "1h" {
		t.Fatalf("contests = %+v", cfg.Contests)
	}
	if cfg.Contests.MaxDuration != "6h" {
		t.Fatalf("untouched default lost: %q", cfg.Contests.MaxDuration)
	}
	if cfg.Reminders.DefaultTimezone != "Asia/Kolkata" || cfg.Logging.Console {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"a.yaml": "scheduler:\n  cadence: 5m\n",
		"b.json": `{"http": {"addr": ":1"}, "plugins": {}}`,
		"c.json": `{"http": {"addr": ":1"}} {"http": {}}`,
		"d.yaml": "http:\n  addr: \":1\"\n---\nhttp:\n  addr: \":2\"\n",
		"e.yaml": "- just\n- a list\n",
	} {
		p := writeFile(t, dir, name, body)
		if _, err := NewManager(p, WithEnv(envMap(nil))).Parse(); err == nil {
			t.Fatalf("%s: Parse succeeded", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	ApplyEnv(cfg, envMap(map[string]string{
		EnvDatabaseURL:   "postgres://u:p@db:5432/bot",
		EnvPort:          "8080",
		EnvWebhookURL:    "https://bot.example.com",
		EnvWebhookSecret: "s3cret",
		EnvLogLevel:      "debug",
		EnvClistAPIKey:   "  ",
	}))
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Telegram.Mode != "webhook" || cfg.Telegram.WebhookSecret != "s3cret" {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
	if cfg.Contests.APIKey != "" {
		t.Fatalf("blank env value applied")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad mode", func(c *Config) { c.Telegram.Mode = "push" }, "telegram.mode"},
		{"webhook without url", func(c *Config) { c.Telegram.Mode = "webhook" }, "telegram.webhook_url"},
		{"bad duration", func(c *Config) { c.Contests.TTL = "soon" }, "contests.ttl"},
		{"negative duration", func(c *Config) { c.Scheduler.TickTimeout = "-1s" }, "scheduler.tick_timeout"},
		{"bad timezone", func(c *Config) { c.Reminders.DefaultTimezone = "Mars/Base" }, "reminders.default_timezone"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"clist creds", func(c *Config) { c.Contests.APIKey = "" }, "contests: username and api_key"},
		{"telegram log without chat", func(c *Config) { c.Logging.Telegram.Enabled = true }, "logging.telegram.chat_id"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			ApplyEnv(cfg, envMap(validEnv()))
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidateStorageDriverAliases(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "sqlite", "sqlite3", "postgres", "postgresql", "pgx", "PostgreSQL"} {
		cfg := Defaults()
		ApplyEnv(cfg, envMap(validEnv()))
		cfg.Storage.Driver = driver
		cfg.Storage.DSN = "postgres://u:p@localhost:5432/contests"
		if err := Validate(cfg); err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a := Defaults()
	b := Defaults()
	if ch := Diff(a, b); !ch.Empty() {
		t.Fatalf("Diff of equal configs = %+v", ch)
	}
	b.Contests.TTL = "1h"
	b.HTTP.Addr = ":9"
	ch := Diff(a, b)
	if !ch.Has("contests") || !ch.Has("http") || ch.Has("logging") {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if len(ch.Restart) != 1 || ch.Restart[0] != "http" {
		t.Fatalf("restart = %v", ch.Restart)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("zero = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "90s", time.Minute); err != nil || d != 90*time.Second {
		t.Fatalf("90s = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "nope", time.Minute); err == nil {
		t.Fatalf("invalid accepted")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{" 90s ", 90 * time.Second},
		{"6h", 6 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1d12h", 36 * time.Hour},
		{"2d30m", 48*time.Hour + 30*time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("contests.ttl", tc.raw)
		if err != nil || got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}
	for _, raw := range []string{"soon", "1", "xd", "-1d", "-5m", "1d-"} {
		_, err := ParseDurationField("contests.ttl", raw)
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Path != "contests.ttl" || fe.Value != raw {
			t.Fatalf("ParseDurationField(%q) err = %v, want FieldError for contests.ttl", raw, err)
		}
	}
}

func TestParseEmptyYAMLKeepsDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", "# nothing here yet\n")
	m := NewManager(p, WithEnv(envMap(validEnv())))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Schedule != Defaults().Scheduler.Schedule {
		t.Fatalf("schedule = %q", cfg.Scheduler.Schedule)
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "contests:\n  ttl: 2h\n")
	m := NewManager(p, WithEnv(envMap(validEnv())))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "config.yaml", "contests:\n  ttl: bogus-but-string\nreminders:\n  default_timezone: Nowhere/Land\n")
	time.Sleep(600 * time.Millisecond)
	select {
	case got := <-ch:
		t.Fatalf("invalid config published: %+v", got.Reminders)
	default:
	}

	writeFile(t, dir, "config.yaml", "contests:\n  ttl: 3h\n")
	select {
	case got := <-ch:
		if got.Contests.TTL != "3h" {
			t.Fatalf("published ttl = %q", got.Contests.TTL)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Contests.TTL != "3h" {
		t.Fatalf("Get not updated")
	}
}
