package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contestbot/internal/bot"
	"contestbot/internal/config"
	"contestbot/internal/contest"
	"contestbot/internal/httpapi"
	"contestbot/internal/notifier"
	"contestbot/internal/reminder"
	"contestbot/internal/transport"
	telegram "contestbot/internal/transport/telegram/adapter"
	"contestbot/internal/transport/telegram/telegramtest"
	logx "contestbot/pkg/logx"
)

func baseConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Telegram.Token = "123:abc"
	cfg.Contests.Username = "u"
	cfg.Contests.APIKey = "k"
	return cfg
}

func TestValidateAcceptsDefaultsWithSecrets(t *testing.T) {
	t.Parallel()
	if err := validate(baseConfig()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Scheduler.Schedule = "every now and then"
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "scheduler.schedule") {
		t.Fatalf("validate = %v", err)
	}
}

func TestMapTelegramWebhookURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		url, want string
	}{
		{"https://bot.example.com", "https://bot.example.com/telegram/webhook"},
		{"https://bot.example.com/", "https://bot.example.com/telegram/webhook"},
		{"https://bot.example.com/telegram/webhook", "https://bot.example.com/telegram/webhook"},
	}
	for _, tc := range cases {
		cfg := baseConfig()
		cfg.Telegram.Mode = "webhook"
		cfg.Telegram.WebhookURL = tc.url
		tg, err := mapTelegramConfig(cfg)
		if err != nil {
			t.Fatalf("mapTelegramConfig: %v", err)
		}
		if tg.WebhookURL != tc.want || tg.Mode != "webhook" {
			t.Fatalf("url %q -> %q (%s), want %q", tc.url, tg.WebhookURL, tg.Mode, tc.want)
		}
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("sqlite = %+v, %v", sc, err)
	}
	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = "postgres://x"
	if sc, err = mapStorageConfig(cfg); err != nil || sc.Driver != "postgres" || sc.DSN != "postgres://x" {
		t.Fatalf("postgres = %+v, %v", sc, err)
	}
	cfg.Storage.Driver = "redis"
	if _, err = mapStorageConfig(cfg); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestMapSourceConfigDefaultsHosts(t *testing.T) {
	t.Parallel()
	sc, err := mapSourceConfig(baseConfig())
	if err != nil {
		t.Fatalf("mapSourceConfig: %v", err)
	}
	if len(sc.Hosts) != len(contest.DefaultHosts) || sc.MaxDuration != 6*time.Hour || sc.TTL != 12*time.Hour {
		t.Fatalf("source config = %+v", sc)
	}
}

type nopFetcher struct{}

func (nopFetcher) Upcoming(ctx context.Context, q contest.Query) ([]contest.Contest, error) {
	return nil, nil
}

type nopSender struct{}

func (nopSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func TestApplyReloadsRunnerSchedule(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	defer logs.Close()

	sc, _ := mapSourceConfig(cfg)
	src := contest.NewSource(nopFetcher{}, sc, log)
	ncfg, _ := mapNotifierConfig(cfg)
	notif := notifier.New(ncfg, nopSender{}, log)
	sched := reminder.New(nil, src, notif, mapReminderConfig(cfg), log)
	rc, _ := mapRunnerConfig(cfg)
	runner, err := reminder.NewRunner(sched, rc, log)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("runner start: %v", err)
	}
	defer runner.Stop(context.Background())

	a := &App{
		cfgm:   config.NewManager(""),
		log:    log,
		logs:   logs,
		source: src,
		notif:  notif,
		sched:  sched,
		runner: runner,
		bot:    bot.New(nil, src, mapBotConfig(cfg), log),
	}

	before := runner.Next()
	next := baseConfig()
	next.Scheduler.Schedule = "@every 90m"
	next.Contests.TTL = "1h"
	a.apply(cfg, next)

	after := runner.Next()
	if after.Equal(before) {
		t.Fatalf("schedule not applied: next %s", after)
	}
	if d := time.Until(after); d < 80*time.Minute || d > 91*time.Minute {
		t.Fatalf("next tick in %s, want ~90m", d)
	}

	bad := baseConfig()
	bad.Scheduler.Schedule = "nope"
	a.apply(next, bad)
	if !runner.Next().Equal(after) {
		t.Fatalf("bad schedule replaced the running one")
	}
}

func TestWebhookUpdateReachesCommand(t *testing.T) {
	t.Parallel()
	api := telegramtest.NewServer(t)
	cfg := baseConfig()
	cfg.Telegram.Mode = "webhook"
	cfg.Telegram.WebhookURL = "https://bot.example.com"
	cfg.Telegram.WebhookSecret = "s3cret"
	cfg.Telegram.APIURL = api.URL
	if err := validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}

	tg, err := mapTelegramConfig(cfg)
	if err != nil {
		t.Fatalf("mapTelegramConfig: %v", err)
	}
	ad, err := telegram.New(tg, logx.Nop())
	if err != nil {
		t.Fatalf("telegram.New: %v", err)
	}
	sc, _ := mapSourceConfig(cfg)
	b := bot.New(nil, contest.NewSource(nopFetcher{}, sc, logx.Nop()), mapBotConfig(cfg), logx.Nop())
	if err := b.Register(ad); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if api.Calls("setMyCommands") != 1 {
		t.Fatalf("setMyCommands calls = %d", api.Calls("setMyCommands"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ad.Start(ctx); err != nil {
		t.Fatalf("adapter Start: %v", err)
	}
	defer ad.Stop(context.Background())
	if url, secret := api.Webhook(); url != "https://bot.example.com/telegram/webhook" || secret != "s3cret" {
		t.Fatalf("registered webhook %q secret %q", url, secret)
	}

	hc, _, err := mapHTTPConfig(cfg)
	if err != nil {
		t.Fatalf("mapHTTPConfig: %v", err)
	}
	h := httpapi.New(hc, httpapi.Deps{Webhook: ad.WebhookHandler()}, logx.Nop()).Handler()

	req := httptest.NewRequest(http.MethodPost, cfg.Telegram.WebhookPath,
		strings.NewReader(telegramtest.CommandUpdate(1, 777, "/start")))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body.String())
	}

	sent := api.WaitSent(t, 5*time.Second)
	if sent.ChatID != 777 || !strings.Contains(sent.Text, "Welcome") {
		t.Fatalf("reply = %+v", sent)
	}
}
