// Package app wires the contest reminder services together and owns their
// lifecycle: startup, config hot reload, systemd notification and shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"contestbot/internal/bot"
	"contestbot/internal/config"
	"contestbot/internal/contest"
	"contestbot/internal/httpapi"
	"contestbot/internal/notifier"
	"contestbot/internal/reminder"
	"contestbot/internal/runtime/supervisor"
	"contestbot/internal/storage"
	telegram "contestbot/internal/transport/telegram/adapter"
	logx "contestbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   *storage.Store
	source  *contest.Source
	notif   *notifier.Service
	sched   *reminder.Scheduler
	runner  *reminder.Runner
	bot     *bot.Bot
	http    *httpapi.Server

	httpShutdown time.Duration
	startedAt    time.Time
}

// New builds every service from the manager's current config. Nothing runs
// until Start.
func New(ctx context.Context, cfgm *config.Manager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(tgCfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	source, err := buildSource(cfg, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")))

	sched := reminder.New(store, source, notif, mapReminderConfig(cfg), log.With(logx.String("comp", "reminder")))
	rcfg, err := mapRunnerConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	runner, err := reminder.NewRunner(sched, rcfg, log.With(logx.String("comp", "runner")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	b := bot.New(store, source, mapBotConfig(cfg), log.With(logx.String("comp", "bot")))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		adapter: ad,
		store:   store,
		source:  source,
		notif:   notif,
		sched:   sched,
		runner:  runner,
		bot:     b,
	}

	hcfg, shutdown, err := mapHTTPConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.httpShutdown = shutdown
	a.http = httpapi.New(hcfg, httpapi.Deps{
		Store:   store,
		Status:  a.status,
		Webhook: ad.WebhookHandler(),
	}, log.With(logx.String("comp", "http")))

	appLog.Info("app built", config.SafeFields(cfg)...)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, log logx.Logger) (*storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	return st, nil
}

func buildSource(cfg *config.Config, log logx.Logger) (*contest.Source, error) {
	cc, err := mapClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	return contest.NewSource(contest.NewClient(cc), sc, log.With(logx.String("comp", "contests"))), nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.bot.Register(a.adapter); err != nil {
		// Routing is installed even when the menu call fails.
		a.log.Warn("set bot commands failed", logx.Err(err))
	}
	if err := a.adapter.Start(run); err != nil {
		return err
	}
	if err := a.runner.Start(run); err != nil {
		return err
	}

	a.sup.Go("http", func(c context.Context) error {
		return a.http.Run(c, a.httpShutdown)
	})

	// A panic while applying a config restarts the loop instead of stopping the app.
	a.sup.GoRestart0("config.reload", func(c context.Context) {
		sub := a.cfgm.Subscribe(8)
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	if path := strings.TrimSpace(a.cfgm.Path()); path != "" {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log, a.store.Ping)
	})
	sdNotify(a.log, daemon.SdNotifyReady)

	a.log.Info("app started", logx.String("mode", a.mode()))
	return nil
}

func (a *App) mode() string {
	if cfg := a.cfgm.Get(); cfg != nil && cfg.Telegram.Mode != "" {
		return cfg.Telegram.Mode
	}
	return telegram.ModePolling
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

// apply pushes reloadable sections into the running services.
func (a *App) apply(oldCfg, newCfg *config.Config) {
	ch := config.Diff(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	if ch.Has("logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if ch.Has("contests") {
		if sc, err := mapSourceConfig(newCfg); err != nil {
			a.log.Warn("invalid contests config; keeping previous", logx.Err(err))
		} else {
			a.source.Apply(sc)
		}
		if oldCfg != nil && clientChanged(oldCfg.Contests, newCfg.Contests) {
			a.log.Warn("contest API client settings changed; restart required")
		}
	}
	if ch.Has("reminders") {
		if ncfg, err := mapNotifierConfig(newCfg); err != nil {
			a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
		a.sched.Apply(mapReminderConfig(newCfg))
		a.bot.Apply(mapBotConfig(newCfg))
	}
	if ch.Has("scheduler") {
		rc, err := mapRunnerConfig(newCfg)
		if err == nil {
			err = a.runner.Apply(rc)
		}
		if err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		}
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(ch.Sections, ",")))
}

func clientChanged(a, b config.ContestsConfig) bool {
	return a.BaseURL != b.BaseURL || a.Username != b.Username || a.APIKey != b.APIKey ||
		a.RequestTimeout != b.RequestTimeout || a.RequestsPerMinute != b.RequestsPerMinute
}

// Status is served at GET /status.
type Status struct {
	StartedAt   time.Time              `json:"started_at"`
	Uptime      string                 `json:"uptime"`
	Mode        string                 `json:"mode"`
	Subscribers int                    `json:"subscribers"`
	NextTick    time.Time              `json:"next_tick,omitempty"`
	LastTick    *reminder.Report       `json:"last_tick,omitempty"`
	Deliveries  []notifier.HistoryItem `json:"recent_deliveries,omitempty"`
	StoreError  string                 `json:"store_error,omitempty"`
}

const statusDeliveries = 10

func (a *App) status() any {
	st := Status{
		StartedAt: a.startedAt,
		Uptime:    time.Since(a.startedAt).Round(time.Second).String(),
		Mode:      a.mode(),
		NextTick:  a.runner.Next(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if n, err := a.store.CountSubscriptions(ctx); err != nil {
		st.StoreError = err.Error()
	} else {
		st.Subscribers = n
	}
	if r, ok := a.sched.LastReport(); ok {
		st.LastTick = &r
	}
	h := a.notif.History()
	if len(h) > statusDeliveries {
		h = h[len(h)-statusDeliveries:]
	}
	st.Deliveries = h
	return st
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "runner", 5*time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", a.httpShutdown+2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
