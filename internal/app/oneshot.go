package app

import (
	"context"
	"fmt"

	"contestbot/internal/config"
	"contestbot/internal/contest"
	"contestbot/internal/notifier"
	"contestbot/internal/reminder"
	telegram "contestbot/internal/transport/telegram/adapter"
	logx "contestbot/pkg/logx"
)

// Upcoming fetches the current contest list once. No store or chat
// connection is needed.
func Upcoming(ctx context.Context, cfg *config.Config, log logx.Logger) ([]contest.Contest, error) {
	src, err := buildSource(cfg, log)
	if err != nil {
		return nil, err
	}
	return src.ListUpcoming(ctx)
}

// TickOnce runs a single reconciliation tick against the configured store and
// chat platform, then releases them.
func TickOnce(ctx context.Context, cfg *config.Config, log logx.Logger) (reminder.Report, error) {
	if err := validate(cfg); err != nil {
		return reminder.Report{}, fmt.Errorf("invalid config: %w", err)
	}
	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return reminder.Report{}, err
	}
	// Sending only; no updates are consumed so webhook registration is skipped.
	tgCfg.Mode = telegram.ModePolling
	ad, err := telegram.New(tgCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return reminder.Report{}, err
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return reminder.Report{}, err
	}
	defer store.Close()

	src, err := buildSource(cfg, log)
	if err != nil {
		return reminder.Report{}, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return reminder.Report{}, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")))
	sched := reminder.New(store, src, notif, mapReminderConfig(cfg), log.With(logx.String("comp", "reminder")))
	return sched.Tick(ctx)
}
