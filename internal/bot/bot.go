// Package bot implements the chat command surface: subscription management,
// timezone preference and a listing of upcoming contests.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"contestbot/internal/contest"
	"contestbot/internal/reminder"
	"contestbot/internal/storage"
	"contestbot/internal/timezone"
	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
	"contestbot/pkg/tgui"
)

const (
	textWelcome = "👋 Welcome!\n" +
		"Use /subscribe to get contest reminders.\n" +
		"Use '/settimezone TZ_Identifier' to fix your timezone.\n" +
		"Use /unsubscribe to stop receiving contest reminders."
	textSubscribed   = "✅ Subscribed! You'll receive contest reminders."
	textUnsubscribed = "❌ Unsubscribed! You won't receive reminders."
	textFailure      = "⚠️ Something went wrong, please try again later."
	textNoContests   = "⚠️ Couldn't fetch contests right now, please try again later."
	textNotSubbed    = "ℹ️ You are not subscribed. Use /subscribe first."
)

// Store is the subscriber persistence the commands need.
type Store interface {
	GetSubscription(ctx context.Context, chatID int64) (storage.Subscription, bool, error)
	Subscribe(ctx context.Context, chatID int64, timezone string) (bool, error)
	SetTimezone(ctx context.Context, chatID int64, timezone string) error
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
}

// Contests lists upcoming contests (contest.Source in production).
type Contests interface {
	ListUpcoming(ctx context.Context) ([]contest.Contest, error)
}

// Registrar is the chat adapter surface used to install commands.
type Registrar interface {
	Handle(command string, fn transport.CommandFunc)
	SetCommands(cmds []transport.BotCommand) error
}

type Config struct {
	// DefaultTimezone is assigned on /subscribe.
	DefaultTimezone string
	// UpcomingLimit caps the /upcoming listing.
	UpcomingLimit int
}

// Command is one chat command.
type Command struct {
	Route       string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but left out of the menu.
	Hidden bool
	Handle transport.CommandFunc
}

type Bot struct {
	store    Store
	contests Contests
	log      logx.Logger

	mu  sync.RWMutex
	cfg Config
}

func New(store Store, contests Contests, cfg Config, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{store: store, contests: contests, log: log}
	b.Apply(cfg)
	return b
}

func (b *Bot) Apply(cfg Config) {
	if strings.TrimSpace(cfg.DefaultTimezone) == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if cfg.UpcomingLimit <= 0 {
		cfg.UpcomingLimit = 5
	}
	b.mu.Lock()
	b.cfg = cfg
	b.mu.Unlock()
}

func (b *Bot) config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *Bot) Commands() []Command {
	return []Command{
		{Route: "start", Description: "show welcome message", Usage: "/start", Hidden: true, Handle: b.Start},
		{Route: "help", Description: "how to use this bot", Usage: "/help", Handle: b.Start},
		{Route: "subscribe", Description: "get contest reminders", Usage: "/subscribe", Handle: b.Subscribe},
		{Route: "unsubscribe", Description: "stop contest reminders", Usage: "/unsubscribe", Handle: b.Unsubscribe},
		{
			Route:       "settimezone",
			Aliases:     []string{"tz"},
			Description: "set your timezone (IANA id)",
			Usage:       "/settimezone Asia/Kolkata",
			Handle:      b.SetTimezone,
		},
		{Route: "timezone", Description: "show your timezone", Usage: "/timezone", Handle: b.ShowTimezone},
		{Route: "upcoming", Description: "list upcoming contests", Usage: "/upcoming", Handle: b.Upcoming},
	}
}

// Register installs handlers and publishes the command menu.
func (b *Bot) Register(r Registrar) error {
	cmds := b.Commands()
	menu := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		h := b.logged(c.Route, c.Handle)
		r.Handle("/"+c.Route, h)
		for _, a := range c.Aliases {
			r.Handle("/"+a, h)
		}
		if !c.Hidden {
			menu = append(menu, transport.BotCommand{Command: c.Route, Description: c.Description})
		}
	}
	return r.SetCommands(menu)
}

func (b *Bot) logged(route string, fn transport.CommandFunc) transport.CommandFunc {
	return func(ctx context.Context, m transport.Message) string {
		start := time.Now()
		reply := fn(ctx, m)
		b.log.Debug("command handled",
			logx.String("cmd", route),
			logx.Int64("chat_id", m.ChatID),
			logx.Int64("from_id", m.FromID),
			logx.Duration("took", time.Since(start)),
		)
		return reply
	}
}

func (b *Bot) Start(ctx context.Context, m transport.Message) string {
	return tgui.Esc(textWelcome).String()
}

func (b *Bot) Subscribe(ctx context.Context, m transport.Message) string {
	created, err := b.store.Subscribe(ctx, m.ChatID, b.config().DefaultTimezone)
	if err != nil {
		b.log.Warn("subscribe failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return textFailure
	}
	if created {
		b.log.Info("chat subscribed", logx.Int64("chat_id", m.ChatID))
	}
	return tgui.Esc(textSubscribed).String()
}

func (b *Bot) Unsubscribe(ctx context.Context, m transport.Message) string {
	removed, err := b.store.Unsubscribe(ctx, m.ChatID)
	if err != nil {
		b.log.Warn("unsubscribe failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return textFailure
	}
	if removed {
		b.log.Info("chat unsubscribed", logx.Int64("chat_id", m.ChatID))
	}
	return tgui.Esc(textUnsubscribed).String()
}

func (b *Bot) SetTimezone(ctx context.Context, m transport.Message) string {
	id := strings.TrimSpace(m.Payload)
	if id == "" {
		return tgui.JoinH("\n",
			tgui.Esc("Usage: /settimezone TZ_Identifier"),
			tgui.Esc("Example: /settimezone Asia/Kolkata"),
			tgui.Link("List of timezones", timezone.Reference),
		).String()
	}
	if err := timezone.Validate(id); err != nil {
		return tgui.JoinH("\n",
			tgui.Esc("⚠️ Invalid timezone. Use a valid identifier."),
			tgui.Link("List of timezones", timezone.Reference),
		).String()
	}
	if err := b.store.SetTimezone(ctx, m.ChatID, id); err != nil {
		b.log.Warn("set timezone failed", logx.Int64("chat_id", m.ChatID), logx.String("timezone", id), logx.Err(err))
		return textFailure
	}
	return (tgui.Esc("🌍 Timezone set to ") + tgui.Code(id)).String()
}

func (b *Bot) ShowTimezone(ctx context.Context, m transport.Message) string {
	sub, ok, err := b.store.GetSubscription(ctx, m.ChatID)
	if err != nil {
		b.log.Warn("get subscription failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return textFailure
	}
	if !ok {
		return tgui.Esc(textNotSubbed).String()
	}
	local, err := timezone.Convert(time.Now(), sub.Timezone)
	if err != nil {
		return (tgui.Esc("🌍 Your timezone: ") + tgui.Code(sub.Timezone)).String()
	}
	return (tgui.Esc("🌍 Your timezone: ") + tgui.Code(sub.Timezone) +
		tgui.Esc(" ("+timezone.Offset(local)+")")).String()
}

func (b *Bot) Upcoming(ctx context.Context, m transport.Message) string {
	cfg := b.config()
	tz := cfg.DefaultTimezone
	sub, ok, err := b.store.GetSubscription(ctx, m.ChatID)
	if err != nil {
		b.log.Warn("get subscription failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	} else if ok {
		tz = sub.Timezone
	}
	loc, err := timezone.Load(tz)
	if err != nil {
		tz, loc = "UTC", time.UTC
	}

	contests, err := b.contests.ListUpcoming(ctx)
	if err != nil {
		b.log.Warn("list contests failed", logx.Err(err), logx.Int("stale", len(contests)))
		if len(contests) == 0 && errors.Is(err, contest.ErrSourceFetch) {
			return textNoContests
		}
		if len(contests) == 0 {
			return textFailure
		}
	}
	return reminder.FormatUpcoming(contests, tz, loc, cfg.UpcomingLimit)
}
