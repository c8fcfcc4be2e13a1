package adapter

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "contestbot/internal/runtime/supervisor"
	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

type Config struct {
	Token       string
	Mode        string
	PollTimeout time.Duration

	// APIURL points at a Bot API server. Empty means api.telegram.org.
	APIURL string

	// Webhook mode only. The update endpoint itself is served by the app's
	// HTTP router via WebhookHandler().
	WebhookURL    string
	WebhookSecret string

	// CommandTimeout bounds a single command handler.
	CommandTimeout time.Duration
}

const (
	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateLen = 1 << 20
)

// Adapter is the Telegram implementation of transport.Sender plus command routing.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	webhook *tele.Webhook

	// ready is set while updates are accepted.
	ready atomic.Bool

	runMu   sync.Mutex
	runCtx  context.Context
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 15 * time.Second
	}

	a := &Adapter{cfg: cfg, log: log, runCtx: context.Background()}

	settings := tele.Settings{
		Token: cfg.Token,
		URL:   strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		OnError: func(err error, c tele.Context) {
			fields := []logx.Field{logx.Err(err)}
			if c != nil && c.Chat() != nil {
				fields = append(fields, logx.Int64("chat_id", c.Chat().ID))
			}
			log.Warn("telegram handler error", fields...)
		},
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModePolling:
		settings.Poller = &tele.LongPoller{Timeout: cfg.PollTimeout}
	case ModeWebhook:
		if strings.TrimSpace(cfg.WebhookURL) == "" {
			return nil, errors.New("telegram webhook mode requires a webhook url")
		}
		// Only used for setWebhook parameters. Updates arrive through
		// WebhookHandler and never through the telebot poll loop.
		a.webhook = &tele.Webhook{
			SecretToken:      cfg.WebhookSecret,
			IgnoreSetWebhook: true,
			Endpoint:         &tele.WebhookEndpoint{PublicURL: cfg.WebhookURL},
		}
	default:
		return nil, fmt.Errorf("unknown telegram mode: %s", cfg.Mode)
	}

	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	a.bot = b
	return a, nil
}

func (a *Adapter) baseCtx() context.Context {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.runCtx
}

// Handle routes a command token ("/subscribe") to fn. Replies are sent as HTML.
func (a *Adapter) Handle(command string, fn transport.CommandFunc) {
	a.bot.Handle(command, func(c tele.Context) error {
		m := c.Message()
		if m == nil || c.Chat() == nil {
			return nil
		}
		msg := transport.Message{
			ChatID:  c.Chat().ID,
			Text:    m.Text,
			Payload: strings.TrimSpace(m.Payload),
		}
		if s := c.Sender(); s != nil {
			msg.FromID = s.ID
			msg.FromUsername = s.Username
		}

		ctx, cancel := context.WithTimeout(a.baseCtx(), a.cfg.CommandTimeout)
		defer cancel()

		reply := fn(ctx, msg)
		if reply == "" {
			return nil
		}
		return c.Send(reply, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
	})
}

// SetCommands publishes the command menu (setMyCommands).
func (a *Adapter) SetCommands(cmds []transport.BotCommand) error {
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		out = append(out, tele.Command{Text: strings.TrimPrefix(c.Command, "/"), Description: c.Description})
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

// Ready reports whether updates are being received.
func (a *Adapter) Ready() bool { return a.ready.Load() }

// WebhookHandler returns the update endpoint for webhook mode, or nil in polling mode.
// It answers 503 until Start has registered the webhook.
func (a *Adapter) WebhookHandler() http.Handler {
	if a.webhook == nil {
		return nil
	}
	secret := a.cfg.WebhookSecret
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretHeader)), []byte(secret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var upd tele.Update
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateLen)).Decode(&upd); err != nil {
			a.log.Debug("bad webhook update", logx.Err(err))
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		// Handlers run on their own goroutines; the reply is a separate API call.
		a.bot.ProcessUpdate(upd)
		w.WriteHeader(http.StatusOK)
	})
}

// Start begins receiving updates. In webhook mode it registers the webhook
// first and returns the error if Telegram rejects it.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}

	if a.webhook != nil {
		if err := a.bot.SetWebhook(a.webhook); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		a.runCtx = ctx
		a.running = true
		a.ready.Store(true)
		a.log.Info("updates started", logx.String("mode", ModeWebhook))
		return nil
	}

	a.runCtx = ctx
	a.running = true
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		// transport errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup

	// bot.Start blocks until bot.Stop, which cancels an in-flight getUpdates.
	sup.Go0("telebot.poll", func(context.Context) {
		a.log.Info("updates started", logx.String("mode", ModePolling))
		a.ready.Store(true)
		a.bot.Start()
		a.ready.Store(false)
		a.log.Info("updates stopped")
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	a.ready.Store(false)
	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

// SendText sends text, split into Telegram-sized chunks. Errors are classified
// so that permanent failures match transport.ErrRecipientGone.
func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}
