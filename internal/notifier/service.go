package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
)

// ErrTransient marks a failed delivery that may succeed later.
var ErrTransient = errors.New("transient delivery failure")

// retryAfter is implemented by transport errors that carry a flood-control hint.
type retryAfter interface {
	RetryAfter() time.Duration
}

// Service is a rate-limited, classifying front for a transport.Sender.
// It is safe for concurrent use.
type Service struct {
	sender transport.Sender
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender transport.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.mu.Lock()
	s.cfg = cfg
	// burst equals the per-second rate
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Send delivers HTML text to chatID. The returned error wraps either
// transport.ErrRecipientGone or ErrTransient.
func (s *Service) Send(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	lim, cfg := s.limiter, s.cfg
	s.mu.Unlock()

	var err error
	for attempt := 0; ; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			err = werr
			break
		}
		_, err = s.sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{
			ParseMode:      transport.ParseModeHTML,
			DisablePreview: true,
		})
		if err == nil || errors.Is(err, transport.ErrRecipientGone) || attempt >= cfg.RetryMax {
			break
		}
		var ra retryAfter
		if !errors.As(err, &ra) || ra.RetryAfter() > cfg.RetryMaxDelay {
			break
		}
		s.log.Debug("send throttled; retrying", logx.Int64("chat_id", chatID), logx.Duration("after", ra.RetryAfter()))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(ra.RetryAfter()):
			continue
		}
		break
	}

	s.remember(chatID, err, cfg.HistorySize)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrRecipientGone):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
}

func (s *Service) remember(chatID int64, err error, size int) {
	it := HistoryItem{At: time.Now(), ChatID: chatID, OK: err == nil}
	if err != nil {
		it.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - size; over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
	s.hmu.Unlock()
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
