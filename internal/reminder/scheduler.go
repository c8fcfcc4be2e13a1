package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"contestbot/internal/contest"
	"contestbot/internal/storage"
	"contestbot/internal/timezone"
	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
)

// ErrTickInProgress is returned when Tick is called while another tick runs.
var ErrTickInProgress = errors.New("reminder tick already in progress")

// Store is the persistence the scheduler needs.
type Store interface {
	ListSubscriptions(ctx context.Context) ([]storage.Subscription, error)
	Unsubscribe(ctx context.Context, chatID int64) (bool, error)
	LoadSent(ctx context.Context) (storage.SentSet, error)
	RecordSent(ctx context.Context, recs []storage.SentRecord) (int, error)
	PruneSent(ctx context.Context, now time.Time) (int64, error)
}

// ContestLister provides the upcoming contests (contest.Source in production).
type ContestLister interface {
	ListUpcoming(ctx context.Context) ([]contest.Contest, error)
}

// Sink delivers one message. Errors wrapping transport.ErrRecipientGone are permanent.
type Sink interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	// DefaultTimezone is used when a stored zone no longer resolves.
	DefaultTimezone string
	// Workers bounds concurrent chats during dispatch.
	Workers int
}

// Report summarizes one tick.
type Report struct {
	TickID      string        `json:"tick_id"`
	StartedAt   time.Time     `json:"started_at"`
	Took        time.Duration `json:"took"`
	Pruned      int64         `json:"pruned"`
	Contests    int           `json:"contests"`
	Subscribers int           `json:"subscribers"`
	Due         int           `json:"due"`
	Sent        int           `json:"sent"`
	Failed      int           `json:"failed"`
	Removed     int           `json:"removed"`
	Recorded    int           `json:"recorded"`
	SourceError string        `json:"source_error,omitempty"`
}

// Scheduler runs reconciliation ticks. Ticks never overlap.
type Scheduler struct {
	store  Store
	source ContestLister
	sink   Sink
	log    logx.Logger
	now    func() time.Time

	mu  sync.RWMutex
	cfg Config

	running atomic.Bool
	last    atomic.Pointer[Report]
}

type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(store Store, source ContestLister, sink Sink, cfg Config, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{store: store, source: source, sink: sink, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.Apply(cfg)
	return s
}

func (s *Scheduler) Apply(cfg Config) {
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// LastReport returns the most recent completed tick, if any.
func (s *Scheduler) LastReport() (Report, bool) {
	r := s.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Tick runs one reconciliation cycle.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrTickInProgress
	}
	defer s.running.Store(false)

	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	now := s.now()
	began := time.Now()
	rep := Report{TickID: uuid.NewString(), StartedAt: now}
	log := s.log.With(logx.String("tick_id", rep.TickID))
	defer func() {
		rep.Took = time.Since(began)
		s.last.Store(&rep)
	}()

	pruned, err := s.store.PruneSent(ctx, now)
	if err != nil {
		log.Warn("ledger prune failed", logx.Err(err))
	}
	rep.Pruned = pruned

	contests, err := s.source.ListUpcoming(ctx)
	if err != nil {
		rep.SourceError = err.Error()
		log.Warn("contest source unavailable", logx.Err(err), logx.Int("contests", len(contests)))
	}
	rep.Contests = len(contests)
	if len(contests) == 0 {
		log.Debug("no upcoming contests; tick done")
		return rep, nil
	}

	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		log.Error("list subscriptions failed; tick aborted", logx.Err(err))
		return rep, err
	}
	rep.Subscribers = len(subs)
	if len(subs) == 0 {
		return rep, nil
	}

	sent, err := s.store.LoadSent(ctx)
	if err != nil {
		log.Error("load ledger failed; tick aborted", logx.Err(err))
		return rep, err
	}

	due := Evaluate(now, s.recipients(subs, cfg.DefaultTimezone, log), contests, sent)
	rep.Due = len(due)
	if len(due) == 0 {
		log.Debug("nothing due", logx.Int("contests", rep.Contests), logx.Int("subscribers", rep.Subscribers))
		return rep, nil
	}

	records, res := s.dispatch(ctx, due, cfg.Workers, log)
	rep.Sent, rep.Failed, rep.Removed = res.sent, res.failed, res.removed

	if len(records) > 0 {
		// Messages are already out; persist even if the tick context expired.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		n, err := s.store.RecordSent(pctx, records)
		cancel()
		if err != nil {
			log.Error("record sent reminders failed", logx.Err(err), logx.Int("records", len(records)))
			return rep, err
		}
		rep.Recorded = n
	}

	log.Info("tick done",
		logx.Int("contests", rep.Contests),
		logx.Int("subscribers", rep.Subscribers),
		logx.Int("due", rep.Due),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Int("removed", rep.Removed),
		logx.Int64("pruned", rep.Pruned),
		logx.Duration("took", time.Since(began)),
	)
	return rep, nil
}

// recipients resolves each subscriber's zone, falling back to def.
func (s *Scheduler) recipients(subs []storage.Subscription, def string, log logx.Logger) []Recipient {
	defLoc, err := timezone.Load(def)
	if err != nil {
		defLoc = time.UTC
	}
	out := make([]Recipient, 0, len(subs))
	for _, sub := range subs {
		loc, err := timezone.Load(sub.Timezone)
		if err != nil {
			log.Warn("stored timezone invalid; using default",
				logx.Int64("chat_id", sub.ChatID), logx.String("timezone", sub.Timezone), logx.String("default", def))
			out = append(out, Recipient{ChatID: sub.ChatID, Timezone: def, Loc: defLoc})
			continue
		}
		out = append(out, Recipient{ChatID: sub.ChatID, Timezone: sub.Timezone, Loc: loc})
	}
	return out
}

type dispatchResult struct {
	sent, failed, removed int
}

// dispatch sends due reminders, chats in parallel and each chat's reminders in
// order. Only delivered reminders become ledger records. A chat that turns out
// to be unreachable is unsubscribed once and skipped for the rest of the tick.
func (s *Scheduler) dispatch(ctx context.Context, due []Due, workers int, log logx.Logger) ([]storage.SentRecord, dispatchResult) {
	byChat := make(map[int64][]Due)
	order := make([]int64, 0)
	for _, d := range due {
		id := d.Recipient.ChatID
		if _, ok := byChat[id]; !ok {
			order = append(order, id)
		}
		byChat[id] = append(byChat[id], d)
	}

	var (
		mu      sync.Mutex
		records []storage.SentRecord
		res     dispatchResult
	)

	var g errgroup.Group
	g.SetLimit(workers)
	for _, chatID := range order {
		chatID := chatID
		items := byChat[chatID]
		g.Go(func() error {
			for _, d := range items {
				if ctx.Err() != nil {
					return nil
				}
				err := s.sink.Send(ctx, chatID, Format(d.Kind, d.Contest, d.Recipient.Loc))
				if err == nil {
					mu.Lock()
					records = append(records, d.Record(s.now()))
					res.sent++
					mu.Unlock()
					continue
				}

				mu.Lock()
				res.failed++
				mu.Unlock()

				if errors.Is(err, transport.ErrRecipientGone) {
					log.Info("recipient unreachable; removing subscription", logx.Int64("chat_id", chatID), logx.Err(err))
					if _, uerr := s.store.Unsubscribe(ctx, chatID); uerr != nil {
						log.Warn("remove subscription failed", logx.Int64("chat_id", chatID), logx.Err(uerr))
					} else {
						mu.Lock()
						res.removed++
						mu.Unlock()
					}
					return nil
				}
				log.Warn("reminder delivery failed",
					logx.Int64("chat_id", chatID),
					logx.String("contest_id", d.Contest.ID),
					logx.String("kind", string(d.Kind)),
					logx.Err(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return records, res
}
