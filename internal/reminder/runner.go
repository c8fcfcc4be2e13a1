package reminder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"contestbot/internal/timezone"
	logx "contestbot/pkg/logx"
)

// RunnerConfig controls when ticks fire.
type RunnerConfig struct {
	// Schedule is a cron expression ("*/10 * * * *", "@every 10m") or an
	// interval ("10m", "00:10").
	Schedule string
	// Timezone is the zone cron fields are read in. Empty means UTC.
	Timezone string
	// Timeout bounds one tick.
	Timeout time.Duration
	// RunOnStart fires one tick right after Start.
	RunOnStart bool
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule accepts a cron expression (5 or 6 fields, or a descriptor),
// a Go duration like "10m", or HH:MM like "00:10".
func ParseSchedule(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("schedule required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		sch, err := parser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid cron schedule %q: %w", raw, err)
		}
		return sch, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		return every(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf(
			"invalid schedule %q (use cron like '*/10 * * * *', HH:MM like '00:10', or duration like '10m')", raw)
	}
	return every(d)
}

func every(d time.Duration) (cron.Schedule, error) {
	if d < time.Second {
		return nil, errors.New("interval must be at least 1s")
	}
	return cron.Every(d), nil
}

// Runner fires Scheduler ticks on a cron schedule.
type Runner struct {
	sched *Scheduler
	log   logx.Logger

	mu    sync.Mutex
	cfg   RunnerConfig
	c     *cron.Cron
	entry cron.EntryID
	base  context.Context
}

func NewRunner(sched *Scheduler, cfg RunnerConfig, log logx.Logger) (*Runner, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = normalizeRunner(cfg)
	if err := validateRunner(cfg); err != nil {
		return nil, err
	}
	return &Runner{sched: sched, log: log, cfg: cfg}, nil
}

func normalizeRunner(cfg RunnerConfig) RunnerConfig {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "*/10 * * * *"
	}
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return cfg
}

// Start begins triggering. ctx bounds every tick the runner fires.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	r.base = ctx
	if err := r.startLocked(); err != nil {
		return err
	}
	r.log.Info("reminder runner started",
		logx.String("schedule", r.cfg.Schedule),
		logx.String("tz", r.cfg.Timezone),
		logx.Duration("timeout", r.cfg.Timeout),
	)

	if r.cfg.RunOnStart {
		go r.run()
	}
	return nil
}

func (r *Runner) startLocked() error {
	loc, err := timezone.Load(r.cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: r.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	r.c, r.entry = c, 0
	if err := r.scheduleLocked(); err != nil {
		r.c = nil
		return err
	}
	c.Start()
	return nil
}

func (r *Runner) scheduleLocked() error {
	sch, err := ParseSchedule(r.cfg.Schedule)
	if err != nil {
		return err
	}
	if r.entry != 0 {
		r.c.Remove(r.entry)
	}
	r.entry = r.c.Schedule(sch, cron.FuncJob(r.run))
	return nil
}

// Apply swaps schedule, zone and timeout. An invalid value keeps the old config.
func (r *Runner) Apply(cfg RunnerConfig) error {
	cfg = normalizeRunner(cfg)
	if err := validateRunner(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.cfg
	r.cfg = cfg
	if r.c == nil {
		return nil
	}
	switch {
	case old.Timezone != cfg.Timezone:
		// cron binds its location at construction; rebuild it.
		prev, prevEntry := r.c, r.entry
		if err := r.startLocked(); err != nil {
			r.cfg, r.c, r.entry = old, prev, prevEntry
			return err
		}
		prev.Stop()
	case old.Schedule != cfg.Schedule:
		if err := r.scheduleLocked(); err != nil {
			r.cfg = old
			return err
		}
	default:
		return nil
	}
	r.log.Info("reminder schedule changed",
		logx.String("from", old.Schedule), logx.String("to", cfg.Schedule), logx.String("tz", cfg.Timezone))
	return nil
}

func validateRunner(cfg RunnerConfig) error {
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return err
	}
	_, err := timezone.Load(cfg.Timezone)
	return err
}

// Next reports the next planned tick, zero if not running.
func (r *Runner) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil || r.entry == 0 {
		return time.Time{}
	}
	return r.c.Entry(r.entry).Next
}

func (r *Runner) run() {
	r.mu.Lock()
	base, timeout := r.base, r.cfg.Timeout
	r.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()
	if _, err := r.sched.Tick(ctx); err != nil {
		if errors.Is(err, ErrTickInProgress) {
			r.log.Debug("tick skipped; previous tick still running")
			return
		}
		r.log.Warn("tick failed", logx.Err(err))
	}
}

// Stop halts triggering and waits for a running tick, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.entry = 0
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info("reminder runner stopped")
}

// cronLogger routes robfig/cron logs into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
