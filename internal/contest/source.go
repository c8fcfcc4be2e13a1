package contest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	logx "contestbot/pkg/logx"
)

// Fetcher is the upstream listing API (Client in production).
type Fetcher interface {
	Upcoming(ctx context.Context, q Query) ([]Contest, error)
}

type SourceConfig struct {
	Hosts       []string
	MaxDuration time.Duration
	TTL         time.Duration
	Limit       int
}

// Source serves the upcoming-contest list from a TTL cache in front of a Fetcher.
// It is safe for concurrent use; concurrent misses share one fetch.
type Source struct {
	fetcher Fetcher
	log     logx.Logger
	now     func() time.Time

	mu        sync.Mutex
	cfg       SourceConfig
	cached    []Contest
	fetchedAt time.Time
	valid     bool
}

type SourceOption func(*Source)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SourceOption {
	return func(s *Source) { s.now = now }
}

func NewSource(f Fetcher, cfg SourceConfig, log logx.Logger, opts ...SourceOption) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Source{fetcher: f, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.cfg = normalize(cfg)
	return s
}

func normalize(cfg SourceConfig) SourceConfig {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = DefaultHosts
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 6 * time.Hour
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 200
	}
	return cfg
}

// Apply swaps the filter and cache settings and drops the cached list.
func (s *Source) Apply(cfg SourceConfig) {
	s.mu.Lock()
	s.cfg = normalize(cfg)
	s.valid = false
	s.mu.Unlock()
}

// Invalidate forces the next ListUpcoming to refetch.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

// ListUpcoming returns allowed, not-yet-started contests ordered by start.
//
// Within the TTL the cached list is returned without a network call. When a
// refresh fails the previous list (if any) is returned together with an error
// wrapping ErrSourceFetch; callers log it and carry on.
func (s *Source) ListUpcoming(ctx context.Context) ([]Contest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.valid && now.Sub(s.fetchedAt) < s.cfg.TTL {
		return s.view(now), nil
	}

	fetched, err := s.fetcher.Upcoming(ctx, Query{
		Hosts:       s.cfg.Hosts,
		MaxDuration: s.cfg.MaxDuration,
		Limit:       s.cfg.Limit,
	})
	if err != nil {
		stale := s.view(now)
		s.log.Warn("contest fetch failed", logx.Err(err), logx.Int("stale", len(stale)))
		return stale, fmt.Errorf("%w: %w", ErrSourceFetch, err)
	}

	s.cached = s.filter(fetched)
	s.fetchedAt = now
	s.valid = true
	s.log.Debug("contest list refreshed", logx.Int("fetched", len(fetched)), logx.Int("kept", len(s.cached)))
	return s.view(now), nil
}

// filter applies the allow-list and duration ceiling client side and sorts by start.
func (s *Source) filter(in []Contest) []Contest {
	out := make([]Contest, 0, len(in))
	for _, c := range in {
		if !hostAllowed(s.cfg.Hosts, c.Host) {
			continue
		}
		if c.Duration >= s.cfg.MaxDuration {
			continue
		}
		if !c.Start.Before(c.End) {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b Contest) int { return a.Start.Compare(b.Start) })
	return out
}

// view drops contests that have started since the list was cached.
func (s *Source) view(now time.Time) []Contest {
	out := make([]Contest, 0, len(s.cached))
	for _, c := range s.cached {
		if !c.Started(now) {
			out = append(out, c)
		}
	}
	return out
}

// hostAllowed matches host against the allow-list, ignoring case. An entry
// matches the same host or a path under it: "codeforces.com" admits
// "codeforces.com/gym" and "naukri.com/code360" admits "naukri.com/code360/weekly",
// but "codeforces.com" does not admit "codeforces.community".
func hostAllowed(allowed []string, host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, h := range allowed {
		h = strings.ToLower(strings.TrimRight(strings.TrimSpace(h), "/"))
		if h == "" {
			continue
		}
		if host == h || strings.HasPrefix(host, h+"/") {
			return true
		}
	}
	return false
}
