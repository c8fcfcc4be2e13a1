package contest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://clist.by/api/v4/json"

type ClientConfig struct {
	BaseURL           string
	Username          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Client is a rate-limited clist.by v4 API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	apiKey     string
	limiter    *rate.Limiter
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 10
	}
	rps := float64(cfg.RequestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Query narrows the upcoming-contest listing server side.
type Query struct {
	Hosts       []string
	MaxDuration time.Duration
	Limit       int
}

type listResponse struct {
	Objects []record `json:"objects"`
}

type record struct {
	ID       json.RawMessage `json:"id"`
	Host     string          `json:"host"`
	Event    string          `json:"event"`
	Start    string          `json:"start"`
	End      string          `json:"end"`
	Duration float64         `json:"duration"`
	Href     string          `json:"href"`
}

// Upcoming lists contests that have not started yet, ordered by start.
func (c *Client) Upcoming(ctx context.Context, q Query) ([]Contest, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("upcoming", "true")
	params.Set("order_by", "start")
	if q.MaxDuration > 0 {
		params.Set("duration__lt", strconv.FormatInt(int64(q.MaxDuration/time.Second), 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if re := hostRegex(q.Hosts); re != "" {
		params.Set("host__regex", re)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/contest/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" || c.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.username+":"+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clist returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var lr listResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := make([]Contest, 0, len(lr.Objects))
	for _, r := range lr.Objects {
		ct, err := r.contest()
		if err != nil {
			// one malformed row must not hide the rest
			continue
		}
		out = append(out, ct)
	}
	return out, nil
}

func (r record) contest() (Contest, error) {
	id := strings.Trim(strings.TrimSpace(string(r.ID)), `"`)
	if id == "" || id == "null" {
		return Contest{}, fmt.Errorf("contest without id")
	}
	start, err := parseTime(r.Start)
	if err != nil {
		return Contest{}, fmt.Errorf("contest %s start: %w", id, err)
	}
	end, err := parseTime(r.End)
	if err != nil {
		return Contest{}, fmt.Errorf("contest %s end: %w", id, err)
	}
	dur := time.Duration(r.Duration * float64(time.Second))
	if dur <= 0 {
		dur = end.Sub(start)
	}
	return Contest{
		ID:       id,
		Host:     strings.ToLower(strings.TrimSpace(r.Host)),
		Title:    strings.TrimSpace(r.Event),
		Start:    start,
		End:      end,
		Duration: dur,
		URL:      strings.TrimSpace(r.Href),
	}, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTime accepts clist's zone-less timestamps (UTC implied) and RFC3339.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func hostRegex(hosts []string) string {
	parts := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimRight(strings.TrimSpace(h), "/")); h != "" {
			parts = append(parts, regexp.QuoteMeta(h))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "^(" + strings.Join(parts, "|") + ")(/.*)?$"
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
