package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldError reports a config value that does not parse.
type FieldError struct {
	Path  string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v (got %q)", e.Path, e.Err, e.Value)
}

func (e *FieldError) Unwrap() error { return e.Err }

var errNegativeDuration = errors.New("duration must be >= 0")

// ParseDurationField parses a config duration. Besides Go durations ("90s",
// "6h") it takes a leading whole-day count ("1d", "1d12h"), handy for cache
// TTLs and contest length ceilings. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	d, err := parseSpan(strings.TrimSpace(raw))
	if err != nil {
		return 0, &FieldError{Path: path, Value: raw, Err: err}
	}
	if d < 0 {
		return 0, &FieldError{Path: path, Value: raw, Err: errNegativeDuration}
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

func parseSpan(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	neg := strings.HasPrefix(s, "-")
	body := strings.TrimLeft(s, "+-")

	var days int64
	if i := strings.IndexByte(body, 'd'); i >= 0 {
		n, err := strconv.ParseInt(body[:i], 10, 32)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count in %q", s)
		}
		days, body = n, body[i+1:]
	}
	var rest time.Duration
	if body != "" {
		var err error
		if rest, err = time.ParseDuration(body); err != nil {
			return 0, err
		}
	}
	d := time.Duration(days)*24*time.Hour + rest
	if neg {
		d = -d
	}
	return d, nil
}
