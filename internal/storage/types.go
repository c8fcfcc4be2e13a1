package storage

import (
	"errors"
	"time"
)

// ErrPersistence wraps every backend failure so callers can tell store
// outages apart from validation errors.
var ErrPersistence = errors.New("persistence error")

// Config configures storage.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a libpq/pgx connection string or URL
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

type Subscription struct {
	ChatID    int64
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Kind identifies a reminder window.
type Kind string

const (
	KindDay  Kind = "24hr"
	KindHour Kind = "1hr"
)

// SentKey is the composite identity of a ledger record.
type SentKey struct {
	ChatID    int64
	Platform  string
	ContestID string
	Kind      Kind
}

// SentRecord is one ledger row. ContestStart drives expiry.
type SentRecord struct {
	SentKey
	ContestStart time.Time
	SentAt       time.Time
}

// SentSet is the loaded ledger, keyed by composite identity.
type SentSet map[SentKey]struct{}

func (s SentSet) Has(k SentKey) bool {
	_, ok := s[k]
	return ok
}
