package notifier

import "time"

type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryMaxDelay time.Duration
	HistorySize   int
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	OK     bool
	Error  string
}
