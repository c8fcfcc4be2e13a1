package adapter

import (
	"errors"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"contestbot/internal/transport"
)

var permanent = []error{
	tele.ErrBlockedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrKickedFromChannel,
	tele.ErrNotStartedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrChatNotFound,
}

// RetryAfterError is returned for flood-control responses (HTTP 429).
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter is the wait Telegram asked for.
func (e *RetryAfterError) RetryAfter() time.Duration { return e.After }

// classify maps telebot errors onto transport-level semantics.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return fmt.Errorf("%w: %w", transport.ErrRecipientGone, err)
		}
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &RetryAfterError{After: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return fmt.Errorf("%w: %w", transport.ErrRecipientGone, err)
	}
	return err
}
