package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ListSubscriptions returns every subscription ordered by chat id.
func (s *Store) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, timezone, created_at, updated_at FROM subscriptions ORDER BY chat_id`)
	if err != nil {
		return nil, wrap("list subscriptions", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			sub              Subscription
			created, updated int64
		)
		if err := rows.Scan(&sub.ChatID, &sub.Timezone, &created, &updated); err != nil {
			return nil, wrap("list subscriptions", err)
		}
		sub.CreatedAt = time.UnixMilli(created).UTC()
		sub.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list subscriptions", err)
	}
	return out, nil
}

// GetSubscription looks up one chat. ok is false when the chat is not subscribed.
func (s *Store) GetSubscription(ctx context.Context, chatID int64) (Subscription, bool, error) {
	var (
		sub              Subscription
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT chat_id, timezone, created_at, updated_at FROM subscriptions WHERE chat_id = ?`), chatID,
	).Scan(&sub.ChatID, &sub.Timezone, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, false, nil
	}
	if err != nil {
		return Subscription{}, false, wrap("get subscription", err)
	}
	sub.CreatedAt = time.UnixMilli(created).UTC()
	sub.UpdatedAt = time.UnixMilli(updated).UTC()
	return sub, true, nil
}

// Subscribe creates a subscription at timezone if the chat has none.
// An existing subscription (and its timezone) is left untouched.
func (s *Store) Subscribe(ctx context.Context, chatID int64, timezone string) (created bool, err error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO subscriptions(chat_id, timezone, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO NOTHING`),
		chatID, timezone, now, now,
	)
	if err != nil {
		return false, wrap("subscribe", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("subscribe", err)
	}
	return n > 0, nil
}

// SetTimezone upserts the chat's timezone.
func (s *Store) SetTimezone(ctx context.Context, chatID int64, timezone string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO subscriptions(chat_id, timezone, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET timezone = excluded.timezone, updated_at = excluded.updated_at`),
		chatID, timezone, now, now,
	)
	if err != nil {
		return wrap("set timezone", err)
	}
	return nil
}

// Unsubscribe removes the chat. Removing an absent chat is not an error.
func (s *Store) Unsubscribe(ctx context.Context, chatID int64) (removed bool, err error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM subscriptions WHERE chat_id = ?`), chatID)
	if err != nil {
		return false, wrap("unsubscribe", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("unsubscribe", err)
	}
	return n > 0, nil
}

func (s *Store) CountSubscriptions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n); err != nil {
		return 0, wrap("count subscriptions", err)
	}
	return n, nil
}
