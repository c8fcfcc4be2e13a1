package storage

import (
	"context"
	"time"

	logx "contestbot/pkg/logx"
)

// LoadSent reads the whole ledger in one query.
func (s *Store) LoadSent(ctx context.Context) (SentSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, platform, contest_id, kind FROM sent_reminders`)
	if err != nil {
		return nil, wrap("load sent", err)
	}
	defer rows.Close()

	set := SentSet{}
	for rows.Next() {
		var (
			k    SentKey
			kind string
		)
		if err := rows.Scan(&k.ChatID, &k.Platform, &k.ContestID, &kind); err != nil {
			return nil, wrap("load sent", err)
		}
		k.Kind = Kind(kind)
		set[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("load sent", err)
	}
	return set, nil
}

// RecordSent inserts records in one transaction. Records already present are
// skipped, so the ledger stays a set. It returns the number of new rows.
func (s *Store) RecordSent(ctx context.Context, recs []SentRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("record sent", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO sent_reminders(chat_id, platform, contest_id, kind, contest_start, sent_at)
		 VALUES(?,?,?,?,?,?) ON CONFLICT DO NOTHING`))
	if err != nil {
		return 0, wrap("record sent", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range recs {
		sentAt := r.SentAt
		if sentAt.IsZero() {
			sentAt = time.Now()
		}
		res, err := stmt.ExecContext(ctx, r.ChatID, r.Platform, r.ContestID, string(r.Kind), r.ContestStart.UnixMilli(), sentAt.UnixMilli())
		if err != nil {
			return 0, wrap("record sent", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("record sent", err)
	}
	return inserted, nil
}

// PruneSent applies the ledger expiry rule at now:
//   - a 24hr record goes once its contest starts in less than one hour
//   - a 1hr record goes once its contest has started
//
// Other kinds are removed once their contest has started.
func (s *Store) PruneSent(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM sent_reminders
		 WHERE (kind = ? AND contest_start < ?)
		    OR (kind <> ? AND contest_start <= ?)`),
		string(KindDay), now.Add(time.Hour).UnixMilli(),
		string(KindDay), now.UnixMilli(),
	)
	if err != nil {
		return 0, wrap("prune sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("prune sent", err)
	}
	if n > 0 {
		s.log.Debug("pruned sent reminders", logx.Int64("deleted", n))
	}
	return n, nil
}
