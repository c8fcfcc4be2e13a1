package reminder

import (
	"time"

	"contestbot/internal/contest"
	"contestbot/internal/storage"
	"contestbot/internal/timezone"
)

type Kind = storage.Kind

const (
	Kind24h = storage.KindDay
	Kind1h  = storage.KindHour
)

// Recipient is a subscriber with its zone already resolved.
type Recipient struct {
	ChatID   int64
	Timezone string
	Loc      *time.Location
}

// Due is one reminder that should be sent this tick.
type Due struct {
	Recipient Recipient
	Contest   contest.Contest
	Kind      Kind
}

func (d Due) Key() storage.SentKey {
	return keyFor(d.Recipient.ChatID, d.Contest, d.Kind)
}

func (d Due) Record(sentAt time.Time) storage.SentRecord {
	return storage.SentRecord{SentKey: d.Key(), ContestStart: d.Contest.Start, SentAt: sentAt}
}

func keyFor(chatID int64, c contest.Contest, k Kind) storage.SentKey {
	return storage.SentKey{ChatID: chatID, Platform: c.Host, ContestID: c.ID, Kind: k}
}

// Windows returns the reminder kinds whose window contains a start that is
// hoursLeft away. The two windows are checked independently:
//   - 24hr: 1 < hoursLeft <= 24
//   - 1hr:  0 < hoursLeft <= 1
func Windows(hoursLeft float64) []Kind {
	var out []Kind
	if hoursLeft > 1 && hoursLeft <= 24 {
		out = append(out, Kind24h)
	}
	if hoursLeft > 0 && hoursLeft <= 1 {
		out = append(out, Kind1h)
	}
	return out
}

// Evaluate computes the due reminders for the cross product of recipients and
// contests. sent is read only. Contests that have started never produce a reminder.
func Evaluate(now time.Time, recipients []Recipient, contests []contest.Contest, sent storage.SentSet) []Due {
	var out []Due
	for _, r := range recipients {
		for _, c := range contests {
			if c.Started(now) {
				continue
			}
			for _, k := range Windows(timezone.HoursUntil(c.Start, now)) {
				if sent.Has(keyFor(r.ChatID, c, k)) {
					continue
				}
				out = append(out, Due{Recipient: r, Contest: c, Kind: k})
			}
		}
	}
	return out
}
