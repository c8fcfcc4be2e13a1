package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"contestbot/internal/contest"
	"contestbot/internal/timezone"
	"contestbot/pkg/tgui"
)

const (
	timeLayout = "2006-01-02 15:04"
	titleLimit = 200
)

func header(k Kind) tgui.H {
	switch k {
	case Kind24h:
		return "⏳ " + tgui.B("Reminder:") + " Contest in 24 hours!"
	case Kind1h:
		return "🔥 " + tgui.B("Reminder:") + " Contest starts in 1 hour!"
	default:
		return "🔔 " + tgui.B("Reminder:") + tgui.Esc(" "+string(k))
	}
}

// Format renders a reminder as Telegram HTML with times shown in loc.
func Format(k Kind, c contest.Contest, loc *time.Location) string {
	return tgui.JoinH("\n", header(k), Details(c, loc)).String()
}

// Details is the contest block shared by reminders and listings.
func Details(c contest.Contest, loc *time.Location) tgui.H {
	if loc == nil {
		loc = time.UTC
	}
	linkText := c.Host
	if linkText == "" {
		linkText = c.URL
	}
	lines := []tgui.H{
		"📢 " + tgui.B(tgui.Clip(c.Title, titleLimit)),
		tgui.Field("🌐", "Platform", c.Platform()),
		tgui.Field("⏳", "Duration", HumanDuration(c.Duration)),
		tgui.Field("🕒", "Start", LocalTime(c.Start, loc)),
		tgui.Field("🛑", "End", LocalTime(c.End, loc)),
	}
	if c.URL != "" {
		lines = append(lines, "🔗 "+tgui.B("Join Here:")+" "+tgui.Link(linkText, c.URL))
	}
	return tgui.JoinH("\n", lines...)
}

// LocalTime renders t in loc as "2006-01-02 15:04 (UTC+05:30)".
func LocalTime(t time.Time, loc *time.Location) string {
	lt := t.In(loc)
	return lt.Format(timeLayout) + " (" + timezone.Offset(lt) + ")"
}

// HumanDuration renders d rounded to minutes: "2 hours 30 minutes", "1 hour", "45 minutes".
func HumanDuration(d time.Duration) string {
	total := int(d.Round(time.Minute) / time.Minute)
	if total <= 0 {
		return "0 minutes"
	}
	h, m := total/60, total%60
	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

// FormatUpcoming lists up to limit contests for a chat in its zone.
func FormatUpcoming(contests []contest.Contest, tz string, loc *time.Location, limit int) string {
	if len(contests) == 0 {
		return "📭 No upcoming contests right now."
	}
	if limit <= 0 || limit > len(contests) {
		limit = len(contests)
	}
	parts := make([]tgui.H, 0, limit+1)
	parts = append(parts, tgui.H("📅 ")+tgui.B("Upcoming contests")+tgui.Esc(fmt.Sprintf(" (%s)", tz)))
	for _, c := range contests[:limit] {
		parts = append(parts, Details(c, loc))
	}
	if rest := len(contests) - limit; rest > 0 {
		parts = append(parts, tgui.I(fmt.Sprintf("…and %d more", rest)))
	}
	return tgui.JoinH("\n\n", parts...).String()
}
