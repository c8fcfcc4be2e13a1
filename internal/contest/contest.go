// Package contest fetches upcoming programming contests from clist.by and
// caches them for the reminder scheduler.
package contest

import (
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ErrSourceFetch wraps any failure to obtain a fresh contest list.
var ErrSourceFetch = errors.New("contest source fetch failed")

// DefaultHosts is the platform allow-list used when none is configured.
var DefaultHosts = []string{
	"atcoder.jp",
	"codeforces.com",
	"codechef.com",
	"leetcode.com",
	"geeksforgeeks.org",
	"naukri.com/code360",
	"luogu.com.cn",
}

type Contest struct {
	ID       string
	Host     string
	Title    string
	Start    time.Time
	End      time.Time
	Duration time.Duration
	URL      string
}

// Platform is the display name: the host's first DNS label, capitalized
// ("codeforces.com" -> "Codeforces").
func (c Contest) Platform() string {
	label := c.Host
	if i := strings.IndexAny(label, "./"); i >= 0 {
		label = label[:i]
	}
	if label == "" {
		return ""
	}
	r, n := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(r)) + label[n:]
}

// Started reports whether the contest has begun at now.
func (c Contest) Started(now time.Time) bool {
	return !c.Start.After(now)
}
