package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"contestbot/internal/contest"
	"contestbot/internal/storage"
	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
)

type fakeStore struct {
	mu   sync.Mutex
	subs map[int64]string
	err  error
}

func newFakeStore() *fakeStore { return &fakeStore{subs: map[int64]string{}} }

func (f *fakeStore) GetSubscription(ctx context.Context, chatID int64) (storage.Subscription, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return storage.Subscription{}, false, f.err
	}
	tz, ok := f.subs[chatID]
	return storage.Subscription{ChatID: chatID, Timezone: tz}, ok, nil
}

func (f *fakeStore) Subscribe(ctx context.Context, chatID int64, tz string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.subs[chatID]; ok {
		return false, nil
	}
	f.subs[chatID] = tz
	return true, nil
}

func (f *fakeStore) SetTimezone(ctx context.Context, chatID int64, tz string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subs[chatID] = tz
	return nil
}

func (f *fakeStore) Unsubscribe(ctx context.Context, chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.subs[chatID]
	delete(f.subs, chatID)
	return ok, nil
}

type fakeContests struct {
	list []contest.Contest
	err  error
}

func (f fakeContests) ListUpcoming(ctx context.Context) ([]contest.Contest, error) {
	return f.list, f.err
}

func newBot(store Store, cs Contests) *Bot {
	return New(store, cs, Config{DefaultTimezone: "UTC", UpcomingLimit: 2}, logx.Nop())
}

func msg(chatID int64, payload string) transport.Message {
	return transport.Message{ChatID: chatID, Payload: payload}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	b := newBot(st, fakeContests{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if got := b.Subscribe(ctx, msg(7, "")); got != "✅ Subscribed! You&#39;ll receive contest reminders." {
			t.Fatalf("Subscribe #%d = %q", i, got)
		}
	}
	if st.subs[7] != "UTC" {
		t.Fatalf("stored timezone = %q", st.subs[7])
	}

	st.subs[7] = "Asia/Tokyo"
	b.Subscribe(ctx, msg(7, ""))
	if st.subs[7] != "Asia/Tokyo" {
		t.Fatalf("re-subscribe reset timezone to %q", st.subs[7])
	}

	for i := 0; i < 2; i++ {
		if got := b.Unsubscribe(ctx, msg(7, "")); !strings.Contains(got, "Unsubscribed!") {
			t.Fatalf("Unsubscribe #%d = %q", i, got)
		}
	}
	if _, ok := st.subs[7]; ok {
		t.Fatalf("chat still subscribed")
	}
}

func TestSetTimezone(t *testing.T) {
	t.Parallel()
	cases := []struct {
		payload string
		want    string
		stored  string
	}{
		{"", "Usage: /settimezone", ""},
		{"Mars/Olympus", "Invalid timezone", ""},
		{"Local", "Invalid timezone", ""},
		{"Asia/Kolkata", "Timezone set to <code>Asia/Kolkata</code>", "Asia/Kolkata"},
		{"  America/New_York ", "Timezone set to <code>America/New_York</code>", "America/New_York"},
	}
	for _, tc := range cases {
		st := newFakeStore()
		b := newBot(st, fakeContests{})
		got := b.SetTimezone(context.Background(), msg(1, tc.payload))
		if !strings.Contains(got, tc.want) {
			t.Fatalf("SetTimezone(%q) = %q, want %q", tc.payload, got, tc.want)
		}
		if st.subs[1] != tc.stored {
			t.Fatalf("SetTimezone(%q) stored %q, want %q", tc.payload, st.subs[1], tc.stored)
		}
	}
}

func TestPersistenceFailureReply(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	st.err = fmt.Errorf("subscribe: %w", storage.ErrPersistence)
	b := newBot(st, fakeContests{})
	ctx := context.Background()
	for name, got := range map[string]string{
		"subscribe":   b.Subscribe(ctx, msg(1, "")),
		"unsubscribe": b.Unsubscribe(ctx, msg(1, "")),
		"settimezone": b.SetTimezone(ctx, msg(1, "UTC")),
		"timezone":    b.ShowTimezone(ctx, msg(1, "")),
	} {
		if got != textFailure {
			t.Fatalf("%s = %q", name, got)
		}
	}
}

func TestShowTimezone(t *testing.T) {
	t.Parallel()
	st := newFakeStore()
	b := newBot(st, fakeContests{})
	if got := b.ShowTimezone(context.Background(), msg(1, "")); !strings.Contains(got, "not subscribed") {
		t.Fatalf("unsubscribed = %q", got)
	}
	st.subs[1] = "Asia/Kolkata"
	if got := b.ShowTimezone(context.Background(), msg(1, "")); !strings.Contains(got, "Asia/Kolkata") || !strings.Contains(got, "UTC+05:30") {
		t.Fatalf("subscribed = %q", got)
	}
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	list := []contest.Contest{
		{ID: "1", Host: "atcoder.jp", Title: "ABC 1", Start: start, End: start.Add(time.Hour), Duration: time.Hour},
		{ID: "2", Host: "atcoder.jp", Title: "ABC 2", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour), Duration: time.Hour},
		{ID: "3", Host: "atcoder.jp", Title: "ABC 3", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour), Duration: time.Hour},
	}
	st := newFakeStore()
	st.subs[1] = "Asia/Kolkata"
	b := newBot(st, fakeContests{list: list})

	got := b.Upcoming(context.Background(), msg(1, ""))
	for _, want := range []string{"ABC 1", "ABC 2", "2030-01-01 15:30 (UTC+05:30)", "and 1 more"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in\n%s", want, got)
		}
	}

	b = newBot(st, fakeContests{err: fmt.Errorf("%w: down", contest.ErrSourceFetch)})
	if got := b.Upcoming(context.Background(), msg(1, "")); got != textNoContests {
		t.Fatalf("source down = %q", got)
	}

	b = newBot(st, fakeContests{list: list[:1], err: fmt.Errorf("%w: down", contest.ErrSourceFetch)})
	if got := b.Upcoming(context.Background(), msg(1, "")); !strings.Contains(got, "ABC 1") {
		t.Fatalf("stale listing = %q", got)
	}
}

type fakeRegistrar struct {
	routes map[string]transport.CommandFunc
	menu   []transport.BotCommand
	err    error
}

func (f *fakeRegistrar) Handle(command string, fn transport.CommandFunc) {
	if f.routes == nil {
		f.routes = map[string]transport.CommandFunc{}
	}
	f.routes[command] = fn
}

func (f *fakeRegistrar) SetCommands(cmds []transport.BotCommand) error {
	f.menu = cmds
	return f.err
}

func TestRegister(t *testing.T) {
	t.Parallel()
	b := newBot(newFakeStore(), fakeContests{})
	r := &fakeRegistrar{}
	if err := b.Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, route := range []string{"/start", "/help", "/subscribe", "/unsubscribe", "/settimezone", "/tz", "/timezone", "/upcoming"} {
		if r.routes[route] == nil {
			t.Fatalf("route %s not registered", route)
		}
	}
	for _, c := range r.menu {
		if c.Command == "start" {
			t.Fatalf("hidden command in menu")
		}
	}
	if got := r.routes["/start"](context.Background(), msg(1, "")); !strings.HasPrefix(got, "👋 Welcome!") {
		t.Fatalf("/start = %q", got)
	}

	r = &fakeRegistrar{err: errors.New("menu")}
	if err := b.Register(r); err == nil {
		t.Fatalf("menu error swallowed")
	}
}
