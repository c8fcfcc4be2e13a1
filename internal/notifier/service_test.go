package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"contestbot/internal/transport"
	logx "contestbot/pkg/logx"
)

type throttled struct{ after time.Duration }

func (e throttled) Error() string             { return "too many requests" }
func (e throttled) RetryAfter() time.Duration { return e.after }

type scriptedSender struct {
	mu    sync.Mutex
	errs  []error
	calls int
	last  *transport.SendOptions
}

func (s *scriptedSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = opt
	if len(s.errs) == 0 {
		return transport.MessageRef{ChatID: to.ChatID, MessageID: s.calls}, nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return transport.MessageRef{}, err
}

func TestSendClassifies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		permanent bool
		transient bool
	}{
		{name: "ok"},
		{name: "gone", err: fmt.Errorf("%w: blocked", transport.ErrRecipientGone), permanent: true},
		{name: "network", err: errors.New("connection reset"), transient: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snd := &scriptedSender{}
			if tt.err != nil {
				snd.errs = []error{tt.err}
			}
			svc := New(Config{RatePerSec: 100}, snd, logx.Nop())
			err := svc.Send(context.Background(), 1, "hi")
			if got := errors.Is(err, transport.ErrRecipientGone); got != tt.permanent {
				t.Fatalf("permanent = %v, want %v (err=%v)", got, tt.permanent, err)
			}
			if got := errors.Is(err, ErrTransient); got != tt.transient {
				t.Fatalf("transient = %v, want %v (err=%v)", got, tt.transient, err)
			}
			if snd.last == nil || snd.last.ParseMode != transport.ParseModeHTML || !snd.last.DisablePreview {
				t.Fatalf("unexpected send options %+v", snd.last)
			}
		})
	}
}

func TestSendRetriesAfterFloodHint(t *testing.T) {
	t.Parallel()
	snd := &scriptedSender{errs: []error{throttled{after: 5 * time.Millisecond}}}
	svc := New(Config{RatePerSec: 100, RetryMax: 1}, snd, logx.Nop())
	if err := svc.Send(context.Background(), 9, "hi"); err != nil {
		t.Fatalf("Send = %v, want success after retry", err)
	}
	if snd.calls != 2 {
		t.Fatalf("calls = %d, want 2", snd.calls)
	}

	h := svc.History()
	if len(h) != 1 || !h[0].OK || h[0].ChatID != 9 {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendDoesNotRetryLongFloodHint(t *testing.T) {
	t.Parallel()
	snd := &scriptedSender{errs: []error{throttled{after: time.Hour}}}
	svc := New(Config{RatePerSec: 100, RetryMax: 3, RetryMaxDelay: time.Second}, snd, logx.Nop())
	if err := svc.Send(context.Background(), 9, "hi"); !errors.Is(err, ErrTransient) {
		t.Fatalf("Send = %v, want transient", err)
	}
	if snd.calls != 1 {
		t.Fatalf("calls = %d, want 1", snd.calls)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	svc := New(Config{RatePerSec: 1000, HistorySize: 3}, &scriptedSender{}, logx.Nop())
	for i := int64(1); i <= 5; i++ {
		if err := svc.Send(context.Background(), i, "x"); err != nil {
			t.Fatal(err)
		}
	}
	h := svc.History()
	if len(h) != 3 || h[0].ChatID != 3 || h[2].ChatID != 5 {
		t.Fatalf("history = %+v", h)
	}
}
