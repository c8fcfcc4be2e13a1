package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "contestbot/pkg/logx"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func do(t *testing.T, h http.Handler, method, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	b, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(b)
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	hooked := false
	s := New(Config{}, Deps{
		Store:  pinger{},
		Status: func() any { return map[string]int{"subscribers": 3} },
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hooked = true
			w.WriteHeader(http.StatusOK)
		}),
	}, logx.Nop())
	h := s.Handler()

	cases := []struct {
		method, target string
		code           int
		body           string
	}{
		{http.MethodGet, "/", 200, "Bot is running!"},
		{http.MethodGet, "/healthz", 200, "OK"},
		{http.MethodGet, "/healthz?deep=1", 200, "OK"},
		{http.MethodGet, "/status", 200, `"subscribers": 3`},
		{http.MethodGet, "/nope", 404, ""},
		{http.MethodGet, "/telegram/webhook", 405, ""},
	}
	for _, tc := range cases {
		code, body := do(t, h, tc.method, tc.target)
		if code != tc.code || !strings.Contains(body, tc.body) {
			t.Fatalf("%s %s = %d %q, want %d %q", tc.method, tc.target, code, body, tc.code, tc.body)
		}
	}

	if code, _ := do(t, h, http.MethodPost, "/telegram/webhook"); code != 200 || !hooked {
		t.Fatalf("webhook not delegated: %d %v", code, hooked)
	}
}

func TestDeepHealthFailure(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Deps{Store: pinger{err: errors.New("db down")}}, logx.Nop()).Handler()
	if code, _ := do(t, h, http.MethodGet, "/healthz"); code != 200 {
		t.Fatalf("shallow health = %d", code)
	}
	if code, body := do(t, h, http.MethodGet, "/healthz?deep=1"); code != 503 || body != "store unavailable" {
		t.Fatalf("deep health = %d %q", code, body)
	}
}

func TestNoWebhookInPollingMode(t *testing.T) {
	t.Parallel()
	h := New(Config{WebhookPath: "/hook"}, Deps{}, logx.Nop()).Handler()
	if code, _ := do(t, h, http.MethodPost, "/hook"); code != 404 && code != 405 {
		t.Fatalf("POST /hook = %d", code)
	}
	if code, _ := do(t, h, http.MethodGet, "/status"); code != 404 {
		t.Fatalf("GET /status = %d", code)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server never listened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
	}
}
