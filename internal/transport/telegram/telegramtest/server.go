// Package telegramtest provides an in-process Bot API server for tests.
//
// It answers getMe, getUpdates, setWebhook, setMyCommands and sendMessage well
// enough for telebot, records what the bot sent, and can be told to reject the
// webhook registration.
package telegramtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Sent is a message the bot sent through sendMessage.
type Sent struct {
	ChatID    int64
	Text      string
	ParseMode string
}

type Server struct {
	URL string

	srv     *httptest.Server
	updates chan string
	sent    chan Sent

	mu            sync.Mutex
	calls         map[string]int
	webhookErr    string
	webhookURL    string
	webhookSecret string
	nextMsgID     int
}

// NewServer starts a server that is closed when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		updates: make(chan string, 16),
		sent:    make(chan Sent, 16),
		calls:   make(map[string]int),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	s.URL = s.srv.URL
	tb.Cleanup(s.srv.Close)
	return s
}

// FailSetWebhook makes setWebhook answer 400 with description.
func (s *Server) FailSetWebhook(description string) {
	s.mu.Lock()
	s.webhookErr = description
	s.mu.Unlock()
}

// Calls reports how many times method was requested.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Webhook returns the url and secret of the last successful setWebhook.
func (s *Server) Webhook() (url, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webhookURL, s.webhookSecret
}

// PushUpdate queues a raw update JSON for the next getUpdates call.
func (s *Server) PushUpdate(raw string) { s.updates <- raw }

// WaitSent returns the next sent message or fails the test after timeout.
func (s *Server) WaitSent(tb testing.TB, timeout time.Duration) Sent {
	tb.Helper()
	select {
	case m := <-s.sent:
		return m
	case <-time.After(timeout):
		tb.Fatalf("no message sent within %s", timeout)
		return Sent{}
	}
}

// CommandUpdate builds a private-chat text update.
func CommandUpdate(updateID int, chatID int64, text string) string {
	b, _ := json.Marshal(map[string]any{
		"update_id": updateID,
		"message": map[string]any{
			"message_id": updateID,
			"date":       time.Now().Unix(),
			"text":       text,
			"chat":       map[string]any{"id": chatID, "type": "private"},
			"from":       map[string]any{"id": chatID, "is_bot": false, "first_name": "Test", "username": "tester"},
		},
	})
	return string(b)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	params := map[string]any{}
	_ = json.NewDecoder(r.Body).Decode(&params)

	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()

	switch method {
	case "getMe":
		writeOK(w, `{"id":1,"is_bot":true,"first_name":"Contest","username":"contest_test_bot"}`)
	case "getUpdates":
		select {
		case u := <-s.updates:
			writeOK(w, "["+u+"]")
		case <-time.After(50 * time.Millisecond):
			writeOK(w, "[]")
		case <-r.Context().Done():
		}
	case "setWebhook":
		s.mu.Lock()
		desc := s.webhookErr
		if desc == "" {
			s.webhookURL = str(params["url"])
			s.webhookSecret = str(params["secret_token"])
		}
		s.mu.Unlock()
		if desc != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": desc})
			return
		}
		writeOK(w, "true")
	case "sendMessage":
		chatID, _ := strconv.ParseInt(str(params["chat_id"]), 10, 64)
		m := Sent{ChatID: chatID, Text: str(params["text"]), ParseMode: str(params["parse_mode"])}
		s.mu.Lock()
		s.nextMsgID++
		id := s.nextMsgID
		s.mu.Unlock()
		select {
		case s.sent <- m:
		default:
		}
		msg, _ := json.Marshal(map[string]any{
			"message_id": id,
			"date":       time.Now().Unix(),
			"text":       m.Text,
			"chat":       map[string]any{"id": chatID, "type": "private"},
		})
		writeOK(w, string(msg))
	default:
		writeOK(w, "true")
	}
}

func writeOK(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"ok":true,"result":%s}`, result)
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatInt(int64(x), 10)
	default:
		return fmt.Sprint(x)
	}
}
