// Package transport defines the chat-platform port used by the bot.
//
// Implementations live in subpackages (telegram). The reminder core only
// depends on Sender and on the ErrRecipientGone classification.
package transport

import (
	"context"
	"errors"
)

// ErrRecipientGone marks a permanent delivery failure: the chat blocked the bot,
// was deleted, or never started a conversation. Callers should drop the
// subscription instead of retrying.
var ErrRecipientGone = errors.New("recipient no longer reachable")

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

const ParseModeHTML = "HTML"

// Sender delivers text to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Message is an incoming command message.
type Message struct {
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// Payload is the text after the command token ("/settimezone Asia/Tokyo" -> "Asia/Tokyo").
	Payload string
}

// CommandFunc handles one command and returns an HTML reply ("" for no reply).
type CommandFunc func(ctx context.Context, m Message) string

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}
