package services

import (
	"context"

	"github.com/tbourn/tg-ai-assistant/internal/keyboard"
	"github.com/tbourn/tg-ai-assistant/internal/session"
)

// Parse modes understood by the messenger.
const (
	ParseNone     = ""
	ParseMarkdown = "Markdown"
	ParseHTML     = "HTML"
)

// SendOptions tunes a send or edit. A nil Keyboard on edit removes any
// inline keyboard.
type SendOptions struct {
	ParseMode string
	Keyboard  *keyboard.Markup
	ReplyTo   int
	Silent    bool
}

// Messenger is the chat platform as the services see it.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error)
	Edit(ctx context.Context, chatID int64, msgID int, text string, opts SendOptions) error
	EditMarkup(ctx context.Context, chatID int64, msgID int, kb *keyboard.Markup) error
	Delete(ctx context.Context, chatID int64, msgID int) error
	Typing(ctx context.Context, chatID int64) error
	Pin(ctx context.Context, chatID int64, msgID int) error
	Download(ctx context.Context, fileID string) ([]byte, error)
	SendPhoto(ctx context.Context, chatID int64, name string, data []byte, caption string) error
	SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error
}

// Sessions is the in-memory state the services rely on; *session.Store
// implements it.
type Sessions interface {
	Append(chatID int64, role session.Role, content string)
	History(chatID int64) []session.Turn
	ClearHistory(chatID int64)

	StoreFailed(chatID, userID int64, prompt, originalText string, errorMessageID int)
	Failed(chatID int64) (session.FailedRequest, bool)
	UpdateFailed(chatID int64, fn func(*session.FailedRequest)) bool
	DropFailed(chatID int64)
	ClearFailedIf(chatID int64, gen uint64) bool

	TryAcquire(chatID int64) bool
	Release(chatID int64)

	SetExpansion(chatID int64, text string)
	Expansion(chatID int64) (string, bool)
	SwapButtonMessage(chatID int64, msgID int) int
	Forget(chatID int64)
}

var _ Sessions = (*session.Store)(nil)

// Runner schedules named background work; *tasks.Supervisor implements it.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error)
}
