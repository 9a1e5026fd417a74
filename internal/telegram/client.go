// Package telegram connects the services to the Telegram Bot API: Client
// implements services.Messenger over tgbotapi, Bot routes updates to the
// chat and admin services.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/tg-ai-assistant/internal/keyboard"
	"github.com/tbourn/tg-ai-assistant/internal/services"
)

// API is the subset of *tgbotapi.BotAPI the client needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

var apiCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telegram_api_calls_total",
		Help: "Telegram Bot API calls by method and outcome.",
	},
	[]string{"method", "outcome"},
)

func init() {
	prometheus.MustRegister(apiCalls)
}

// maxDownload caps photo downloads; Telegram bots cannot fetch more anyway.
const maxDownload = 20 << 20

// Client implements services.Messenger.
type Client struct {
	API        API
	HTTPClient *http.Client // file downloads
}

var _ services.Messenger = (*Client)(nil)

// NewClient wraps api.
func NewClient(api API) *Client {
	return &Client{API: api, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func observe(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	apiCalls.WithLabelValues(method, outcome).Inc()
}

// isParseError reports Telegram's rejection of malformed Markdown/HTML.
func isParseError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "can't parse entities")
}

// isNotModified reports an edit that would not change the message.
func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// Send sends text. When Telegram cannot parse the formatting the message is
// re-sent as plain text.
func (c *Client) Send(ctx context.Context, chatID int64, text string, opts services.SendOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = opts.ParseMode
	msg.ReplyToMessageID = opts.ReplyTo
	msg.DisableNotification = opts.Silent
	msg.DisableWebPagePreview = true
	if m := inlineMarkup(opts.Keyboard); m != nil {
		msg.ReplyMarkup = *m
	}

	sent, err := c.API.Send(msg)
	if isParseError(err) && msg.ParseMode != "" {
		log.Debug().Err(err).Int64("chat_id", chatID).Msg("formatting rejected; sending plain text")
		msg.ParseMode = ""
		sent, err = c.API.Send(msg)
	}
	observe("sendMessage", err)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendReplyKeyboard sends text with a persistent reply keyboard (HTML).
func (c *Client) SendReplyKeyboard(ctx context.Context, chatID int64, text string, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	kb := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, r := range rows {
		row := make([]tgbotapi.KeyboardButton, 0, len(r))
		for _, label := range r {
			row = append(row, tgbotapi.NewKeyboardButton(label))
		}
		kb = append(kb, row)
	}
	markup := tgbotapi.NewReplyKeyboard(kb...)
	markup.ResizeKeyboard = true
	msg.ReplyMarkup = markup
	_, err := c.API.Send(msg)
	observe("sendMessage", err)
	return err
}

// Edit replaces a message's text. A nil keyboard removes the inline
// keyboard. "Not modified" is not an error.
func (c *Client) Edit(ctx context.Context, chatID int64, msgID int, text string, opts services.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.ParseMode = opts.ParseMode
	edit.DisableWebPagePreview = true
	edit.ReplyMarkup = inlineMarkup(opts.Keyboard)

	_, err := c.API.Send(edit)
	if isParseError(err) && edit.ParseMode != "" {
		edit.ParseMode = ""
		_, err = c.API.Send(edit)
	}
	if isNotModified(err) {
		err = nil
	}
	observe("editMessageText", err)
	return err
}

// EditMarkup swaps a message's inline keyboard; nil removes it.
func (c *Client) EditMarkup(ctx context.Context, chatID int64, msgID int, kb *keyboard.Markup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	markup := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	if m := inlineMarkup(kb); m != nil {
		markup = *m
	}
	_, err := c.API.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, markup))
	if isNotModified(err) {
		err = nil
	}
	observe("editMessageReplyMarkup", err)
	return err
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, chatID int64, msgID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.API.Request(tgbotapi.NewDeleteMessage(chatID, msgID))
	observe("deleteMessage", err)
	return err
}

// Typing shows the "typing…" status.
func (c *Client) Typing(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.API.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	observe("sendChatAction", err)
	return err
}

// Pin pins a message without notifying the chat.
func (c *Client) Pin(ctx context.Context, chatID int64, msgID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.API.Request(tgbotapi.PinChatMessageConfig{
		ChatID:              chatID,
		MessageID:           msgID,
		DisableNotification: true,
	})
	observe("pinChatMessage", err)
	return err
}

// Download fetches a file's bytes.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := c.API.GetFileDirectURL(fileID)
	observe("getFile", err)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownload {
		return nil, errors.New("download file: too large")
	}
	return data, nil
}

// SendPhoto uploads an image.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	p.Caption = caption
	_, err := c.API.Send(p)
	observe("sendPhoto", err)
	return err
}

// SendDocument uploads a file.
func (c *Client) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	d.Caption = caption
	_, err := c.API.Send(d)
	observe("sendDocument", err)
	return err
}

// AnswerCallback stops the button spinner, optionally with a toast or alert.
func (c *Client) AnswerCallback(id, text string, alert bool) {
	cb := tgbotapi.NewCallback(id, text)
	cb.ShowAlert = alert
	_, err := c.API.Request(cb)
	observe("answerCallbackQuery", err)
	if err != nil {
		log.Debug().Err(err).Msg("answer callback failed")
	}
}

// inlineMarkup converts a keyboard; nil or empty input gives nil.
func inlineMarkup(m *keyboard.Markup) *tgbotapi.InlineKeyboardMarkup {
	if m.Empty() {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(m.Rows))
	for _, r := range m.Rows {
		if len(r) == 0 {
			continue
		}
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Action.String()))
		}
		rows = append(rows, row)
	}
	out := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &out
}
