package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
	"github.com/tbourn/tg-ai-assistant/internal/keyboard"
	"github.com/tbourn/tg-ai-assistant/internal/services"
)

// Options configures a Bot.
type Options struct {
	Client *Client
	Chat   *services.ChatService
	Admin  *services.AdminService
	Users  *services.UserService
	Tasks  services.Runner

	Workers   int     // concurrent update handlers (default 16)
	UserRPS   float64 // per-user message rate; <= 0 disables limiting
	UserBurst int
}

// Bot routes updates to the services.
type Bot struct {
	client *Client
	chat   *services.ChatService
	admin  *services.AdminService
	users  *services.UserService
	tasks  services.Runner

	workers   int
	userRPS   float64
	userBurst int

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter

	states *adminStates
}

// New builds a Bot.
func New(o Options) *Bot {
	if o.Workers <= 0 {
		o.Workers = 16
	}
	if o.UserBurst <= 0 {
		o.UserBurst = 5
	}
	return &Bot{
		client:    o.Client,
		chat:      o.Chat,
		admin:     o.Admin,
		users:     o.Users,
		tasks:     o.Tasks,
		workers:   o.Workers,
		userRPS:   o.UserRPS,
		userBurst: o.UserBurst,
		limiters:  make(map[int64]*rate.Limiter),
		states:    newAdminStates(),
	}
}

// Run handles updates until ctx is done or the channel closes, then waits
// for running handlers.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	log.Info().Int("workers", b.workers).Msg("bot is running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				defer func() { <-sem }()
				b.safeHandle(ctx, u)
			}(u)
		}
	}
}

func (b *Bot) safeHandle(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Int("update_id", u.UpdateID).
				Msg("update handler panicked")
		}
	}()
	b.HandleUpdate(ctx, u)
}

// HandleUpdate dispatches one update.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	}
}

// allow applies the per-user token bucket.
func (b *Bot) allow(userID int64) bool {
	if b.userRPS <= 0 {
		return true
	}
	b.mu.Lock()
	l, ok := b.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(b.userRPS), b.userBurst)
		b.limiters[userID] = l
	}
	b.mu.Unlock()
	return l.Allow()
}

// PruneLimiters drops limiters whose bucket has refilled; those users are
// idle and a fresh limiter behaves the same. It returns how many were
// dropped.
func (b *Bot) PruneLimiters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	now := time.Now()
	for id, l := range b.limiters {
		if l.TokensAt(now) >= float64(b.userBurst) {
			delete(b.limiters, id)
			n++
		}
	}
	return n
}

func profileOf(u *tgbotapi.User) services.Profile {
	return services.Profile{ID: u.ID, Username: u.UserName, FirstName: u.FirstName}
}

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}
	from := profileOf(m.From)
	chatID := m.Chat.ID
	l := log.With().Int64("chat_id", chatID).Int64("user_id", from.ID).Logger()

	if !b.allow(from.ID) {
		b.reply(ctx, chatID, services.TextTooFast, services.ParseNone)
		return
	}

	if m.IsCommand() {
		b.handleCommand(ctx, m, from)
		return
	}

	switch {
	case m.Voice != nil || m.Audio != nil || m.VideoNote != nil:
		b.reply(ctx, chatID, services.TextVoice, services.ParseNone)
		return
	case len(m.Photo) > 0:
		largest := m.Photo[len(m.Photo)-1]
		in := services.Incoming{ChatID: chatID, MessageID: m.MessageID, From: from, Text: m.Caption}
		if err := b.chat.HandlePhoto(ctx, in, largest.FileID); err != nil {
			l.Error().Err(err).Msg("photo handling failed")
		}
		return
	case m.Text == "":
		return
	}

	if b.handleAdmin(ctx, chatID, from, m.Text) {
		return
	}

	in := services.Incoming{ChatID: chatID, MessageID: m.MessageID, From: from, Text: m.Text}
	err := b.chat.HandleText(ctx, in)
	switch {
	case err == nil, errors.Is(err, services.ErrEmptyPrompt), errors.Is(err, services.ErrTooLong):
	default:
		l.Error().Err(err).Msg("text handling failed")
	}
}

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message, from services.Profile) {
	chatID := m.Chat.ID
	switch m.Command() {
	case "start":
		b.tasks.Go("track_start", func(ctx context.Context) error {
			return b.users.Touch(ctx, from, domain.ActivityStart, "")
		})
		b.states.clear(from.ID)
		admin, _, err := b.users.Role(ctx, from.ID)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", from.ID).Msg("role lookup failed")
		}
		if admin {
			if err := b.client.SendReplyKeyboard(ctx, chatID, services.TextAdminWelcome, adminKeyboard); err != nil {
				log.Warn().Err(err).Int64("chat_id", chatID).Msg("admin keyboard failed")
			}
			return
		}
		b.reply(ctx, chatID, services.TextWelcome, services.ParseHTML)
	case "clear":
		if err := b.chat.Clear(ctx, chatID); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("clear failed")
		}
	case "cancel":
		b.states.clear(from.ID)
		b.reply(ctx, chatID, textCancelled, services.ParseNone)
	default:
		b.reply(ctx, chatID, services.TextHelp, services.ParseHTML)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	a, err := keyboard.Parse(cq.Data)
	if err != nil || cq.Message == nil || cq.Message.Chat == nil || cq.From == nil || a.ChatID != cq.Message.Chat.ID {
		b.client.AnswerCallback(cq.ID, services.TextInvalidRequest, true)
		return
	}
	from := profileOf(cq.From)
	msgID := cq.Message.MessageID
	t := services.Trigger{ChatID: a.ChatID, UserID: from.ID}

	var r services.CallbackReply
	switch a.Kind {
	case keyboard.KindRetry:
		b.retry(ctx, cq.ID, t, from, msgID)
		return
	case keyboard.KindExpand:
		r = b.chat.Expand(ctx, t, from, msgID)
	case keyboard.KindResendPhoto:
		r = b.chat.ResendPhoto(ctx, t)
	case keyboard.KindReport:
		r = b.chat.Report(ctx, t, from)
	default:
		r = services.CallbackReply{Text: services.TextInvalidRequest, Alert: true}
	}
	b.client.AnswerCallback(cq.ID, r.Text, r.Alert)
}

// retry answers the callback as soon as the tap is accepted, so the button
// stops spinning while automatic attempts run.
func (b *Bot) retry(ctx context.Context, callbackID string, t services.Trigger, from services.Profile, msgID int) {
	answered := false
	t.Accepted = func() {
		answered = true
		b.client.AnswerCallback(callbackID, "", false)
	}
	res := b.chat.Retry(ctx, t, from)
	log.Info().
		Int64("chat_id", t.ChatID).
		Int64("user_id", t.UserID).
		Str("outcome", res.Outcome.String()).
		AnErr("reason", res.Reason).
		Msg("retry")
	if answered {
		return
	}
	if errors.Is(res.Reason, services.ErrNoRecord) {
		// Stale button, e.g. after a restart: turn it into a plain notice.
		if err := b.client.Edit(ctx, t.ChatID, msgID, res.Notice, services.SendOptions{}); err != nil {
			log.Debug().Err(err).Msg("stale retry edit failed")
		}
		b.client.AnswerCallback(callbackID, "", false)
		return
	}
	b.client.AnswerCallback(callbackID, res.Notice, true)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text, mode string) {
	if _, err := b.client.Send(ctx, chatID, text, services.SendOptions{ParseMode: mode}); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("reply failed")
	}
}
