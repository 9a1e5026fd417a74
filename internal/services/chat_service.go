// Package services – ChatService
//
// ChatService answers user messages: text goes to the knowledge base or the
// completion API, photos go through OCR first. Replies are rendered by the
// Presenter; failures are handed to the Orchestrator so the user gets a
// retry button. Bookkeeping (user upsert, activity, daily pin) runs on the
// background Runner and never delays the reply.
package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
	"github.com/tbourn/tg-ai-assistant/internal/keyboard"
	"github.com/tbourn/tg-ai-assistant/internal/repo"
	"github.com/tbourn/tg-ai-assistant/internal/session"
)

// StreamingFetcher is a ReplyFetcher that can also stream.
type StreamingFetcher interface {
	ReplyFetcher
	Stream(chatID int64, prompt string) Source
}

// ImageReader extracts text from an image; *ocr.Client implements it.
type ImageReader interface {
	Extract(ctx context.Context, image []byte) string
}

// Answerer returns canned answers; *search.Knowledge implements it.
type Answerer interface {
	Answer(text string) (string, bool)
}

// Incoming is one user message.
type Incoming struct {
	ChatID    int64
	MessageID int
	From      Profile
	Text      string
}

// CallbackReply is the toast or alert shown for a button press.
type CallbackReply struct {
	Text  string
	Alert bool
}

// ChatService handles user conversations.
type ChatService struct {
	DB           *gorm.DB
	Sessions     Sessions
	Fetcher      StreamingFetcher
	Knowledge    Answerer
	OCR          ImageReader
	Messenger    Messenger
	Presenter    *Presenter
	Orchestrator *Orchestrator
	Users        *UserService
	Tasks        Runner

	MaxPromptRunes int
	Streaming      bool // real token streaming
	Synthetic      bool // chunked replay of finished replies
	ChunkSize      int
}

// HandleText answers a text message.
func (s *ChatService) HandleText(ctx context.Context, in Incoming) error {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "HandleText", trace.WithAttributes(
		attribute.Int64("chat.id", in.ChatID),
		attribute.Int64("user.id", in.From.ID),
	))
	defer span.End()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(text) > s.MaxPromptRunes {
		s.notify(ctx, in.ChatID, TextTooLong)
		return ErrTooLong
	}

	s.track(in, domain.ActivityText, text)
	s.removeButton(ctx, in.ChatID)

	loadingID, err := s.Messenger.Send(ctx, in.ChatID, TextAnalyzing, SendOptions{})
	if err != nil {
		return err
	}
	logDropped("typing", in.ChatID, s.Messenger.Typing(ctx, in.ChatID))

	prompt := ConciseInstruction + "\n\n" + text
	if err := s.answer(ctx, in.ChatID, text, prompt, loadingID); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Int64("chat_id", in.ChatID).Msg("text reply failed")
		return s.Orchestrator.RecordFailure(ctx, Failure{
			ChatID:       in.ChatID,
			UserID:       in.From.ID,
			Prompt:       prompt,
			OriginalText: text,
			MessageID:    loadingID,
		})
	}
	return nil
}

// HandlePhoto reads the text on a photo and answers it like a text message.
func (s *ChatService) HandlePhoto(ctx context.Context, in Incoming, fileID string) error {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "HandlePhoto", trace.WithAttributes(
		attribute.Int64("chat.id", in.ChatID),
		attribute.Int64("user.id", in.From.ID),
	))
	defer span.End()

	s.track(in, domain.ActivityPhoto, strings.TrimSpace(in.Text))
	s.removeButton(ctx, in.ChatID)

	loadingID, err := s.Messenger.Send(ctx, in.ChatID, TextAnalyzingPhoto, SendOptions{})
	if err != nil {
		return err
	}
	logDropped("typing", in.ChatID, s.Messenger.Typing(ctx, in.ChatID))

	fail := func(prompt, original string, cause error) error {
		span.RecordError(cause)
		log.Error().Err(cause).Int64("chat_id", in.ChatID).Msg("photo reply failed")
		return s.Orchestrator.RecordFailure(ctx, Failure{
			ChatID:       in.ChatID,
			UserID:       in.From.ID,
			Prompt:       prompt,
			OriginalText: original,
			MessageID:    loadingID,
			Reason:       TextPhotoFailed,
		})
	}

	img, err := s.Messenger.Download(ctx, fileID)
	if err != nil {
		return fail(ConciseInstruction, "", err)
	}
	text := ""
	if s.OCR != nil {
		text = s.OCR.Extract(ctx, img)
	}
	if meaningfulRunes(text) < 3 {
		logDropped("delete", in.ChatID, s.Messenger.Delete(ctx, in.ChatID, loadingID))
		_, err := s.Messenger.Send(ctx, in.ChatID, TextNoTextInPhoto, SendOptions{Keyboard: keyboard.ResendPhoto(in.ChatID)})
		return err
	}

	prompt := ConciseInstruction + "\n\n" + text
	if err := s.answer(ctx, in.ChatID, text, prompt, loadingID); err != nil {
		return fail(prompt, text, err)
	}
	return nil
}

// answer resolves and delivers the reply to question, then records the
// exchange in history.
func (s *ChatService) answer(ctx context.Context, chatID int64, question, prompt string, loadingID int) error {
	s.Sessions.SetExpansion(chatID, question)

	finish := func(full string) (string, *keyboard.Markup) {
		text, hide := StripNoButton(Clean(full))
		if hide {
			return text, nil
		}
		return text, keyboard.Expand(chatID)
	}

	var (
		reply  Reply
		err    error
		source string
	)
	if canned, ok := s.canned(question); ok {
		source = "knowledge"
		text, kb := finish(canned)
		reply, err = s.Presenter.Deliver(ctx, chatID, loadingID, text, kb)
	} else if s.Streaming {
		source = "stream"
		reply, err = s.Presenter.Present(ctx, chatID, loadingID, s.Fetcher.Stream(chatID, prompt), PresentOptions{Finish: finish})
	} else {
		source = "fetch"
		var full string
		full, err = s.Fetcher.Fetch(ctx, chatID, prompt)
		if err == nil && s.Synthetic {
			reply, err = s.Presenter.Present(ctx, chatID, loadingID, Chunked(full, s.ChunkSize), PresentOptions{Finish: finish})
		} else if err == nil {
			text, kb := finish(full)
			reply, err = s.Presenter.Deliver(ctx, chatID, loadingID, text, kb)
		}
	}
	if err != nil {
		return err
	}
	replySources.WithLabelValues(source).Inc()

	s.Sessions.Append(chatID, session.RoleUser, question)
	s.Sessions.Append(chatID, session.RoleAssistant, reply.Text)
	if reply.Keyboard {
		s.Sessions.SwapButtonMessage(chatID, reply.MessageID)
	}
	s.Sessions.DropFailed(chatID)
	return nil
}

func (s *ChatService) canned(question string) (string, bool) {
	if s.Knowledge == nil {
		return "", false
	}
	return s.Knowledge.Answer(question)
}

// Expand answers the remembered question in full. msgID is the message the
// button was on.
func (s *ChatService) Expand(ctx context.Context, t Trigger, from Profile, msgID int) CallbackReply {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Expand", trace.WithAttributes(attribute.Int64("chat.id", t.ChatID)))
	defer span.End()

	logDropped("editmarkup", t.ChatID, s.Messenger.EditMarkup(ctx, t.ChatID, msgID, nil))
	s.Sessions.SwapButtonMessage(t.ChatID, 0)

	question, ok := s.Sessions.Expansion(t.ChatID)
	if !ok {
		return CallbackReply{Text: TextExpansionGone, Alert: true}
	}
	s.track(Incoming{ChatID: t.ChatID, From: from}, domain.ActivityExpand, "")

	loadingID, err := s.Messenger.Send(ctx, t.ChatID, TextExpanding, SendOptions{ReplyTo: msgID})
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", t.ChatID).Msg("expand loading message failed")
	}
	logDropped("typing", t.ChatID, s.Messenger.Typing(ctx, t.ChatID))

	full, err := s.Fetcher.Fetch(ctx, t.ChatID, ExpandPrefix+question)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Int64("chat_id", t.ChatID).Msg("expand failed")
		if loadingID != 0 {
			logDropped("delete", t.ChatID, s.Messenger.Delete(ctx, t.ChatID, loadingID))
		}
		s.notify(ctx, t.ChatID, TextExpandFailed)
		return CallbackReply{}
	}
	text, _ := StripNoButton(full)
	s.Sessions.Append(t.ChatID, session.RoleAssistant, text)
	if _, err := s.Presenter.Deliver(ctx, t.ChatID, loadingID, text, nil); err != nil {
		log.Error().Err(err).Int64("chat_id", t.ChatID).Msg("expand delivery failed")
	}
	return CallbackReply{}
}

// Retry runs the retry flow for a tap on the retry button.
func (s *ChatService) Retry(ctx context.Context, t Trigger, from Profile) Result {
	s.track(Incoming{ChatID: t.ChatID, From: from}, domain.ActivityRetry, "")
	return s.Orchestrator.Retry(ctx, t)
}

// ResendPhoto asks the user for another photo.
func (s *ChatService) ResendPhoto(ctx context.Context, t Trigger) CallbackReply {
	s.notify(ctx, t.ChatID, TextSendPhoto)
	return CallbackReply{}
}

// Report files a report about the chat's failed request and forwards it to
// every admin in the background.
func (s *ChatService) Report(ctx context.Context, t Trigger, from Profile) CallbackReply {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Report", trace.WithAttributes(attribute.Int64("chat.id", t.ChatID)))
	defer span.End()

	prompt := ""
	if fr, ok := s.Sessions.Failed(t.ChatID); ok {
		prompt = fr.OriginalText
		if prompt == "" {
			prompt = fr.Prompt
		}
	} else if q, ok := s.Sessions.Expansion(t.ChatID); ok {
		prompt = q
	}

	r, err := repo.CreateReport(ctx, s.DB, t.ChatID, from.ID, prompt)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Int64("chat_id", t.ChatID).Msg("create report failed")
		return CallbackReply{Text: TextReportFailed, Alert: true}
	}
	s.track(Incoming{ChatID: t.ChatID, From: from}, domain.ActivityReport, prompt)

	msg := reportText(from, t.ChatID, prompt)
	s.Tasks.Go("forward_report", func(ctx context.Context) error {
		ids, err := repo.ListAdminIDs(ctx, s.DB)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := s.Messenger.Send(ctx, id, msg, SendOptions{ParseMode: ParseHTML}); err != nil {
				log.Warn().Err(err).Int64("admin_id", id).Str("report_id", r.ID).Msg("forward report failed")
			}
		}
		return nil
	})
	return CallbackReply{Text: TextReportSent}
}

// Clear forgets the chat's history, failed request and expansion text.
func (s *ChatService) Clear(ctx context.Context, chatID int64) error {
	s.removeButton(ctx, chatID)
	s.Sessions.Forget(chatID)
	_, err := s.Messenger.Send(ctx, chatID, TextCleared, SendOptions{})
	return err
}

// track schedules the user upsert, activity row and, for real messages,
// the daily pin. The pin needs the user row, so both run in one task.
func (s *ChatService) track(in Incoming, kind, content string) {
	if s.Users == nil || s.Tasks == nil {
		return
	}
	s.Tasks.Go("track_"+kind, func(ctx context.Context) error {
		if err := s.Users.Touch(ctx, in.From, kind, content); err != nil {
			return err
		}
		if in.MessageID == 0 {
			return nil
		}
		_, err := s.Users.DailyPin(ctx, in.From.ID, in.ChatID, in.MessageID)
		return err
	})
}

func (s *ChatService) removeButton(ctx context.Context, chatID int64) {
	if prev := s.Sessions.SwapButtonMessage(chatID, 0); prev != 0 {
		if err := s.Messenger.EditMarkup(ctx, chatID, prev, nil); err != nil {
			log.Debug().Err(err).Int64("chat_id", chatID).Msg("remove previous button failed")
		}
	}
}

func reportText(from Profile, chatID int64, prompt string) string {
	var b strings.Builder
	b.WriteString("🚨 <b>Foydalanuvchi xabari</b>\n\n")
	fmt.Fprintf(&b, "👤 %s\n🆔 <code>%d</code>\n💬 Chat: <code>%d</code>\n", html.EscapeString(displayName(from)), from.ID, chatID)
	if prompt != "" {
		fmt.Fprintf(&b, "\n❓ So'rov:\n%s", html.EscapeString(truncateRunes(prompt, 1500)))
	}
	return b.String()
}

func displayName(p Profile) string {
	if p.Username != "" {
		return "@" + strings.TrimPrefix(p.Username, "@")
	}
	if p.FirstName != "" {
		return p.FirstName
	}
	return "—"
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}

// notify sends a plain notice; a failed send is only logged.
func (s *ChatService) notify(ctx context.Context, chatID int64, text string) {
	if _, err := s.Messenger.Send(ctx, chatID, text, SendOptions{}); err != nil {
		logDropped("send", chatID, err)
	}
}

func logDropped(op string, chatID int64, err error) {
	if err != nil {
		log.Debug().Err(err).Str("op", op).Int64("chat_id", chatID).Msg("telegram call failed")
	}
}
