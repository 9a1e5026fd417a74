package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/tg-ai-assistant/internal/keyboard"
	"github.com/tbourn/tg-ai-assistant/internal/llm"
)

// Cursor trails the growing text while a reply streams in.
const Cursor = " ▮"

// Reply is what the user finally received.
type Reply struct {
	Text      string
	MessageID int  // id of the last sent part
	Keyboard  bool // the last part carries a keyboard
}

// PresentOptions tunes a single Present call.
type PresentOptions struct {
	// Keyboard goes on the last part of the final message.
	Keyboard *keyboard.Markup
	// Finish, when set, turns the assembled text into the final text and
	// keyboard, replacing Keyboard.
	Finish func(full string) (string, *keyboard.Markup)
}

// Presenter renders replies into a chat: throttled progress edits on a
// loading message, then a clean final message.
type Presenter struct {
	Messenger       Messenger
	EditMinChars    int
	EditMinInterval time.Duration
	FinalPause      time.Duration
	PartPause       time.Duration // between parts of a long message
	Now             func() time.Time
	Sleep           func(context.Context, time.Duration)
}

func (p *Presenter) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Presenter) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	if p.Sleep != nil {
		p.Sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Present consumes src, editing loadingMsgID as text arrives. An edit is
// issued only for new text and only once EditMinChars runes have arrived
// or EditMinInterval has passed since the previous edit. On success the
// loading message is replaced by the final message. On failure the loading
// message shows an error and the source error is returned; nothing is
// retried here.
func (p *Presenter) Present(ctx context.Context, chatID int64, loadingMsgID int, src Source, opts PresentOptions) (Reply, error) {
	tr := otel.Tracer("services/Presenter")
	ctx, span := tr.Start(ctx, "Present", trace.WithAttributes(
		attribute.Int64("chat.id", chatID),
		attribute.Int("message.id", loadingMsgID),
	))
	defer span.End()

	var (
		buf       strings.Builder
		shown     int // runes visible in the last edit
		lastEdit  = p.now()
		total     int
		editCount int
	)
	emit := func(delta string) {
		if delta == "" {
			return
		}
		buf.WriteString(delta)
		total += utf8.RuneCountInString(delta)
		grown := total - shown
		if grown <= 0 {
			return
		}
		if grown < p.EditMinChars && p.now().Sub(lastEdit) < p.EditMinInterval {
			return
		}
		preview := tail(buf.String(), MaxMessageRunes-utf8.RuneCountInString(Cursor))
		if err := p.Messenger.Edit(ctx, chatID, loadingMsgID, preview+Cursor, SendOptions{}); err != nil {
			presenterEdits.WithLabelValues("error").Inc()
			log.Debug().Err(err).Int64("chat_id", chatID).Msg("progress edit failed")
		} else {
			presenterEdits.WithLabelValues("ok").Inc()
		}
		shown = total
		lastEdit = p.now()
		editCount++
	}

	if err := src(ctx, emit); err != nil {
		span.RecordError(err)
		text := TextFetchFailed
		if llm.IsRateLimited(err) {
			text = TextUpstreamBusy
		}
		if eerr := p.Messenger.Edit(ctx, chatID, loadingMsgID, text, SendOptions{}); eerr != nil {
			log.Debug().Err(eerr).Int64("chat_id", chatID).Msg("failure edit failed")
		}
		return Reply{}, err
	}
	span.SetAttributes(attribute.Int("presenter.edits", editCount))

	text, kb := buf.String(), opts.Keyboard
	if opts.Finish != nil {
		text, kb = opts.Finish(text)
	}
	if strings.TrimSpace(text) == "" {
		if err := p.Messenger.Edit(ctx, chatID, loadingMsgID, TextFetchFailed, SendOptions{}); err != nil {
			log.Debug().Err(err).Int64("chat_id", chatID).Msg("failure edit failed")
		}
		return Reply{}, ErrUpstream
	}

	if err := p.Messenger.Edit(ctx, chatID, loadingMsgID, Split(text, MaxMessageRunes)[0], SendOptions{}); err != nil {
		log.Debug().Err(err).Int64("chat_id", chatID).Msg("final edit failed")
	}
	p.sleep(ctx, p.FinalPause)
	return p.Deliver(ctx, chatID, loadingMsgID, text, kb)
}

// Deliver replaces the loading message with the final Markdown text. Long
// text is split; kb goes on the last part.
func (p *Presenter) Deliver(ctx context.Context, chatID int64, loadingMsgID int, text string, kb *keyboard.Markup) (Reply, error) {
	if loadingMsgID != 0 {
		if err := p.Messenger.Delete(ctx, chatID, loadingMsgID); err != nil {
			log.Debug().Err(err).Int64("chat_id", chatID).Msg("delete loading message failed")
		}
	}
	id, err := p.SendLong(ctx, chatID, text, kb)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: text, MessageID: id, Keyboard: !kb.Empty()}, nil
}

// SendLong sends text in parts of at most MaxMessageRunes runes and returns
// the id of the last part.
func (p *Presenter) SendLong(ctx context.Context, chatID int64, text string, kb *keyboard.Markup) (int, error) {
	parts := Split(text, MaxMessageRunes)
	last := 0
	for i, part := range parts {
		opts := SendOptions{ParseMode: ParseMarkdown}
		if i == len(parts)-1 {
			opts.Keyboard = kb
		}
		if i > 0 {
			p.sleep(ctx, p.PartPause)
		}
		id, err := p.Messenger.Send(ctx, chatID, part, opts)
		if err != nil {
			return last, err
		}
		last = id
	}
	return last, nil
}

// tail keeps the last n runes of s.
func tail(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}
