package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/tg-ai-assistant/internal/llm"
	"github.com/tbourn/tg-ai-assistant/internal/session"
)

// Completer is the completion API; *llm.Client implements it.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
	Stream(ctx context.Context, msgs []llm.Message, onDelta func(string)) error
}

// HistoryReader exposes a chat's recent turns.
type HistoryReader interface {
	History(chatID int64) []session.Turn
}

// ReplyFetcher produces replies for a prompt in a chat's context.
type ReplyFetcher interface {
	Fetch(ctx context.Context, chatID int64, prompt string) (string, error)
}

// Source yields reply text increments through emit until it returns.
type Source func(ctx context.Context, emit func(string)) error

// Fetcher builds the upstream conversation and calls the completion API.
// It has no side effects on history.
type Fetcher struct {
	LLM          Completer
	History      HistoryReader
	SystemPrompt string
	Window       int           // history turns sent upstream
	Timeout      time.Duration // per call
	Location     *time.Location
	Now          func() time.Time
}

// Messages lays out the upstream conversation: system prompt, current
// local date, windowed history, optional role instruction, then the prompt.
func (f *Fetcher) Messages(chatID int64, prompt string) []llm.Message {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now().In(loc)

	msgs := []llm.Message{
		{Role: string(session.RoleSystem), Content: f.SystemPrompt},
		{Role: string(session.RoleSystem), Content: fmt.Sprintf(
			"Bugungi sana (Toshkent): %s; Haftaning kuni: %s; Vaqt: %s.",
			local.Format("2006-01-02"), local.Weekday(), local.Format("15:04"))},
	}
	if f.History != nil && f.Window > 0 {
		h := f.History.History(chatID)
		if len(h) > f.Window {
			h = h[len(h)-f.Window:]
		}
		for _, t := range h {
			msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
		}
	}
	if instr := DetectRole(prompt).Instruction(); instr != "" {
		msgs = append(msgs, llm.Message{Role: string(session.RoleSystem), Content: "ROLE_INSTRUCTION: " + instr})
	}
	return append(msgs, llm.Message{Role: string(session.RoleUser), Content: prompt})
}

// Fetch returns the cleaned reply. Deadline overruns map to
// ErrUpstreamTimeout; every other failure wraps ErrUpstream and keeps the
// cause (e.g. *llm.APIError) reachable through errors.As.
func (f *Fetcher) Fetch(ctx context.Context, chatID int64, prompt string) (string, error) {
	tr := otel.Tracer("services/Fetcher")
	ctx, span := tr.Start(ctx, "Fetch", trace.WithAttributes(attribute.Int64("chat.id", chatID)))
	defer span.End()

	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	out, err := f.LLM.Complete(ctx, f.Messages(chatID, prompt))
	if err != nil {
		span.RecordError(err)
		return "", classify(ctx, err)
	}
	out = Clean(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty reply", ErrUpstream)
	}
	return out, nil
}

// Stream is the streaming variant of Fetch. Increments are raw model output;
// callers clean the assembled text.
func (f *Fetcher) Stream(chatID int64, prompt string) Source {
	return func(ctx context.Context, emit func(string)) error {
		tr := otel.Tracer("services/Fetcher")
		ctx, span := tr.Start(ctx, "Stream", trace.WithAttributes(attribute.Int64("chat.id", chatID)))
		defer span.End()

		if strings.TrimSpace(prompt) == "" {
			return ErrEmptyPrompt
		}
		ctx, cancel := f.withTimeout(ctx)
		defer cancel()

		got := false
		err := f.LLM.Stream(ctx, f.Messages(chatID, prompt), func(d string) {
			got = true
			emit(d)
		})
		if err != nil {
			span.RecordError(err)
			return classify(ctx, err)
		}
		if !got {
			return fmt.Errorf("%w: empty reply", ErrUpstream)
		}
		return nil
	}
}

func (f *Fetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.Timeout)
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// Chunked replays finished text in fixed-size rune chunks.
func Chunked(text string, size int) Source {
	return func(ctx context.Context, emit func(string)) error {
		if size <= 0 {
			size = 200
		}
		r := []rune(text)
		for len(r) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := min(size, len(r))
			emit(string(r[:n]))
			r = r[n:]
		}
		return nil
	}
}
