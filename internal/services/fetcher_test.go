package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/tg-ai-assistant/internal/llm"
	"github.com/tbourn/tg-ai-assistant/internal/session"
)

type fakeCompleter struct {
	got    []llm.Message
	reply  string
	deltas []string
	err    error
	block  bool // wait for ctx cancellation
}

func (f *fakeCompleter) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	f.got = msgs
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeCompleter) Stream(ctx context.Context, msgs []llm.Message, onDelta func(string)) error {
	f.got = msgs
	for _, d := range f.deltas {
		onDelta(d)
	}
	return f.err
}

func newTestFetcher(c Completer, st *session.Store) *Fetcher {
	tashkent := time.FixedZone("UZT", 5*3600)
	return &Fetcher{
		LLM:          c,
		History:      st,
		SystemPrompt: "SYS",
		Window:       2,
		Location:     tashkent,
		Now:          func() time.Time { return time.Date(2025, 6, 10, 20, 30, 0, 0, time.UTC) },
	}
}

func TestFetcher_MessagesLayout(t *testing.T) {
	st := session.New(session.Options{})
	st.Append(1, session.RoleUser, "q1")
	st.Append(1, session.RoleAssistant, "a1")
	st.Append(1, session.RoleUser, "q2")
	st.Append(1, session.RoleAssistant, "a2")

	f := newTestFetcher(&fakeCompleter{}, st)
	msgs := f.Messages(1, "python kod yozing")

	if len(msgs) != 6 {
		t.Fatalf("want 6 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "system" || msgs[0].Content != "SYS" {
		t.Fatalf("system prompt first, got %+v", msgs[0])
	}
	// 20:30 UTC is 01:30 next day in Tashkent.
	if !strings.Contains(msgs[1].Content, "2025-06-11") || !strings.Contains(msgs[1].Content, "01:30") {
		t.Fatalf("date line uses local time: %q", msgs[1].Content)
	}
	if msgs[2].Content != "q2" || msgs[3].Content != "a2" {
		t.Fatalf("history window not applied: %+v", msgs[2:4])
	}
	if !strings.HasPrefix(msgs[4].Content, "ROLE_INSTRUCTION: ") {
		t.Fatalf("role instruction missing: %+v", msgs[4])
	}
	if msgs[5].Role != "user" || msgs[5].Content != "python kod yozing" {
		t.Fatalf("prompt last, got %+v", msgs[5])
	}
}

func TestFetcher_FetchCleansAndDoesNotTouchHistory(t *testing.T) {
	st := session.New(session.Options{})
	c := &fakeCompleter{reply: "## Javob\nMatn"}
	f := newTestFetcher(c, st)

	got, err := f.Fetch(context.Background(), 7, "salom")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != "Javob\nMatn" {
		t.Fatalf("Fetch = %q", got)
	}
	if h := st.History(7); len(h) != 0 {
		t.Fatalf("Fetch must not write history, got %d turns", len(h))
	}
}

func TestFetcher_Errors(t *testing.T) {
	st := session.New(session.Options{})

	if _, err := newTestFetcher(&fakeCompleter{}, st).Fetch(context.Background(), 1, "  "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("blank prompt: %v", err)
	}

	_, err := newTestFetcher(&fakeCompleter{reply: "   "}, st).Fetch(context.Background(), 1, "hi")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("empty reply: %v", err)
	}

	apiErr := &llm.APIError{Status: 429, Body: "slow down"}
	_, err = newTestFetcher(&fakeCompleter{err: apiErr}, st).Fetch(context.Background(), 1, "hi")
	if !errors.Is(err, ErrUpstream) || !llm.IsRateLimited(err) {
		t.Fatalf("api error should wrap ErrUpstream and keep cause: %v", err)
	}

	f := newTestFetcher(&fakeCompleter{block: true}, st)
	f.Timeout = 10 * time.Millisecond
	_, err = f.Fetch(context.Background(), 1, "hi")
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("deadline: %v", err)
	}
}

func TestFetcher_Stream(t *testing.T) {
	st := session.New(session.Options{})
	f := newTestFetcher(&fakeCompleter{deltas: []string{"Sa", "lom"}}, st)
	var got strings.Builder
	if err := f.Stream(1, "hi")(context.Background(), func(d string) { got.WriteString(d) }); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got.String() != "Salom" {
		t.Fatalf("stream = %q", got.String())
	}

	f = newTestFetcher(&fakeCompleter{}, st)
	if err := f.Stream(1, "hi")(context.Background(), func(string) {}); !errors.Is(err, ErrUpstream) {
		t.Fatalf("empty stream: %v", err)
	}

	cut := fmt.Errorf("%w: %w", llm.ErrMalformed, io.ErrUnexpectedEOF)
	f = newTestFetcher(&fakeCompleter{deltas: []string{"Toshkent"}, err: cut}, st)
	if err := f.Stream(1, "hi")(context.Background(), func(string) {}); !errors.Is(err, ErrUpstream) || !errors.Is(err, llm.ErrMalformed) {
		t.Fatalf("cut stream must fail as upstream error: %v", err)
	}
}

func TestChunked(t *testing.T) {
	var parts []string
	if err := Chunked("abcdefg", 3)(context.Background(), func(d string) { parts = append(parts, d) }); err != nil {
		t.Fatalf("Chunked: %v", err)
	}
	if strings.Join(parts, "|") != "abc|def|g" {
		t.Fatalf("chunks = %v", parts)
	}
}
