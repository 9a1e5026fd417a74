package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/tg-ai-assistant/internal/keyboard"
	"github.com/tbourn/tg-ai-assistant/internal/session"
)

const (
	chatA  int64 = 1001
	userA  int64 = 501
	userB  int64 = 502
	errMsg       = 77
)

type orchFixture struct {
	clock *fakeClock
	sleep *recordingSleeper
	store *session.Store
	msgr  *fakeMessenger
	fetch *scriptedFetcher
	orch  *Orchestrator
}

func newOrchFixture(t *testing.T, results ...fetchResult) *orchFixture {
	t.Helper()
	clock := newFakeClock()
	sl := &recordingSleeper{clock: clock}
	st := session.New(session.Options{Now: clock.Now})
	m := newFakeMessenger()
	f := &scriptedFetcher{results: results}
	p := newTestPresenter(m, clock, &recordingSleeper{})
	o := &Orchestrator{
		Sessions:  st,
		Fetcher:   f,
		Messenger: m,
		Presenter: p,
		MaxManual: 3,
		MaxAuto:   3,
		Backoffs:  []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		Cooldown:  30 * time.Second,
		Now:       clock.Now,
		Sleep:     sl.Sleep,
		Cooldowns: st,
	}
	return &orchFixture{clock: clock, sleep: sl, store: st, msgr: m, fetch: f, orch: o}
}

func (fx *orchFixture) seedFailure() {
	fx.store.StoreFailed(chatA, userA, "savol", "asl savol", errMsg)
}

func ok(text string) fetchResult { return fetchResult{text: text} }
func fail() fetchResult          { return fetchResult{err: errBoom} }

func TestRecordFailure_EditsLoadingMessage(t *testing.T) {
	fx := newOrchFixture(t)
	err := fx.orch.RecordFailure(context.Background(), Failure{
		ChatID: chatA, UserID: userA, Prompt: "p", OriginalText: "o", MessageID: 42, Reason: TextPhotoFailed,
	})
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	e, _ := fx.msgr.last("edit")
	if e.MsgID != 42 || e.Opts.Keyboard.Empty() {
		t.Fatalf("edit = %+v", e)
	}
	if len(e.Opts.Keyboard.Rows) != 2 || e.Opts.Keyboard.Rows[0][0].Text != keyboard.RetryLabel(0) {
		t.Fatalf("retry keyboard = %+v", e.Opts.Keyboard.Rows)
	}
	fr, ok := fx.store.Failed(chatA)
	if !ok || fr.ErrorMessageID != 42 || fr.UserID != userA || fr.Prompt != "p" || fr.OriginalText != "o" {
		t.Fatalf("record = %+v ok=%v", fr, ok)
	}
}

func TestRecordFailure_FallsBackToSend(t *testing.T) {
	fx := newOrchFixture(t)
	fx.msgr.editErr = errors.New("message to edit not found")
	if err := fx.orch.RecordFailure(context.Background(), Failure{ChatID: chatA, UserID: userA, Prompt: "p", MessageID: 42}); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	s, ok := fx.msgr.last("send")
	if !ok {
		t.Fatalf("expected a new message, ops=%s", fx.msgr.ops())
	}
	fr, _ := fx.store.Failed(chatA)
	if fr.ErrorMessageID != s.MsgID {
		t.Fatalf("record points at %d, want %d", fr.ErrorMessageID, s.MsgID)
	}
}

func TestRetry_SucceedsOnFirstManualRetry(t *testing.T) {
	fx := newOrchFixture(t, ok("Javob [NO_BUTTON]"))
	fx.seedFailure()

	res := fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA})
	if res.Outcome != OutcomeSucceeded || res.Reason != nil {
		t.Fatalf("result = %+v", res)
	}
	if _, ok := fx.store.Failed(chatA); ok {
		t.Fatalf("record should be cleared")
	}
	if fx.store.InFlight(chatA) {
		t.Fatalf("in-flight flag must be released")
	}
	h := fx.store.History(chatA)
	if len(h) != 2 || h[0].Content != "asl savol" || h[1].Content != "Javob" {
		t.Fatalf("history = %+v", h)
	}
	if got := fx.msgr.ops(); got != "edit,delete,send" {
		t.Fatalf("ops = %s", got)
	}
	first := fx.msgr.snapshot()[0]
	if first.MsgID != errMsg || first.Text != TextRetrying {
		t.Fatalf("first edit = %+v", first)
	}
	if len(fx.sleep.Waits()) != 0 {
		t.Fatalf("no backoff expected, got %v", fx.sleep.Waits())
	}
}

func TestRetry_SucceedsAfterAutomaticAttempts(t *testing.T) {
	fx := newOrchFixture(t, fail(), fail(), ok("uchinchi"))
	fx.seedFailure()

	res := fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA})
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("result = %+v", res)
	}
	if fx.fetch.calls() != 3 {
		t.Fatalf("fetch calls = %d", fx.fetch.calls())
	}
	w := fx.sleep.Waits()
	if len(w) != 2 || w[0] != time.Second || w[1] != 2*time.Second {
		t.Fatalf("backoffs = %v", w)
	}
}

func TestRetry_ExhaustedWithManualRemaining(t *testing.T) {
	fx := newOrchFixture(t, fail())
	fx.seedFailure()

	res := fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA})
	if res.Outcome != OutcomeExhausted || !errors.Is(res.Reason, errBoom) {
		t.Fatalf("result = %+v", res)
	}
	if w := fx.sleep.Waits(); len(w) != 3 || w[2] != 4*time.Second {
		t.Fatalf("backoffs = %v", w)
	}
	fr, ok := fx.store.Failed(chatA)
	if !ok || fr.ManualAttempts != 1 || fr.AutoAttempts != 3 {
		t.Fatalf("record = %+v ok=%v", fr, ok)
	}
	if !fr.LastAttemptAt.Equal(fx.clock.Now()) {
		t.Fatalf("LastAttemptAt = %v, want %v", fr.LastAttemptAt, fx.clock.Now())
	}
	e, _ := fx.msgr.last("edit")
	if e.Text != TextNoReply || e.MsgID != errMsg {
		t.Fatalf("final edit = %+v", e)
	}
	if len(e.Opts.Keyboard.Rows) != 2 || e.Opts.Keyboard.Rows[0][0].Text != keyboard.RetryLabel(1) {
		t.Fatalf("keyboard = %+v", e.Opts.Keyboard.Rows)
	}
	if len(fx.store.History(chatA)) != 0 {
		t.Fatalf("failed retry must not write history")
	}
	if fx.store.InFlight(chatA) {
		t.Fatalf("in-flight flag must be released")
	}
}

func TestRetry_LastManualRetryDropsRetryButton(t *testing.T) {
	fx := newOrchFixture(t, fail())
	fx.seedFailure()
	fx.store.UpdateFailed(chatA, func(f *session.FailedRequest) { f.ManualAttempts = 2 })

	res := fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA})
	if res.Outcome != OutcomeExhausted {
		t.Fatalf("result = %+v", res)
	}
	e, _ := fx.msgr.last("edit")
	rows := e.Opts.Keyboard.Rows
	if len(rows) != 1 || rows[0][0].Action.Kind != keyboard.KindReport {
		t.Fatalf("only the report button should remain: %+v", rows)
	}
}

func TestRetry_CeilingCheckedBeforeCooldown(t *testing.T) {
	fx := newOrchFixture(t, fail())
	fx.seedFailure()
	ctx := context.Background()
	tr := Trigger{ChatID: chatA, UserID: userA}

	for i := 0; i < 3; i++ {
		if res := fx.orch.Retry(ctx, tr); res.Outcome != OutcomeExhausted {
			t.Fatalf("retry %d: %+v", i, res)
		}
		fx.clock.Advance(time.Minute)
	}
	calls := fx.fetch.calls()

	res := fx.orch.Retry(ctx, tr)
	if res.Outcome != OutcomeRejected || !errors.Is(res.Reason, ErrAttemptsExhausted) || res.Notice != NoticeExhausted {
		t.Fatalf("fourth tap = %+v", res)
	}
	if fx.fetch.calls() != calls {
		t.Fatalf("rejected tap must not fetch")
	}
	// Immediate tap is still reported as exhausted, not as a cooldown.
	if res := fx.orch.Retry(ctx, tr); !errors.Is(res.Reason, ErrAttemptsExhausted) {
		t.Fatalf("fifth tap = %+v", res)
	}
}

func TestRetry_Cooldown(t *testing.T) {
	fx := newOrchFixture(t, fail())
	fx.seedFailure()
	ctx := context.Background()
	tr := Trigger{ChatID: chatA, UserID: userA}

	fx.orch.Retry(ctx, tr) // stamps the cooldown, then sleeps 7s of backoff
	res := fx.orch.Retry(ctx, tr)
	if res.Outcome != OutcomeRejected || !errors.Is(res.Reason, ErrCooldown) {
		t.Fatalf("result = %+v", res)
	}
	if res.Notice != "Iltimos, 23 soniya kuting." {
		t.Fatalf("notice = %q", res.Notice)
	}
	fr, _ := fx.store.Failed(chatA)
	if fr.ManualAttempts != 1 {
		t.Fatalf("rejected tap changed the record: %+v", fr)
	}

	fx.clock.Advance(23 * time.Second)
	if res := fx.orch.Retry(ctx, tr); res.Outcome != OutcomeExhausted {
		t.Fatalf("after cooldown = %+v", res)
	}
}

func TestRetry_OnlyOwner(t *testing.T) {
	fx := newOrchFixture(t, ok("x"))
	fx.seedFailure()

	res := fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userB})
	if res.Outcome != OutcomeRejected || !errors.Is(res.Reason, ErrNotOwner) || res.Notice != NoticeNotOwner {
		t.Fatalf("result = %+v", res)
	}
	fr, ok := fx.store.Failed(chatA)
	if !ok || fr.ManualAttempts != 0 {
		t.Fatalf("record changed: %+v", fr)
	}
	if fx.fetch.calls() != 0 || len(fx.msgr.snapshot()) != 0 {
		t.Fatalf("rejected tap had side effects")
	}
}

func TestRetry_StaleAfterRestart(t *testing.T) {
	fx := newOrchFixture(t, ok("x"))
	// No record: the process restarted and memory is empty.
	res := fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA})
	if res.Outcome != OutcomeRejected || !errors.Is(res.Reason, ErrNoRecord) || res.Notice != NoticeNoRecord {
		t.Fatalf("result = %+v", res)
	}
}

func TestRetry_ExpiredRecord(t *testing.T) {
	fx := newOrchFixture(t, ok("x"))
	fx.seedFailure()
	fx.clock.Advance(31 * time.Minute)
	if res := fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA}); !errors.Is(res.Reason, ErrNoRecord) {
		t.Fatalf("result = %+v", res)
	}
}

func TestRetry_SingleFlight(t *testing.T) {
	fx := newOrchFixture(t, ok("javob"))
	fx.orch.Cooldown = 0
	fx.fetch.gate = make(chan struct{})
	fx.seedFailure()

	const n = 20
	results := make(chan Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA})
		}()
	}
	for i := 0; i < n-1; i++ {
		res := <-results
		if res.Outcome != OutcomeRejected || !errors.Is(res.Reason, ErrInProgress) {
			t.Fatalf("concurrent tap = %+v", res)
		}
	}
	close(fx.fetch.gate)
	wg.Wait()
	if res := <-results; res.Outcome != OutcomeSucceeded {
		t.Fatalf("winner = %+v", res)
	}
	if fx.fetch.calls() != 1 {
		t.Fatalf("fetch calls = %d", fx.fetch.calls())
	}
}

func TestRetry_SyntheticStreaming(t *testing.T) {
	fx := newOrchFixture(t, ok("bir ikki uch to'rt besh olti"))
	fx.orch.Synthetic = true
	fx.orch.ChunkSize = 4
	fx.seedFailure()

	if res := fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA}); res.Outcome != OutcomeSucceeded {
		t.Fatalf("result = %+v", res)
	}
	progress := 0
	for _, c := range fx.msgr.snapshot() {
		if c.Op == "edit" && c.MsgID == errMsg && len(c.Text) > len(Cursor) && c.Text[len(c.Text)-len(Cursor):] == Cursor {
			progress++
		}
	}
	if progress == 0 {
		t.Fatalf("expected progress edits, ops=%s", fx.msgr.ops())
	}
}

func TestBackoffAndJitter(t *testing.T) {
	fx := newOrchFixture(t, fail())
	fx.orch.Jitter = time.Second
	fx.orch.RandJitter = func(max time.Duration) time.Duration { return max / 2 }
	fx.seedFailure()

	if got := fx.orch.Backoff(10); got != 4*time.Second {
		t.Fatalf("Backoff(10) = %v", got)
	}
	fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA})
	want := []time.Duration{1500 * time.Millisecond, 2500 * time.Millisecond, 4500 * time.Millisecond}
	got := fx.sleep.Waits()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("wait %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRetry_AcceptedHook(t *testing.T) {
	fx := newOrchFixture(t, ok("x"))
	fx.seedFailure()
	accepted := 0
	fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userB, Accepted: func() { accepted++ }})
	if accepted != 0 {
		t.Fatalf("rejected tap must not be accepted")
	}
	fx.orch.Retry(context.Background(), Trigger{ChatID: chatA, UserID: userA, Accepted: func() { accepted++ }})
	if accepted != 1 {
		t.Fatalf("accepted = %d", accepted)
	}
}
