package services

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/tg-ai-assistant/internal/keyboard"
	"github.com/tbourn/tg-ai-assistant/internal/session"
)

// Outcome is how a retry tap ended.
type Outcome int

const (
	// OutcomeRejected: a precondition failed; nothing was attempted.
	OutcomeRejected Outcome = iota
	// OutcomeSucceeded: a reply was delivered and the record cleared.
	OutcomeSucceeded
	// OutcomeExhausted: every automatic attempt failed; the record stays.
	OutcomeExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeExhausted:
		return "exhausted"
	}
	return "rejected"
}

// Trigger identifies a retry tap. Accepted, when set, runs once the tap has
// passed every precondition, before any upstream call.
type Trigger struct {
	ChatID   int64
	UserID   int64
	Accepted func()
}

// Result reports a retry. Reason is one of the precondition errors for
// rejected taps, or the last upstream error when attempts ran out. Notice is
// the short text to show the user, if any.
type Result struct {
	Outcome Outcome
	Reason  error
	Notice  string
}

// Failure describes a request that could not be answered.
type Failure struct {
	ChatID       int64
	UserID       int64
	Prompt       string // what gets re-sent upstream
	OriginalText string // what the user wrote; recorded in history on success
	MessageID    int    // message to turn into the error message; 0 sends a new one
	Reason       string // optional line shown above the friendly error
}

// Orchestrator runs the retry flow for failed requests.
type Orchestrator struct {
	Sessions  Sessions
	Fetcher   ReplyFetcher
	Messenger Messenger
	Presenter *Presenter

	MaxManual int
	MaxAuto   int
	Backoffs  []time.Duration
	Jitter    time.Duration
	Cooldown  time.Duration

	// Synthetic replays retried replies through the presenter in chunks.
	Synthetic bool
	ChunkSize int

	Now        func() time.Time
	Sleep      func(context.Context, time.Duration)
	RandJitter func(max time.Duration) time.Duration
	Cooldowns  CooldownChecker
}

// CooldownChecker stamps per-user actions; *session.Store implements it.
type CooldownChecker interface {
	CheckCooldown(userID int64, now time.Time, window time.Duration) (time.Duration, bool)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) pause(ctx context.Context, d time.Duration) {
	if o.Sleep != nil {
		o.Sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Backoff is the wait after the i-th failed automatic attempt (0-based),
// before jitter.
func (o *Orchestrator) Backoff(i int) time.Duration {
	if len(o.Backoffs) == 0 {
		return 0
	}
	return o.Backoffs[min(i, len(o.Backoffs)-1)]
}

func (o *Orchestrator) jitter() time.Duration {
	if o.Jitter <= 0 {
		return 0
	}
	if o.RandJitter != nil {
		return o.RandJitter(o.Jitter)
	}
	return rand.N(o.Jitter)
}

// RecordFailure shows a friendly error with retry and report buttons and
// remembers the request so it can be retried.
func (o *Orchestrator) RecordFailure(ctx context.Context, f Failure) error {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "RecordFailure", trace.WithAttributes(
		attribute.Int64("chat.id", f.ChatID),
		attribute.Int64("user.id", f.UserID),
	))
	defer span.End()

	text := randomErrorMessage()
	if f.Reason != "" {
		text = f.Reason + "\n\n" + text
	}
	opts := SendOptions{Keyboard: keyboard.Retry(f.ChatID, 0, true)}

	msgID := f.MessageID
	if msgID != 0 {
		if err := o.Messenger.Edit(ctx, f.ChatID, msgID, text, opts); err != nil {
			log.Debug().Err(err).Int64("chat_id", f.ChatID).Msg("edit into error message failed; sending")
			msgID = 0
		}
	}
	if msgID == 0 {
		id, err := o.Messenger.Send(ctx, f.ChatID, text, opts)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("send error message: %w", err)
		}
		msgID = id
	}
	o.Sessions.StoreFailed(f.ChatID, f.UserID, f.Prompt, f.OriginalText, msgID)
	return nil
}

func reject(reason error, notice string) Result {
	retryOutcomes.WithLabelValues("rejected").Inc()
	return Result{Outcome: OutcomeRejected, Reason: reason, Notice: notice}
}

// Retry handles a retry tap. Preconditions, in order: a live record, the
// tapping user owns it, the manual ceiling is not reached, the user's
// cooldown has passed, and no retry is already running. A rejected tap
// changes nothing except the cooldown stamp.
//
// A passing tap counts one manual attempt and then makes up to MaxAuto
// automatic attempts with backoff. The in-flight flag is always released.
func (o *Orchestrator) Retry(ctx context.Context, t Trigger) Result {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "Retry", trace.WithAttributes(
		attribute.Int64("chat.id", t.ChatID),
		attribute.Int64("user.id", t.UserID),
	))
	defer span.End()

	fr, ok := o.Sessions.Failed(t.ChatID)
	switch {
	case !ok:
		return reject(ErrNoRecord, NoticeNoRecord)
	case fr.UserID != t.UserID:
		return reject(ErrNotOwner, NoticeNotOwner)
	case fr.ManualAttempts >= o.MaxManual:
		return reject(ErrAttemptsExhausted, NoticeExhausted)
	}
	if o.Cooldowns != nil {
		if wait, ok := o.Cooldowns.CheckCooldown(t.UserID, o.now(), o.Cooldown); !ok {
			secs := int(math.Ceil(wait.Seconds()))
			return reject(ErrCooldown, fmt.Sprintf(NoticeCooldown, secs))
		}
	}
	if !o.Sessions.TryAcquire(t.ChatID) {
		return reject(ErrInProgress, NoticeInProgress)
	}
	defer o.Sessions.Release(t.ChatID)

	var manual int
	if !o.Sessions.UpdateFailed(t.ChatID, func(f *session.FailedRequest) {
		f.ManualAttempts++
		f.LastAttemptAt = o.now()
		fr = *f
		manual = f.ManualAttempts
	}) {
		return reject(ErrNoRecord, NoticeNoRecord)
	}
	if t.Accepted != nil {
		t.Accepted()
	}
	l := log.With().Int64("chat_id", t.ChatID).Int64("user_id", t.UserID).Int("manual", manual).Logger()
	span.SetAttributes(attribute.Int("retry.manual", manual))

	if err := o.Messenger.Edit(ctx, t.ChatID, fr.ErrorMessageID, TextRetrying, SendOptions{}); err != nil {
		l.Debug().Err(err).Msg("retrying edit failed")
	}

	var lastErr error
	for i := 0; i < o.MaxAuto; i++ {
		o.Sessions.UpdateFailed(t.ChatID, func(f *session.FailedRequest) {
			if f.Gen == fr.Gen {
				f.AutoAttempts++
			}
		})
		reply, err := o.Fetcher.Fetch(ctx, t.ChatID, fr.Prompt)
		if err == nil {
			o.succeed(ctx, t.ChatID, fr, reply, l)
			retryOutcomes.WithLabelValues("succeeded").Inc()
			return Result{Outcome: OutcomeSucceeded}
		}
		lastErr = err
		wait := o.Backoff(i) + o.jitter()
		l.Warn().Err(err).Int("attempt", i+1).Dur("backoff", wait).Msg("automatic retry failed")
		o.pause(ctx, wait)
	}

	o.Sessions.UpdateFailed(t.ChatID, func(f *session.FailedRequest) {
		if f.Gen == fr.Gen {
			f.LastAttemptAt = o.now()
		}
	})
	kb := keyboard.Retry(t.ChatID, manual, manual < o.MaxManual)
	if err := o.Messenger.Edit(ctx, t.ChatID, fr.ErrorMessageID, TextNoReply, SendOptions{Keyboard: kb}); err != nil {
		l.Debug().Err(err).Msg("exhausted edit failed")
	}
	span.RecordError(lastErr)
	retryOutcomes.WithLabelValues("exhausted").Inc()
	return Result{Outcome: OutcomeExhausted, Reason: lastErr}
}

func (o *Orchestrator) succeed(ctx context.Context, chatID int64, fr session.FailedRequest, reply string, l zerolog.Logger) {
	text, _ := StripNoButton(reply)
	user := fr.OriginalText
	if user == "" {
		user = fr.Prompt
	}
	o.Sessions.Append(chatID, session.RoleUser, user)
	o.Sessions.Append(chatID, session.RoleAssistant, text)

	var err error
	if o.Synthetic {
		_, err = o.Presenter.Present(ctx, chatID, fr.ErrorMessageID, Chunked(text, o.ChunkSize), PresentOptions{})
	} else {
		_, err = o.Presenter.Deliver(ctx, chatID, fr.ErrorMessageID, text, nil)
	}
	if err != nil {
		l.Error().Err(err).Msg("deliver retried reply failed")
	}
	// a newer failure for the chat stays retryable
	o.Sessions.ClearFailedIf(chatID, fr.Gen)
}
