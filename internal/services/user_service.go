package services

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
	"github.com/tbourn/tg-ai-assistant/internal/repo"
)

// Profile is the sender of an update.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
}

// maxActivityRunes caps stored message content.
const maxActivityRunes = 1000

// UserService tracks users and their activity.
type UserService struct {
	DB            *gorm.DB
	Messenger     Messenger
	Location      *time.Location
	InactiveAfter time.Duration
	NotifyPause   time.Duration // between inactive-user notices
	Now           func() time.Time
}

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *UserService) loc() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

// Touch upserts the user and records one activity.
func (s *UserService) Touch(ctx context.Context, p Profile, kind, content string) error {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Touch", trace.WithAttributes(
		attribute.Int64("user.id", p.ID),
		attribute.String("activity.type", kind),
	))
	defer span.End()

	now := s.now()
	if err := repo.UpsertUser(ctx, s.DB, p.ID, p.Username, p.FirstName, now); err != nil {
		return err
	}
	if utf8.RuneCountInString(content) > maxActivityRunes {
		content = string([]rune(content)[:maxActivityRunes])
	}
	return repo.LogActivity(ctx, s.DB, domain.Activity{
		UserID:    p.ID,
		Username:  p.Username,
		Type:      kind,
		Content:   content,
		CreatedAt: now,
	})
}

// DailyPin pins msgID in chatID when it is the user's first message of the
// local day. It reports whether a pin was made.
func (s *UserService) DailyPin(ctx context.Context, userID, chatID int64, msgID int) (bool, error) {
	day := s.now().In(s.loc()).Format("2006-01-02")
	won, err := repo.ClaimDailyPin(ctx, s.DB, userID, day)
	if err != nil || !won {
		return false, err
	}
	if err := s.Messenger.Pin(ctx, chatID, msgID); err != nil {
		return false, err
	}
	return true, nil
}

// Role reports the user's admin rights.
func (s *UserService) Role(ctx context.Context, userID int64) (admin, super bool, err error) {
	a, err := repo.GetAdmin(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, a.IsSuper, nil
}

// NotifyInactive nudges users idle for longer than InactiveAfter. Users the
// bot cannot reach are deactivated.
func (s *UserService) NotifyInactive(ctx context.Context) (sent, failed int, err error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "NotifyInactive")
	defer span.End()

	after := s.InactiveAfter
	if after <= 0 {
		after = 7 * 24 * time.Hour
	}
	users, err := repo.ListInactiveUsers(ctx, s.DB, s.now().Add(-after))
	if err != nil {
		return 0, 0, err
	}
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Messenger.Send(ctx, u.ID, TextInactive, SendOptions{}); err != nil {
			failed++
			log.Info().Err(err).Int64("user_id", u.ID).Msg("inactive notice failed; deactivating")
			if derr := repo.DeactivateUser(ctx, s.DB, u.ID); derr != nil {
				log.Warn().Err(derr).Int64("user_id", u.ID).Msg("deactivate failed")
			}
			continue
		}
		sent++
		if err := repo.TouchLastSeen(ctx, s.DB, u.ID, s.now()); err != nil {
			log.Warn().Err(err).Int64("user_id", u.ID).Msg("touch last_seen failed")
		}
		if s.NotifyPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.NotifyPause):
			}
		}
	}
	span.SetAttributes(attribute.Int("notified", sent), attribute.Int("failed", failed))
	return sent, failed, nil
}
