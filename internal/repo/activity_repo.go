package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
)

// LogActivity appends one activity row. ID and CreatedAt are filled when
// empty.
func LogActivity(ctx context.Context, db *gorm.DB, a domain.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(&a).Error
}

// RecentMessages returns the newest text-message activities that carry
// content, newest first.
func RecentMessages(ctx context.Context, db *gorm.DB, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []domain.Activity
	err := db.WithContext(ctx).
		Where("type = ? AND content <> ''", domain.ActivityText).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ActivityTimesSince returns the timestamps of all activities at or after
// since, oldest first. Callers bucket them in their own time zone.
func ActivityTimesSince(ctx context.Context, db *gorm.DB, since time.Time) ([]time.Time, error) {
	var out []time.Time
	err := db.WithContext(ctx).Model(&domain.Activity{}).
		Where("created_at >= ?", since.UTC()).
		Order("created_at ASC").
		Pluck("created_at", &out).Error
	return out, err
}
