// Package repo – users.
//
// Thin persistence helpers for the users table. Business rules (who may be
// messaged, when a user counts as inactive) live in the services package.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
)

// UpsertUser inserts a user or refreshes username, first name and last-seen
// time. An upsert always reactivates the user: they just talked to the bot.
func UpsertUser(ctx context.Context, db *gorm.DB, id int64, username, firstName string, now time.Time) error {
	u := &domain.User{
		ID:        id,
		Username:  strings.TrimPrefix(username, "@"),
		FirstName: firstName,
		CreatedAt: now.UTC(),
		LastSeen:  now.UTC(),
		IsActive:  true,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "first_name", "last_seen", "is_active"}),
	}).Create(u).Error
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByUsername resolves an @handle (case-insensitive, '@' optional).
func FindUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" {
		return nil, ErrNotFound
	}
	var u domain.User
	err := db.WithContext(ctx).
		Where("LOWER(username) = LOWER(?)", name).
		Order("last_seen DESC").
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListActiveUserIDs returns ids of users who have not blocked the bot.
func ListActiveUserIDs(ctx context.Context, db *gorm.DB) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).Model(&domain.User{}).
		Where("is_active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// ListUsers returns every user ordered by registration time.
func ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

// ListUsersPage returns a page of users, newest first.
func ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountUsers returns the total number of users.
func CountUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&n).Error
	return n, err
}

// CountActiveUsers returns the number of users with is_active set.
func CountActiveUsers(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Where("is_active = ?", true).Count(&n).Error
	return n, err
}

// CountUsersSince returns how many users registered at or after since.
func CountUsersSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Where("created_at >= ?", since.UTC()).Count(&n).Error
	return n, err
}

// LastUser returns the most recently registered user.
func LastUser(ctx context.Context, db *gorm.DB) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Order("created_at DESC, id DESC").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// DeactivateUser marks a user unreachable. Missing users are not an error.
func DeactivateUser(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

// TouchLastSeen sets last_seen for a user.
func TouchLastSeen(ctx context.Context, db *gorm.DB, id int64, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("last_seen", now.UTC()).Error
}

// ListInactiveUsers returns active users not seen since before.
func ListInactiveUsers(ctx context.Context, db *gorm.DB, before time.Time) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Where("is_active = ? AND last_seen < ?", true, before.UTC()).
		Order("last_seen ASC").
		Find(&out).Error
	return out, err
}

// ClaimDailyPin records that the user's chat was pinned on day (YYYY-MM-DD).
// It reports true only for the first claim of that day, so concurrent
// messages cannot pin twice.
func ClaimDailyPin(ctx context.Context, db *gorm.DB, id int64, day string) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND (last_pinned_date IS NULL OR last_pinned_date <> ?)", id, day).
		Update("last_pinned_date", day)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IsNotFound reports whether err means "no such row".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
