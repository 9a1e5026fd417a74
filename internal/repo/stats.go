// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides aggregate queries behind the admin
// statistics screens and the admin API.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
)

// UserActivityCount is one row of an activity ranking.
type UserActivityCount struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Total    int64  `json:"total"`
}

// TopUsers ranks users by activity count at or after since. Ties are broken
// by user id so results are deterministic. When excludeAdmins is set, admin
// accounts are left out of the ranking.
func TopUsers(ctx context.Context, db *gorm.DB, since time.Time, limit int, excludeAdmins bool) ([]UserActivityCount, error) {
	if limit <= 0 {
		limit = 10
	}
	q := db.WithContext(ctx).Model(&domain.Activity{}).
		Select("user_id, MAX(username) AS username, COUNT(*) AS total").
		Where("created_at >= ?", since.UTC())
	if excludeAdmins {
		q = q.Where("user_id NOT IN (?)", db.Model(&domain.Admin{}).Select("user_id"))
	}
	var rows []UserActivityCount
	err := q.Group("user_id").
		Order("total DESC, user_id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// MostActiveSince returns the single most active user at or after since, or
// ErrNotFound when nobody was active.
func MostActiveSince(ctx context.Context, db *gorm.DB, since time.Time, excludeAdmins bool) (*UserActivityCount, error) {
	rows, err := TopUsers(ctx, db, since, 1, excludeAdmins)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// DayCount is the number of activities on one local calendar day.
type DayCount struct {
	Day   time.Time `json:"day"` // midnight in the requested location
	Total int       `json:"total"`
}

// DailyActivity returns one bucket per local day for the last `days` days
// (today included), oldest first. Days without activity report zero.
func DailyActivity(ctx context.Context, db *gorm.DB, now time.Time, days int, loc *time.Location) ([]DayCount, error) {
	if days <= 0 {
		days = 14
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -(days - 1))

	times, err := ActivityTimesSince(ctx, db, start)
	if err != nil {
		return nil, err
	}

	out := make([]DayCount, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		out[i] = DayCount{Day: d}
		index[d.Format("2006-01-02")] = i
	}
	for _, ts := range times {
		if i, ok := index[ts.In(loc).Format("2006-01-02")]; ok {
			out[i].Total++
		}
	}
	return out, nil
}
