package repo

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
)

func seedActivity(t *testing.T, db *gorm.DB, userID int64, name string, n int, at time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if err := LogActivity(ctx, db, domain.Activity{UserID: userID, Username: name, Type: domain.ActivityText, CreatedAt: at.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("LogActivity: %v", err)
		}
	}
}

func TestTopUsers_RankingAndAdminExclusion(t *testing.T) {
	db := newRepoDB(t, allModels...)
	ctx := context.Background()
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	seedActivity(t, db, 1, "one", 3, now.Add(-time.Hour))
	seedActivity(t, db, 2, "two", 5, now.Add(-time.Hour))
	seedActivity(t, db, 3, "admin", 9, now.Add(-time.Hour))
	seedActivity(t, db, 4, "old", 20, now.Add(-40*24*time.Hour))
	_ = AddAdmin(ctx, db, 3, false)

	rows, err := TopUsers(ctx, db, now.Add(-30*24*time.Hour), 10, true)
	if err != nil {
		t.Fatalf("TopUsers: %v", err)
	}
	if len(rows) != 2 || rows[0].UserID != 2 || rows[0].Total != 5 || rows[1].UserID != 1 {
		t.Fatalf("unexpected ranking: %+v", rows)
	}

	rows, _ = TopUsers(ctx, db, now.Add(-30*24*time.Hour), 1, false)
	if len(rows) != 1 || rows[0].UserID != 3 {
		t.Fatalf("admins included when not excluded: %+v", rows)
	}

	top, err := MostActiveSince(ctx, db, now.Add(-time.Minute), true)
	if !IsNotFound(err) || top != nil {
		t.Fatalf("nobody active in the last minute: top=%+v err=%v", top, err)
	}
}

func TestDailyActivity_BucketsByLocalDay(t *testing.T) {
	db := newRepoDB(t, allModels...)
	ctx := context.Background()
	tashkent := time.FixedZone("UZT", 5*3600)
	now := time.Date(2025, 6, 20, 10, 0, 0, 0, tashkent)

	// 20:30 UTC on the 19th is already the 20th in Tashkent.
	seedActivity(t, db, 1, "a", 2, time.Date(2025, 6, 19, 20, 30, 0, 0, time.UTC))
	seedActivity(t, db, 1, "a", 1, time.Date(2025, 6, 18, 6, 0, 0, 0, time.UTC))

	days, err := DailyActivity(ctx, db, now, 3, tashkent)
	if err != nil {
		t.Fatalf("DailyActivity: %v", err)
	}
	if len(days) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(days))
	}
	want := []int{1, 0, 2} // 18th, 19th, 20th
	for i, d := range days {
		if d.Total != want[i] {
			t.Fatalf("bucket %d (%s) = %d, want %d", i, d.Day.Format("2006-01-02"), d.Total, want[i])
		}
	}
	if days[2].Day.Format("2006-01-02") != "2025-06-20" {
		t.Fatalf("last bucket should be today, got %v", days[2].Day)
	}
}
