package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
)

// AddAdmin grants admin rights. Re-adding an existing admin only upgrades
// the superadmin flag; it never downgrades.
func AddAdmin(ctx context.Context, db *gorm.DB, userID int64, super bool) error {
	a := &domain.Admin{UserID: userID, IsSuper: super, CreatedAt: time.Now().UTC()}
	q := db.WithContext(ctx)
	if super {
		return q.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{"is_super": true}),
		}).Create(a).Error
	}
	return q.Clauses(clause.OnConflict{DoNothing: true}).Create(a).Error
}

// RemoveAdmin revokes admin rights. It returns ErrNotFound when the user
// was not an admin.
func RemoveAdmin(ctx context.Context, db *gorm.DB, userID int64) error {
	res := db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Admin{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAdmin fetches an admin row by user id.
func GetAdmin(ctx context.Context, db *gorm.DB, userID int64) (*domain.Admin, error) {
	var a domain.Admin
	if err := db.WithContext(ctx).First(&a, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAdminIDs returns every admin user id.
func ListAdminIDs(ctx context.Context, db *gorm.DB) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).Model(&domain.Admin{}).Order("user_id ASC").Pluck("user_id", &ids).Error
	return ids, err
}
