// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Report model.
//
// The repository follows a "thin" approach: it performs persistence and simple
// query composition, leaving business rules (who gets notified, what a report
// contains) to the services package.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
)

// CreateReport inserts a report row and returns it.
func CreateReport(ctx context.Context, db *gorm.DB, chatID, userID int64, prompt string) (*domain.Report, error) {
	r := &domain.Report{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    userID,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// CountReports returns the total number of reports.
func CountReports(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Report{}).Count(&n).Error
	return n, err
}

// ListReportsPage returns a page of reports, newest first.
func ListReportsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Report, error) {
	var out []domain.Report
	err := db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
