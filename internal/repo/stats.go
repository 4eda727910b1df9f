// Package repo implements the data persistence layer for tickets, backed by
// GORM. This file provides a small aggregate query used for conditional
// responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/Scripto81/Discordbottytyty/internal/domain"
)

// TicketsStats returns the number of tickets (optionally for one requester)
// and the greatest UpdatedAt among them. When there are no rows the count is
// 0 and maxUpdatedAt is nil.
func TicketsStats(ctx context.Context, db *gorm.DB, requesterID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := scopeRequester(db.WithContext(ctx).Model(&domain.Ticket{}), requesterID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	q = scopeRequester(db.WithContext(ctx).Model(&domain.Ticket{}), requesterID)
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
