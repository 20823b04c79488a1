// Package repo: this file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-receipt-backend/internal/domain"
)

// ReceiptStats summarizes the records a pull from some cursor would return.
// Any accepted write inside the window changes LastSyncedAt, so the triple
// is a sound change detector for that window.
type ReceiptStats struct {
	Count        int64
	MaxUpdatedAt *time.Time
	LastSyncedAt *time.Time
}

// ReceiptsStats aggregates the owner's records with updated_at >= since
// (all records when since is nil). With no rows the times are nil.
func ReceiptsStats(ctx context.Context, db *gorm.DB, ownerID string, since *time.Time) (ReceiptStats, error) {
	window := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.Receipt{}).Where("owner_id = ?", ownerID)
		if since != nil {
			q = q.Where("updated_at >= ?", since.UTC())
		}
		return q
	}

	var st ReceiptStats
	if err := window().Count(&st.Count).Error; err != nil {
		return ReceiptStats{}, err
	}
	if st.Count == 0 {
		return st, nil
	}

	// Latest rows instead of MAX(), which SQLite returns as TEXT.
	var newest struct{ UpdatedAt time.Time }
	if err := window().Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&newest).Error; err != nil {
		return ReceiptStats{}, err
	}
	var synced struct{ SyncedAt time.Time }
	if err := window().Select("synced_at").Order("synced_at DESC").Limit(1).Scan(&synced).Error; err != nil {
		return ReceiptStats{}, err
	}
	st.MaxUpdatedAt = &newest.UpdatedAt
	st.LastSyncedAt = &synced.SyncedAt
	return st, nil
}
