// Package repo: this file provides repository functions for the Receipt model
// (the server-of-record copy of a client receipt).
//
// Records are addressed by (owner_id, local_id). Writes never move
// updated_at backwards: UpdateReceiptIfNotNewer is an optimistic conditional
// update that only applies when the stored updated_at is not later than the
// incoming one, which makes the read-compare-write of the sync protocol
// atomic without row locks.
//
// Timestamps should be UTC so that SQLite's textual comparison agrees with
// chronological order.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-receipt-backend/internal/domain"
)

// FindReceiptByLocalID returns the record owned by ownerID with the given
// client-assigned id, or ErrNotFound. A miss is the normal first-sync path,
// so it is detected from RowsAffected and never logged as a query error.
func FindReceiptByLocalID(ctx context.Context, db *gorm.DB, ownerID, localID string) (*domain.Receipt, error) {
	var r domain.Receipt
	res := db.WithContext(ctx).
		Where("owner_id = ? AND local_id = ?", ownerID, localID).
		Limit(1).
		Find(&r)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &r, nil
}

// CreateReceipt inserts r. It returns ErrDuplicate when a record with the
// same (owner_id, local_id) already exists.
func CreateReceipt(ctx context.Context, db *gorm.DB, r *domain.Receipt) error {
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateReceiptIfNotNewer replaces the payload and timestamps of record id
// only if its stored updated_at is <= updatedAt. applied is false when the
// stored copy is newer (or the row vanished).
func UpdateReceiptIfNotNewer(ctx context.Context, db *gorm.DB, id string, payload domain.Document, updatedAt, syncedAt time.Time) (applied bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.Receipt{}).
		Where("id = ? AND updated_at <= ?", id, updatedAt).
		Updates(map[string]any{
			"payload":    payload,
			"updated_at": updatedAt,
			"synced_at":  syncedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListReceiptsSince returns the owner's records with updated_at >= since,
// newest first. A nil since returns everything. limit <= 0 means no limit.
func ListReceiptsSince(ctx context.Context, db *gorm.DB, ownerID string, since *time.Time, limit int) ([]domain.Receipt, error) {
	q := db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if since != nil {
		q = q.Where("updated_at >= ?", since.UTC())
	}
	q = q.Order("updated_at desc").Order("local_id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	out := []domain.Receipt{}
	err := q.Find(&out).Error
	return out, err
}
