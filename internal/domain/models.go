// Package domain defines the persistence models for synced receipts. These
// types are mapped with GORM and form the core data layer of the receipt
// backend.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Document is an opaque JSON object stored verbatim. It is written as TEXT so
// that both SQLite and Postgres keep it readable, and it marshals to JSON as
// the raw object rather than a base64 string.
type Document json.RawMessage

// Value implements driver.Valuer.
func (d Document) Value() (driver.Value, error) {
	if len(d) == 0 {
		return "{}", nil
	}
	return string(d), nil
}

// Scan implements sql.Scanner.
func (d *Document) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append(Document(nil), v...)
	case string:
		*d = Document(v)
	default:
		return fmt.Errorf("domain: cannot scan %T into Document", src)
	}
	return nil
}

// MarshalJSON emits the stored object as-is.
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON keeps a copy of the raw bytes.
func (d *Document) UnmarshalJSON(b []byte) error {
	*d = append(Document(nil), b...)
	return nil
}

// Receipt is the server-of-record copy of a client receipt. A record is
// identified by (OwnerID, LocalID); the client assigns LocalID and the server
// assigns ID.
//
// Fields:
//   - ID: server-assigned UUID primary key (char(36)).
//   - OwnerID: identity of the owning user.
//   - LocalID: client-assigned identifier, unique per owner.
//   - Payload: the opaque receipt document as last accepted from the client
//     (possibly enriched).
//   - CreatedAt: fixed by the first accepted write.
//   - UpdatedAt: last-write-wins timestamp, always the client's value.
//   - SyncedAt: server time of the last accepted write.
//
// Timestamps are managed explicitly; GORM auto-time is disabled because the
// sync protocol compares client clocks.
type Receipt struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	OwnerID   string    `json:"owner_id"   gorm:"type:varchar(64);not null;uniqueIndex:ux_receipt_owner_local,priority:1;index:idx_receipt_owner_updated,priority:1"`
	LocalID   string    `json:"local_id"   gorm:"type:varchar(128);not null;uniqueIndex:ux_receipt_owner_local,priority:2"`
	Payload   Document  `json:"payload"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;autoUpdateTime:false;index:idx_receipt_owner_updated,priority:2"`
	SyncedAt  time.Time `json:"synced_at"  gorm:"not null"`
}

// TableName returns the database table name for Receipt.
func (Receipt) TableName() string { return "receipts" }
