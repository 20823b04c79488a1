// Package handlers exposes the receipt API over HTTP:
//   - POST /receipts/scan       (scan an image)
//   - POST /receipts/sync       (push a batch)
//   - GET  /receipts/sync       (incremental pull, ETag support)
//   - POST /receipts            (direct save)
//   - GET  /receipts/{localId}  (fetch one)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-receipt-backend/internal/http/middleware"
	"github.com/tbourn/go-receipt-backend/internal/repo"
	"github.com/tbourn/go-receipt-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// Scanner runs the scan pipeline on one image.
type Scanner interface {
	Scan(ctx context.Context, image []byte, opts services.ScanOptions) (*services.ScanResult, error)
}

// Syncer reconciles client receipts with the server store.
type Syncer interface {
	Push(ctx context.Context, ownerID string, entries []json.RawMessage) (*services.PushResult, error)
	Pull(ctx context.Context, ownerID string, cursor *time.Time) (*services.PullResult, error)
	Save(ctx context.Context, ownerID string, e services.SyncEntry) (*services.SyncRecord, services.Outcome, error)
	Get(ctx context.Context, ownerID, localID string) (*services.SyncRecord, error)
	ChangeStats(ctx context.Context, ownerID string, since *time.Time) (repo.ReceiptStats, error)
}

//
// Handler wiring
//

// Handlers groups the receipt endpoints.
type Handlers struct {
	scan Scanner
	sync Syncer

	maxUploadBytes int64
}

// New binds handlers to services. maxUploadBytes caps the scan image size
// (<= 0 means 10 MiB).
func New(scan Scanner, sync Syncer, maxUploadBytes int64) *Handlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handlers{scan: scan, sync: sync, maxUploadBytes: maxUploadBytes}
}

// userID extracts the caller identity set by middleware.Identity. Without
// that middleware (tests) it falls back to the X-User-ID header, and finally
// to "demo-user".
func userID(c *gin.Context) string {
	if uid := middleware.UserID(c); uid != "" {
		return uid
	}
	if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader(middleware.HeaderUserID)); h != "" {
			return h
		}
	}
	return "demo-user"
}
