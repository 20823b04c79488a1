// Sync HTTP handlers.
//
// Push and pull carry whole batches; save and get address one receipt by
// its client-generated local id. Pull supports a weak ETag derived from the
// window's record count, newest updatedAt and latest server sync time, so
// an unchanged poll costs a few aggregate queries and returns 304.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-receipt-backend/internal/repo"
	"github.com/tbourn/go-receipt-backend/internal/services"
	"github.com/tbourn/go-receipt-backend/internal/utils"
)

//
// DTOs
//

// PushRequest is a batch of client records. Entries are decoded one by one
// so a malformed entry is reported in the result instead of failing the
// request.
type PushRequest struct {
	Entries []json.RawMessage `json:"entries" binding:"required" swaggertype:"array,object"`
}

// SaveResponse is the stored record after a direct save. Outcome is
// "skipped" when the server copy was newer; Record is then the server copy.
type SaveResponse struct {
	Outcome services.Outcome    `json:"outcome" example:"created"`
	Record  services.SyncRecord `json:"record"`
}

//
// Handlers
//

// SyncPush godoc
// @ID          syncPush
// @Summary     Push receipts
// @Description Applies a batch with last-write-wins on updatedAt. Entries are independent: failures are counted and listed, never fatal to the batch.
// @Tags        Sync
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID"  example(user123)
// @Param       Idempotency-Key  header  string  false "Replay-safe retry key"
// @Param       body             body    handlers.PushRequest  true  "Entries"
//
// @Success     200  {object}  services.PushResult
// @Header      200  {string}  Idempotency-Replayed  "true when served from a previous identical request"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     413  {object}  handlers.ErrorResponse  "Too many entries or body too large"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /receipts/sync [post]
func (h *Handlers) SyncPush(c *gin.Context) {
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}

	res, err := h.sync.Push(c.Request.Context(), userID(c), req.Entries)
	switch {
	case errors.Is(err, services.ErrEmptyBatch):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrBatchTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}

// SyncPull godoc
// @ID          syncPull
// @Summary     Pull receipts
// @Description Returns every record with updatedAt >= cursor (all records without a cursor), newest first. The response cursor is the greatest updatedAt returned, or the request cursor when nothing matched. Supports weak ETag via If-None-Match.
// @Tags        Sync
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID"                     example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       cursor         query   string  false "RFC 3339 timestamp or unix milliseconds"  example(2025-03-01T10:00:00.000Z)
//
// @Success     200  {object}  services.PullResult
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Bad cursor"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /receipts/sync [get]
func (h *Handlers) SyncPull(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	var cursor *time.Time
	if raw := strings.TrimSpace(c.Query("cursor")); raw != "" {
		t, err := utils.ParseTimestamp(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cursor must be RFC 3339 or unix milliseconds")
			return
		}
		cursor = &t
	}

	// ETag pre-check (best effort).
	if st, err := h.sync.ChangeStats(ctx, uid, cursor); err == nil {
		etag := pullETag(uid, cursor, st)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	res, err := h.sync.Pull(ctx, uid, cursor)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}

// SaveReceipt godoc
// @ID          saveReceipt
// @Summary     Save one receipt
// @Description Applies one entry with the same last-write-wins rules as push and returns the stored record.
// @Tags        Sync
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID"  example(user123)
// @Param       Idempotency-Key  header  string  false "Replay-safe retry key"
// @Param       body             body    services.SyncEntry  true  "Entry"
//
// @Success     200  {object}  handlers.SaveResponse  "Updated or skipped"
// @Success     201  {object}  handlers.SaveResponse  "Created"
// @Failure     400  {object}  handlers.ErrorResponse "Invalid entry"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /receipts [post]
func (h *Handlers) SaveReceipt(c *gin.Context) {
	var e services.SyncEntry
	if err := c.ShouldBindJSON(&e); err != nil {
		bindFailed(c, err)
		return
	}

	rec, outcome, err := h.sync.Save(c.Request.Context(), userID(c), e)
	switch {
	case errors.Is(err, services.ErrInvalidEntry):
		fail(c, http.StatusBadRequest, ErrCodeInvalidEntry, err.Error())
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}

	status := http.StatusOK
	if outcome == services.OutcomeCreated {
		status = http.StatusCreated
	}
	ok(c, status, SaveResponse{Outcome: outcome, Record: *rec})
}

// GetReceipt godoc
// @ID          getReceipt
// @Summary     Get one receipt
// @Tags        Sync
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID"           example(user123)
// @Param       localId    path    string  true  "Client local id"   example(rcpt_01HZX3)
//
// @Success     200  {object}  services.SyncRecord
// @Failure     404  {object}  handlers.ErrorResponse "Receipt not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /receipts/{localId} [get]
func (h *Handlers) GetReceipt(c *gin.Context) {
	rec, err := h.sync.Get(c.Request.Context(), userID(c), c.Param("localId"))
	switch {
	case errors.Is(err, services.ErrReceiptNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "receipt not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, rec)
}

//
// Helpers
//

// pullETag changes whenever a write is accepted inside the pull window.
func pullETag(uid string, cursor *time.Time, st repo.ReceiptStats) string {
	var since, newest, synced int64
	if cursor != nil {
		since = cursor.UnixMilli()
	}
	if st.MaxUpdatedAt != nil {
		newest = st.MaxUpdatedAt.UnixMilli()
	}
	if st.LastSyncedAt != nil {
		synced = st.LastSyncedAt.UnixMilli()
	}
	return fmt.Sprintf(`W/"receipts:%s:%d:%d:%d:%d"`, uid, since, st.Count, newest, synced)
}

// bindFailed answers a JSON bind error: 413 when the route's body cap was
// hit, 400 otherwise.
func bindFailed(c *gin.Context, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
		return
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
}
