// Package services – SyncService
//
// This file implements the receipt sync coordinator. Records are keyed by
// (owner, local id) and reconciled with last-write-wins on the client's
// updatedAt:
//
//   - no stored record          → create
//   - stored.updatedAt > client → skip (server wins; still counted as synced)
//   - otherwise                 → overwrite payload, updatedAt := client value
//
// createdAt is fixed by the first accepted write. Entries of a push batch are
// processed in parallel and independently; the read-compare-write of each is
// made atomic by a conditional update, so a concurrent newer write is never
// overwritten. Winning writes are enriched with merchant facts first.
//
// Observability: public methods are OpenTelemetry-instrumented and per-entry
// outcomes are counted in receipt_sync_entries_total.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-receipt-backend/internal/domain"
	"github.com/tbourn/go-receipt-backend/internal/enrichment"
	"github.com/tbourn/go-receipt-backend/internal/observability"
	"github.com/tbourn/go-receipt-backend/internal/repo"
	"github.com/tbourn/go-receipt-backend/internal/sysutil"
	"github.com/tbourn/go-receipt-backend/internal/utils"
)

const (
	defaultConcurrency = 4
	defaultMaxBatch    = 500
)

// Outcome is what happened to one sync entry.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// SyncEntry is one client record submitted for sync. A missing CreatedAt
// defaults to UpdatedAt.
type SyncEntry struct {
	LocalID   string           `json:"localId"             validate:"required,max=128"                example:"rcpt_01HZX3"`
	Payload   json.RawMessage  `json:"payload"             validate:"required,json_object"            swaggertype:"object"`
	CreatedAt *utils.Timestamp `json:"createdAt,omitempty" swaggertype:"string" example:"2025-03-01T10:00:00.000Z"`
	UpdatedAt *utils.Timestamp `json:"updatedAt"           validate:"required" swaggertype:"string" example:"2025-03-01T10:05:00.000Z"`
}

// SyncRecord is a stored receipt as returned to clients.
type SyncRecord struct {
	LocalID   string          `json:"localId"   example:"rcpt_01HZX3"`
	ServerID  string          `json:"serverId"  example:"6f1c2a9e-8a43-4c1e-9d7b-0c5e2f3a1b4d"`
	Payload   json.RawMessage `json:"payload"   swaggertype:"object"`
	CreatedAt utils.Timestamp `json:"createdAt" swaggertype:"string"`
	UpdatedAt utils.Timestamp `json:"updatedAt" swaggertype:"string"`
	SyncedAt  utils.Timestamp `json:"syncedAt"  swaggertype:"string"`
}

// PushResult aggregates a push batch. Failed lists the local ids of entries
// that errored (or "#<index>" for entries without a usable id).
type PushResult struct {
	Synced int      `json:"synced" example:"2"`
	Errors int      `json:"errors" example:"1"`
	Failed []string `json:"failed"`
}

// PullResult is an incremental pull. Cursor is the greatest updatedAt among
// Records, or the request cursor when nothing was returned.
type PullResult struct {
	Records []SyncRecord     `json:"records"`
	Cursor  *utils.Timestamp `json:"cursor" swaggertype:"string"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("json_object", func(fl validator.FieldLevel) bool {
		b := bytes.TrimSpace(fl.Field().Bytes())
		return len(b) > 0 && b[0] == '{' && json.Valid(b)
	})
	return v
}

// SyncService coordinates receipt sync. Enricher is optional.
type SyncService struct {
	DB       *gorm.DB
	Enricher enrichment.Enricher

	// Concurrency bounds parallel entries per push (default 4).
	Concurrency int
	// MaxBatch bounds entries per push (default 500).
	MaxBatch int

	// Now is the server clock for syncedAt; nil means time.Now.
	Now func() time.Time
}

func (s *SyncService) now() time.Time {
	if s.Now != nil {
		return utils.Millis(s.Now())
	}
	return utils.Millis(time.Now())
}

// Push applies a batch of raw entries for ownerID. Each entry is decoded,
// validated and applied on its own; a bad entry is counted in Errors and
// never affects its siblings. The returned error is non-nil only for
// batch-level problems (empty or oversized batch).
func (s *SyncService) Push(ctx context.Context, ownerID string, entries []json.RawMessage) (*PushResult, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "Push",
		trace.WithAttributes(
			attribute.String("user.id", ownerID),
			attribute.Int("entries", len(entries)),
		),
	)
	defer span.End()

	if len(entries) == 0 {
		return nil, ErrEmptyBatch
	}
	maxBatch := s.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	if len(entries) > maxBatch {
		return nil, ErrBatchTooLarge
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}

	type entryResult struct {
		ref     string
		outcome Outcome
	}
	results := make([]entryResult, len(entries))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, raw := range entries {
		g.Go(func() error {
			ref := "#" + strconv.Itoa(i)
			e, err := decodeEntry(raw)
			if e.LocalID != "" {
				ref = e.LocalID
			}
			outcome := OutcomeFailed
			if err == nil {
				outcome, _, err = s.apply(ctx, ownerID, e)
			}
			if err != nil {
				sysutil.Logger(ctx).Warn().Err(err).Str("stage", "sync").Str("entry", ref).Msg("sync entry failed")
			}
			results[i] = entryResult{ref: ref, outcome: outcome}
			return nil
		})
	}
	_ = g.Wait()

	out := &PushResult{Failed: []string{}}
	for _, r := range results {
		observability.SyncEntries.WithLabelValues(string(r.outcome)).Inc()
		if r.outcome == OutcomeFailed {
			out.Errors++
			out.Failed = append(out.Failed, r.ref)
			continue
		}
		out.Synced++
	}
	span.SetAttributes(attribute.Int("synced", out.Synced), attribute.Int("errors", out.Errors))
	return out, nil
}

// Save applies a single entry (direct save) and returns the stored record,
// which is the server's copy when the server won.
func (s *SyncService) Save(ctx context.Context, ownerID string, e SyncEntry) (*SyncRecord, Outcome, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "Save",
		trace.WithAttributes(
			attribute.String("user.id", ownerID),
			attribute.String("receipt.local_id", e.LocalID),
		),
	)
	defer span.End()

	e.LocalID = strings.TrimSpace(e.LocalID)
	if err := validateEntry(e); err != nil {
		return nil, OutcomeFailed, err
	}

	outcome, rec, err := s.apply(ctx, ownerID, e)
	observability.SyncEntries.WithLabelValues(string(outcome)).Inc()
	if err != nil {
		span.RecordError(err)
		return nil, outcome, err
	}
	if rec == nil {
		if rec, err = repo.FindReceiptByLocalID(ctx, s.DB, ownerID, e.LocalID); err != nil {
			return nil, outcome, err
		}
	}
	out := toRecord(*rec)
	return &out, outcome, nil
}

// Pull returns every record of ownerID with updatedAt >= cursor (all records
// when cursor is nil), newest first.
func (s *SyncService) Pull(ctx context.Context, ownerID string, cursor *time.Time) (*PullResult, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "Pull", trace.WithAttributes(attribute.String("user.id", ownerID)))
	defer span.End()

	var since *time.Time
	if cursor != nil {
		c := utils.Millis(*cursor)
		since = &c
	}

	rows, err := repo.ListReceiptsSince(ctx, s.DB, ownerID, since, 0)
	if err != nil {
		return nil, err
	}

	out := &PullResult{Records: make([]SyncRecord, 0, len(rows))}
	if since != nil {
		out.Cursor = &utils.Timestamp{Time: *since}
	}
	for _, r := range rows {
		rec := toRecord(r)
		out.Records = append(out.Records, rec)
		if out.Cursor == nil || rec.UpdatedAt.After(out.Cursor.Time) {
			c := rec.UpdatedAt
			out.Cursor = &c
		}
	}
	span.SetAttributes(attribute.Int("records", len(out.Records)))
	return out, nil
}

// Get returns one record by local id or ErrReceiptNotFound.
func (s *SyncService) Get(ctx context.Context, ownerID, localID string) (*SyncRecord, error) {
	tr := otel.Tracer("services/SyncService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("user.id", ownerID),
			attribute.String("receipt.local_id", localID),
		),
	)
	defer span.End()

	r, err := repo.FindReceiptByLocalID(ctx, s.DB, ownerID, strings.TrimSpace(localID))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	out := toRecord(*r)
	return &out, nil
}

// ChangeStats summarizes the records a pull from since would return.
// Handlers derive ETags from it.
func (s *SyncService) ChangeStats(ctx context.Context, ownerID string, since *time.Time) (repo.ReceiptStats, error) {
	if since != nil {
		c := utils.Millis(*since)
		since = &c
	}
	return repo.ReceiptsStats(ctx, s.DB, ownerID, since)
}

// apply runs the per-record state machine. rec is the stored record after
// the write (nil when a concurrent newer write won the conditional update).
func (s *SyncService) apply(ctx context.Context, ownerID string, e SyncEntry) (Outcome, *domain.Receipt, error) {
	updatedAt := utils.Millis(e.UpdatedAt.Time)
	createdAt := updatedAt
	if e.CreatedAt != nil && !e.CreatedAt.IsZero() {
		createdAt = utils.Millis(e.CreatedAt.Time)
	}
	payload, err := stampLocalID(e.Payload, e.LocalID)
	if err != nil {
		return OutcomeFailed, nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// A lost create race is retried once through the update path.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := repo.FindReceiptByLocalID(ctx, s.DB, ownerID, e.LocalID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			now := s.now()
			rec := &domain.Receipt{
				ID:        uuid.NewString(),
				OwnerID:   ownerID,
				LocalID:   e.LocalID,
				Payload:   domain.Document(s.enrich(ctx, e.LocalID, payload)),
				CreatedAt: createdAt,
				UpdatedAt: updatedAt,
				SyncedAt:  now,
			}
			err := repo.CreateReceipt(ctx, s.DB, rec)
			if errors.Is(err, repo.ErrDuplicate) {
				continue
			}
			if err != nil {
				return OutcomeFailed, nil, err
			}
			return OutcomeCreated, rec, nil

		case err != nil:
			return OutcomeFailed, nil, err
		}

		if existing.UpdatedAt.After(updatedAt) {
			return OutcomeSkipped, existing, nil
		}

		enriched := domain.Document(s.enrich(ctx, e.LocalID, payload))
		now := s.now()
		applied, err := repo.UpdateReceiptIfNotNewer(ctx, s.DB, existing.ID, enriched, updatedAt, now)
		if err != nil {
			return OutcomeFailed, nil, err
		}
		if !applied {
			return OutcomeSkipped, nil, nil
		}
		existing.Payload = enriched
		existing.UpdatedAt = updatedAt
		existing.SyncedAt = now
		return OutcomeUpdated, existing, nil
	}
	return OutcomeFailed, nil, errors.New("sync: concurrent create did not settle")
}

// enrich merges merchant facts into payload. It never fails.
func (s *SyncService) enrich(ctx context.Context, localID string, payload []byte) []byte {
	if s.Enricher == nil {
		return payload
	}
	q, ok := enrichment.QueryFromPayload(localID, payload)
	if !ok {
		return payload
	}
	merged, changed := enrichment.MergePayload(payload, s.Enricher.Enrich(ctx, q))
	if changed {
		sysutil.Logger(ctx).Debug().Str("stage", "enrichment").Str("entry", localID).Msg("merchant enriched")
	}
	return merged
}

func decodeEntry(raw json.RawMessage) (SyncEntry, error) {
	var e SyncEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Keep the id when only another field is malformed.
		var idOnly struct {
			LocalID string `json:"localId"`
		}
		_ = json.Unmarshal(raw, &idOnly)
		return SyncEntry{LocalID: strings.TrimSpace(idOnly.LocalID)}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	e.LocalID = strings.TrimSpace(e.LocalID)
	if err := validateEntry(e); err != nil {
		return e, err
	}
	return e, nil
}

func validateEntry(e SyncEntry) error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: updatedAt is zero", ErrInvalidEntry)
	}
	return nil
}

// stampLocalID sets payload.appData.localId, keeping every other field.
func stampLocalID(payload json.RawMessage, localID string) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, err
	}
	if top == nil {
		return nil, errors.New("payload is not an object")
	}

	app := map[string]json.RawMessage{}
	if raw, ok := top["appData"]; ok {
		// A non-object appData is replaced.
		_ = json.Unmarshal(raw, &app)
		if app == nil {
			app = map[string]json.RawMessage{}
		}
	}
	id, _ := json.Marshal(localID)
	app["localId"] = id

	ab, err := json.Marshal(app)
	if err != nil {
		return nil, err
	}
	top["appData"] = ab
	return json.Marshal(top)
}

func toRecord(r domain.Receipt) SyncRecord {
	return SyncRecord{
		LocalID:   r.LocalID,
		ServerID:  r.ID,
		Payload:   json.RawMessage(r.Payload),
		CreatedAt: utils.Timestamp{Time: utils.Millis(r.CreatedAt)},
		UpdatedAt: utils.Timestamp{Time: utils.Millis(r.UpdatedAt)},
		SyncedAt:  utils.Timestamp{Time: utils.Millis(r.SyncedAt)},
	}
}
