// Package services – ScanService
//
// This file implements the receipt scan pipeline:
//
//	image → preprocess → {barcode detection, cache key} → cache lookup
//	      → on miss: extraction → cache write → merge barcodes → result
//
// Preprocessing, detection and the cache are best-effort and their failures
// are absorbed; only a failed extraction call ends the scan with an error.
// Detection runs concurrently with the cache lookup and extraction.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-receipt-backend/internal/cache"
	"github.com/tbourn/go-receipt-backend/internal/extraction"
	"github.com/tbourn/go-receipt-backend/internal/imaging"
	"github.com/tbourn/go-receipt-backend/internal/observability"
	"github.com/tbourn/go-receipt-backend/internal/receipt"
)

// Extractor is the structured extraction client consumed by ScanService.
type Extractor interface {
	Model(override string) string
	Fingerprint(model string) extraction.Fingerprint
	Extract(ctx context.Context, image []byte, mimeType, model string) (extraction.Outcome, error)
}

// BarcodeDetector finds barcodes in an image.
type BarcodeDetector interface {
	Detect(ctx context.Context, image []byte) ([]receipt.Barcode, error)
}

// ImagePreprocessor canonicalizes image bytes. On error it returns the
// bytes to continue with alongside the error.
type ImagePreprocessor interface {
	Process(raw []byte) ([]byte, error)
}

// ScanOptions are per-request scan parameters.
type ScanOptions struct {
	// Model overrides the configured extraction model when non-blank.
	Model string
	// SkipPreprocessing hashes, scans and extracts the raw upload.
	SkipPreprocessing bool
}

// ScanResult is the outcome of a scan. Kind tells found, not-found and
// invalid apart; Usage is zero when the result came from the cache.
type ScanResult struct {
	Kind     extraction.Kind
	Receipt  *receipt.Receipt
	Failure  *extraction.Failure
	Barcodes []receipt.Barcode
	Usage    extraction.Usage
	Model    string
	Cached   bool
}

// ScanService runs the scan pipeline. Preprocessor and Detector are
// optional; a nil Cache disables caching.
type ScanService struct {
	Preprocessor ImagePreprocessor
	Detector     BarcodeDetector
	Extractor    Extractor
	Cache        *cache.ExtractionCache
}

// Scan turns an uploaded image into a ScanResult.
func (s *ScanService) Scan(ctx context.Context, image []byte, opts ScanOptions) (*ScanResult, error) {
	tr := otel.Tracer("services/ScanService")
	ctx, span := tr.Start(ctx, "Scan",
		trace.WithAttributes(
			attribute.Int("image.bytes", len(image)),
			attribute.Bool("skip_preprocessing", opts.SkipPreprocessing),
		),
	)
	defer span.End()

	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	pre := s.preprocess(image, opts.SkipPreprocessing)
	canonical, _ := pre.resolve(ctx, image)

	// Detection is independent of everything below; its result is joined last.
	// An image over the decode budget is never handed to the detector.
	detected := stageResult[[]receipt.Barcode]{stage: "barcode", policy: absorb, value: []receipt.Barcode{}}
	var g errgroup.Group
	if !errors.Is(pre.err, imaging.ErrTooLarge) {
		g.Go(func() error {
			detected = s.detect(ctx, canonical)
			return nil
		})
	}

	model := s.Extractor.Model(opts.Model)
	key := cache.KeyFor(canonical, s.Extractor.Fingerprint(model))
	span.SetAttributes(attribute.String("model", model))

	res, err := s.lookup(ctx, key)
	if res == nil && err == nil {
		res, err = s.extract(ctx, canonical, model)
	}

	_ = g.Wait()
	barcodes, _ := detected.resolve(ctx, []receipt.Barcode{})

	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !res.Cached {
		s.Cache.Set(ctx, key, cache.Entry{
			Receipt:  res.Receipt,
			Failure:  res.Failure,
			Barcodes: barcodes,
			Usage:    res.Usage,
		})
	}

	res.Model = model
	res.Barcodes = mergeBarcodes(res.Barcodes, barcodes)
	span.SetAttributes(
		attribute.String("outcome", string(res.Kind)),
		attribute.Bool("cached", res.Cached),
		attribute.Int("barcodes", len(res.Barcodes)),
	)
	return res, nil
}

func (s *ScanService) preprocess(image []byte, skip bool) stageResult[[]byte] {
	r := stageResult[[]byte]{stage: "preprocess", policy: absorb, value: image}
	if skip || s.Preprocessor == nil {
		return r
	}
	out, err := s.Preprocessor.Process(image)
	if len(out) == 0 {
		out = image
	}
	r.value, r.err = out, err
	return r
}

func (s *ScanService) detect(ctx context.Context, image []byte) stageResult[[]receipt.Barcode] {
	r := stageResult[[]receipt.Barcode]{stage: "barcode", policy: absorb, value: []receipt.Barcode{}}
	if s.Detector == nil {
		return r
	}
	codes, err := s.Detector.Detect(ctx, image)
	if codes != nil {
		r.value = codes
	}
	r.err = err
	return r
}

// lookup returns a cached result, or (nil, nil) on a miss.
func (s *ScanService) lookup(ctx context.Context, key string) (*ScanResult, error) {
	if !s.Cache.Enabled() {
		observability.ScanCache.WithLabelValues("disabled").Inc()
		return nil, nil
	}
	e, ok := s.Cache.Get(ctx, key)
	if !ok {
		observability.ScanCache.WithLabelValues("miss").Inc()
		return nil, nil
	}
	observability.ScanCache.WithLabelValues("hit").Inc()

	res := &ScanResult{
		Kind:     extraction.KindNotFound,
		Receipt:  e.Receipt,
		Failure:  e.Failure,
		Barcodes: e.Barcodes,
		Cached:   true,
	}
	switch {
	case e.Receipt != nil:
		res.Kind = extraction.KindFound
	case e.Failure != nil:
		res.Kind = extraction.KindInvalid
	}
	return res, nil
}

func (s *ScanService) extract(ctx context.Context, image []byte, model string) (*ScanResult, error) {
	start := time.Now()
	out, err := s.Extractor.Extract(ctx, image, imaging.DetectMIME(image), model)
	observability.ExtractionDuration.Observe(time.Since(start).Seconds())

	stage := stageResult[extraction.Outcome]{stage: "extraction", policy: propagate, value: out, err: err}
	out, err = stage.resolve(ctx, extraction.Outcome{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	observability.ExtractionTokens.WithLabelValues("prompt").Add(float64(out.Usage.PromptTokens))
	observability.ExtractionTokens.WithLabelValues("completion").Add(float64(out.Usage.CompletionTokens))
	observability.ExtractionTokens.WithLabelValues("total").Add(float64(out.Usage.TotalTokens))

	return &ScanResult{
		Kind:    out.Kind,
		Receipt: out.Receipt,
		Failure: out.Failure,
		Usage:   out.Usage,
	}, nil
}

// mergeBarcodes unions two barcode lists, keeping first-seen order and
// dropping duplicates by (symbology, text).
func mergeBarcodes(lists ...[]receipt.Barcode) []receipt.Barcode {
	out := []receipt.Barcode{}
	seen := map[receipt.Barcode]struct{}{}
	for _, l := range lists {
		for _, b := range l {
			if b.Text == "" {
				continue
			}
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			out = append(out, b)
		}
	}
	return out
}
