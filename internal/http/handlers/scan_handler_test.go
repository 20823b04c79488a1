package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-receipt-backend/internal/extraction"
	"github.com/tbourn/go-receipt-backend/internal/receipt"
	"github.com/tbourn/go-receipt-backend/internal/services"
)

// ---------- fakes ----------

type stubScanner struct {
	scan func(context.Context, []byte, services.ScanOptions) (*services.ScanResult, error)

	gotImage []byte
	gotOpts  services.ScanOptions
	calls    int
}

func (s *stubScanner) Scan(ctx context.Context, img []byte, opts services.ScanOptions) (*services.ScanResult, error) {
	s.calls++
	s.gotImage, s.gotOpts = img, opts
	if s.scan != nil {
		return s.scan(ctx, img, opts)
	}
	return &services.ScanResult{Kind: extraction.KindNotFound, Model: "m"}, nil
}

// ---------- helpers ----------

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, file []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if file != nil {
		fw, err := mw.CreateFormFile("image", "receipt.png")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write(file)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func scanRouter(s Scanner, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(s, nil, maxUpload)
	r := gin.New()
	r.POST("/receipts/scan", h.ScanReceipt)
	return r
}

func doScan(t *testing.T, r *gin.Engine, file []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, file, fields)
	req := httptest.NewRequest(http.MethodPost, "/receipts/scan", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body: %v (%s)", err, w.Body.String())
	}
	return er.Code
}

// ---------- tests ----------

func TestScanReceipt_Found(t *testing.T) {
	img := pngBytes(t)
	s := &stubScanner{scan: func(context.Context, []byte, services.ScanOptions) (*services.ScanResult, error) {
		return &services.ScanResult{
			Kind:     extraction.KindFound,
			Receipt:  &receipt.Receipt{Merchant: receipt.Merchant{Name: "Aldi"}},
			Barcodes: []receipt.Barcode{{Symbology: "QR_CODE", Text: "https://r.example/1"}},
			Usage:    extraction.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			Model:    "gpt-4o",
		}, nil
	}}
	r := scanRouter(s, 0)

	w := doScan(t, r, img, map[string]string{"model": "gpt-4o", "skip_preprocessing": "true"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !bytes.Equal(s.gotImage, img) || s.gotOpts.Model != "gpt-4o" || !s.gotOpts.SkipPreprocessing {
		t.Fatalf("service got wrong input: opts=%+v", s.gotOpts)
	}

	var resp ScanResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !resp.Found || resp.Receipt == nil || resp.Receipt.Merchant.Name != "Aldi" {
		t.Fatalf("unexpected receipt: %+v", resp)
	}
	if len(resp.Barcodes) != 1 || resp.Usage.TotalTokens != 15 || resp.Cached || resp.Model != "gpt-4o" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestScanReceipt_NotFoundIsSuccess(t *testing.T) {
	r := scanRouter(&stubScanner{}, 0)
	w := doScan(t, r, pngBytes(t), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var m map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	if m["found"] != false || m["receipt"] != nil {
		t.Fatalf("expected found=false, receipt=null: %v", m)
	}
	if bc, ok := m["barcodes"].([]any); !ok || len(bc) != 0 {
		t.Fatalf("barcodes must be an empty array, got %v", m["barcodes"])
	}
}

func TestScanReceipt_InvalidReturns422WithRaw(t *testing.T) {
	s := &stubScanner{scan: func(context.Context, []byte, services.ScanOptions) (*services.ScanResult, error) {
		return &services.ScanResult{
			Kind:    extraction.KindInvalid,
			Failure: &extraction.Failure{Message: "receipt does not match schema", RawResponse: `{"foo":1}`},
		}, nil
	}}
	w := doScan(t, scanRouter(s, 0), pngBytes(t), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ExtractionErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Code != ErrCodeExtractionInvalid || resp.RawResponse != `{"foo":1}` || resp.Message == "" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestScanReceipt_ServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"extraction failed", errors.Join(services.ErrExtractionFailed, errors.New("timeout")), http.StatusBadGateway, ErrCodeExtractionFailed},
		{"empty image", services.ErrEmptyImage, http.StatusBadRequest, ErrCodeBadRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &stubScanner{scan: func(context.Context, []byte, services.ScanOptions) (*services.ScanResult, error) {
				return nil, tc.err
			}}
			w := doScan(t, scanRouter(s, 0), pngBytes(t), nil)
			if w.Code != tc.status || errorCode(t, w) != tc.code {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestScanReceipt_UploadValidation(t *testing.T) {
	img := pngBytes(t)

	t.Run("missing file", func(t *testing.T) {
		s := &stubScanner{}
		w := doScan(t, scanRouter(s, 0), nil, map[string]string{"model": "x"})
		if w.Code != http.StatusBadRequest || s.calls != 0 {
			t.Fatalf("got %d calls=%d", w.Code, s.calls)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		s := &stubScanner{}
		req := httptest.NewRequest(http.MethodPost, "/receipts/scan", bytes.NewReader(img))
		req.Header.Set("Content-Type", "image/png")
		w := httptest.NewRecorder()
		scanRouter(s, 0).ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest || s.calls != 0 {
			t.Fatalf("got %d calls=%d", w.Code, s.calls)
		}
	})

	t.Run("too large", func(t *testing.T) {
		s := &stubScanner{}
		big := append(append([]byte{}, img...), make([]byte, 100)...)
		w := doScan(t, scanRouter(s, int64(len(img))), big, nil)
		if w.Code != http.StatusRequestEntityTooLarge || errorCode(t, w) != ErrCodePayloadTooLarge || s.calls != 0 {
			t.Fatalf("got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		s := &stubScanner{}
		w := doScan(t, scanRouter(s, 0), []byte("%PDF-1.7 a document"), nil)
		if w.Code != http.StatusUnsupportedMediaType || errorCode(t, w) != ErrCodeUnsupportedMedia || s.calls != 0 {
			t.Fatalf("got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("empty file reaches service", func(t *testing.T) {
		s := &stubScanner{scan: func(_ context.Context, b []byte, _ services.ScanOptions) (*services.ScanResult, error) {
			if len(b) != 0 {
				t.Fatalf("expected empty image")
			}
			return nil, services.ErrEmptyImage
		}}
		w := doScan(t, scanRouter(s, 0), []byte{}, nil)
		if w.Code != http.StatusBadRequest || s.calls != 1 {
			t.Fatalf("got %d calls=%d", w.Code, s.calls)
		}
	})
}
