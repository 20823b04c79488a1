// Package imaging prepares receipt photos for extraction. It bounds image
// height before the photo is hashed and sent to the vision model, and it
// decodes any 1D/2D barcodes printed on the receipt.
//
// Both components are best effort: on any error the preprocessor hands back
// the original bytes and the detector reports no barcodes, so callers log the
// error and continue.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // decoder registration
	"image/jpeg"
	_ "image/png" // decoder registration
	"math"
	"net/http"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decoder registration
)

// DefaultMaxHeight is the height above which photos are scaled down.
const DefaultMaxHeight = 1280

// maxPixels guards against decompression bombs.
const maxPixels = 80_000_000

// ErrTooLarge is returned when an image exceeds the decode pixel budget.
var ErrTooLarge = errors.New("image exceeds pixel budget")

// Preprocessor bounds image height, preserving aspect ratio and never
// upscaling. The zero value uses DefaultMaxHeight and JPEG quality 85.
type Preprocessor struct {
	MaxHeight   int
	JPEGQuality int
}

// NewPreprocessor returns a Preprocessor with the given bounds.
func NewPreprocessor(maxHeight, quality int) *Preprocessor {
	return &Preprocessor{MaxHeight: maxHeight, JPEGQuality: quality}
}

// Process returns the canonical bytes for raw. Images at or below the height
// bound are returned unchanged (same bytes). Taller images are scaled to the
// bound and re-encoded as JPEG. On any failure the original bytes are
// returned together with the error that caused the fallback.
func (p *Preprocessor) Process(raw []byte) ([]byte, error) {
	maxH := p.MaxHeight
	if maxH <= 0 {
		maxH = DefaultMaxHeight
	}
	q := p.JPEGQuality
	if q <= 0 || q > 100 {
		q = 85
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return raw, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Height <= maxH {
		return raw, nil
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return raw, ErrTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return raw, fmt.Errorf("decode: %w", err)
	}
	sb := src.Bounds()
	w, h := scaledSize(sb.Dx(), sb.Dy(), maxH)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten transparent PNG/WebP onto white.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
		return raw, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// scaledSize returns the size of a w×h image scaled to height maxH.
func scaledSize(w, h, maxH int) (int, int) {
	nw := int(math.Round(float64(w) * float64(maxH) / float64(h)))
	if nw < 1 {
		nw = 1
	}
	return nw, maxH
}

// SniffMIME reports the sniffed media type and whether it is an image
// format the pipeline can decode.
func SniffMIME(b []byte) (string, bool) {
	ct := http.DetectContentType(b)
	switch ct {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return ct, true
	}
	return ct, false
}

// DetectMIME sniffs the media type of an image payload. Unknown payloads
// are reported as image/jpeg, which vision endpoints accept most widely.
func DetectMIME(b []byte) string {
	if ct, ok := SniffMIME(b); ok {
		return ct
	}
	return "image/jpeg"
}
