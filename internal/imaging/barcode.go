package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/tbourn/go-receipt-backend/internal/receipt"
)

// ErrDetectTimeout is returned when detection exceeds its time budget.
var ErrDetectTimeout = errors.New("barcode detection timed out")

// Decoder is the subset of gozxing.Reader used by Detector.
type Decoder interface {
	Decode(image *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) (*gozxing.Result, error)
}

// DefaultMaxDetectPixels bounds the images the detector will decode and
// binarize. Receipts photographed at phone resolution fit well below it.
const DefaultMaxDetectPixels = 40_000_000

// DefaultDecoders returns the symbologies receipts commonly carry: QR and
// Data Matrix for 2D, and the retail/logistics 1D families.
func DefaultDecoders() []Decoder {
	return []Decoder{
		qrcode.NewQRCodeReader(),
		datamatrix.NewDataMatrixReader(),
		oned.NewCode128Reader(),
		oned.NewEAN13Reader(),
		oned.NewEAN8Reader(),
		oned.NewUPCAReader(),
		oned.NewUPCEReader(),
		oned.NewCode39Reader(),
		oned.NewCode93Reader(),
		oned.NewCodaBarReader(),
		oned.NewITFReader(),
	}
}

// Detector decodes barcodes from receipt images. MaxPixels caps width×height
// of a decodable image; zero means DefaultMaxDetectPixels.
type Detector struct {
	Timeout   time.Duration
	MaxPixels int64
	Decoders  func() []Decoder
}

// NewDetector returns a Detector with the default decoders.
func NewDetector(timeout time.Duration) *Detector {
	return &Detector{Timeout: timeout, MaxPixels: DefaultMaxDetectPixels, Decoders: DefaultDecoders}
}

// Detect decodes every supported symbology it can find in data. It never
// returns a partial list together with an error: on failure the result is
// empty and the error explains why. An image without barcodes yields an
// empty slice and a nil error.
func (d *Detector) Detect(ctx context.Context, data []byte) ([]receipt.Barcode, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	type outcome struct {
		codes []receipt.Barcode
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("decoder panic: %v", rec)}
			}
		}()
		codes, err := d.decode(data)
		done <- outcome{codes: codes, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return []receipt.Barcode{}, o.err
		}
		return o.codes, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return []receipt.Barcode{}, ErrDetectTimeout
		}
		return []receipt.Barcode{}, ctx.Err()
	}
}

func (d *Detector) decode(data []byte) ([]receipt.Barcode, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	budget := d.MaxPixels
	if budget <= 0 {
		budget = DefaultMaxDetectPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > budget {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooLarge)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize: %w", err)
	}

	decoders := DefaultDecoders
	if d.Decoders != nil {
		decoders = d.Decoders
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	out := []receipt.Barcode{}
	seen := make(map[receipt.Barcode]struct{})
	for _, dec := range decoders() {
		res, err := dec.Decode(bmp, hints)
		if err != nil || res == nil {
			// NotFound/Checksum/Format errors just mean "not this symbology".
			continue
		}
		bc := receipt.Barcode{Symbology: res.GetBarcodeFormat().String(), Text: res.GetText()}
		if bc.Text == "" {
			continue
		}
		if _, dup := seen[bc]; dup {
			continue
		}
		seen[bc] = struct{}{}
		out = append(out, bc)
	}
	return out, nil
}
