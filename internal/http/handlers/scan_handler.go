// Scan HTTP handler.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-receipt-backend/internal/extraction"
	"github.com/tbourn/go-receipt-backend/internal/imaging"
	"github.com/tbourn/go-receipt-backend/internal/receipt"
	"github.com/tbourn/go-receipt-backend/internal/services"
	"github.com/tbourn/go-receipt-backend/internal/sysutil"
)

// ScanResponse is the result of a successful scan. Receipt is null when the
// image does not show a receipt (found=false); that is not an error.
type ScanResponse struct {
	Found    bool              `json:"found"    example:"true"`
	Receipt  *receipt.Receipt  `json:"receipt"`
	Barcodes []receipt.Barcode `json:"barcodes"`
	Usage    extraction.Usage  `json:"usage"`
	Model    string            `json:"model"    example:"gpt-4o-mini"`
	Cached   bool              `json:"cached"   example:"false"`
}

// ScanReceipt godoc
// @ID          scanReceipt
// @Summary     Scan a receipt image
// @Description Extracts a structured receipt and any barcodes from an uploaded image. Identical images with the same model are served from cache with zero usage.
// @Tags        Receipts
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID           header    string  false "User ID"                                 example(user123)
// @Param       Idempotency-Key     header    string  false "Replay-safe retry key"
// @Param       image               formData  file    true  "Receipt image (JPEG, PNG, GIF or WebP)"
// @Param       model               formData  string  false "Vision model override"
// @Param       skip_preprocessing  formData  bool    false "Send the image as uploaded"
//
// @Success     200  {object}  handlers.ScanResponse
// @Failure     400  {object}  handlers.ErrorResponse            "Missing or empty image"
// @Failure     413  {object}  handlers.ErrorResponse            "Image too large"
// @Failure     415  {object}  handlers.ErrorResponse            "Unsupported image format"
// @Failure     422  {object}  handlers.ExtractionErrorResponse  "Model output did not validate"
// @Failure     429  {object}  handlers.ErrorResponse            "Rate limited"
// @Failure     502  {object}  handlers.ErrorResponse            "Extraction service unavailable"
// @Router      /receipts/scan [post]
func (h *Handlers) ScanReceipt(c *gin.Context) {
	image, status, err := h.readImage(c)
	if err != nil {
		code := ErrCodeBadRequest
		switch status {
		case http.StatusRequestEntityTooLarge:
			code = ErrCodePayloadTooLarge
		case http.StatusUnsupportedMediaType:
			code = ErrCodeUnsupportedMedia
		}
		fail(c, status, code, err.Error())
		return
	}

	res, err := h.scan.Scan(c.Request.Context(), image, services.ScanOptions{
		Model:             c.PostForm("model"),
		SkipPreprocessing: sysutil.IsTruthy(c.PostForm("skip_preprocessing")),
	})
	switch {
	case errors.Is(err, services.ErrEmptyImage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image is empty")
		return
	case errors.Is(err, services.ErrExtractionFailed):
		fail(c, http.StatusBadGateway, ErrCodeExtractionFailed, "receipt extraction is temporarily unavailable")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	if res.Kind == extraction.KindInvalid {
		var msg, raw string
		if res.Failure != nil {
			msg, raw = res.Failure.Message, res.Failure.RawResponse
		}
		abortWith(c, http.StatusUnprocessableEntity, ErrCodeExtractionInvalid, msg, ExtractionErrorResponse{
			ErrorResponse: errorEnvelope(c, ErrCodeExtractionInvalid, msg),
			RawResponse:   raw,
		})
		return
	}

	barcodes := res.Barcodes
	if barcodes == nil {
		barcodes = []receipt.Barcode{}
	}
	ok(c, http.StatusOK, ScanResponse{
		Found:    res.Kind == extraction.KindFound,
		Receipt:  res.Receipt,
		Barcodes: barcodes,
		Usage:    res.Usage,
		Model:    res.Model,
		Cached:   res.Cached,
	})
}

var (
	errImageRequired = errors.New(`multipart file field "image" is required`)
	errImageTooLarge = errors.New("image exceeds the upload limit")
	errImageFormat   = errors.New("image must be JPEG, PNG, GIF or WebP")
)

// readImage reads the "image" part, enforcing the upload limit and sniffing
// the format. The returned status applies when err is non-nil.
func (h *Handlers) readImage(c *gin.Context) ([]byte, int, error) {
	// Multipart framing and the text fields get a little headroom.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64<<10)

	fh, err := c.FormFile("image")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
			return nil, http.StatusRequestEntityTooLarge, errImageTooLarge
		}
		return nil, http.StatusBadRequest, errImageRequired
	}
	if fh.Size > h.maxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge, errImageTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return nil, http.StatusBadRequest, errImageRequired
	}
	defer f.Close()

	image, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return nil, http.StatusBadRequest, errImageRequired
	}
	if int64(len(image)) > h.maxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge, errImageTooLarge
	}
	if len(image) == 0 {
		// Let the service report it with its own error.
		return image, 0, nil
	}
	if _, ok := imaging.SniffMIME(image); !ok {
		return nil, http.StatusUnsupportedMediaType, errImageFormat
	}
	return image, 0, nil
}
