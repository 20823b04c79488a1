// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key handling for unsafe methods. A valid
// key is stashed in the Gin context. When a store is configured, the first
// successful (2xx) response for (user, method+route, key) is recorded and
// later requests with the same key receive the recorded status and body
// with "Idempotency-Replayed: true", without reaching the handler or the
// rate limiter. Store failures never block the request.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey is the request header carrying the key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotencyReplayed marks a response served from the store.
	HeaderIdempotencyReplayed = "Idempotency-Replayed"

	defaultIdemMaxLen = 200
	// Larger responses are served but not recorded.
	maxRecordedBody = 1 << 20
)

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// StoredResponse is a recorded response eligible for replay.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyStore persists recorded responses. Lookup returns (nil, nil)
// when nothing valid is stored; expiry is the store's concern.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scope, key string, now time.Time) (*StoredResponse, error)
	Record(ctx context.Context, userID, scope, key string, resp StoredResponse) error
}

// IdempotencyOptions configures key validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Now is the clock passed to Lookup; nil means time.Now.
	Now func() time.Time
}

// GetIdempotencyKey returns the validated key, if any.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// IsReplay reports whether this request was answered from the store.
func IsReplay(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyIdemReplay).(bool)
	return b
}

// Idempotency validates the key header and, with a non-nil store, replays
// or records responses. Requests without the header pass through untouched;
// malformed keys get 400 bad_idempotency_key.
func Idempotency(opts IdempotencyOptions, store IdempotencyStore) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if store == nil || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		uid := UserID(c)
		scope := c.Request.Method + " " + routeOf(c)

		prev, err := store.Lookup(ctx, uid, scope, key, now().UTC())
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("stage", "idempotency").Msg("lookup failed")
		}
		if prev != nil {
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
			c.Header(HeaderIdempotencyReplayed, "true")
			c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
			c.Abort()
			return
		}

		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		c.Next()

		status := cw.Status()
		if status < 200 || status >= 300 || cw.overflow {
			return
		}
		resp := StoredResponse{Status: status, Body: cw.buf.Bytes()}
		if err := store.Record(ctx, uid, scope, key, resp); err != nil {
			LoggerFrom(c).Warn().Err(err).Str("stage", "idempotency").Msg("record failed")
		}
	}
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// captureWriter tees the response body into buf up to maxRecordedBody.
type captureWriter struct {
	gin.ResponseWriter
	buf      bytes.Buffer
	overflow bool
}

func (w *captureWriter) capture(n int, write func()) {
	if w.overflow {
		return
	}
	if w.buf.Len()+n > maxRecordedBody {
		w.overflow = true
		w.buf.Reset()
		return
	}
	write()
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.capture(len(b), func() { w.buf.Write(b) })
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.capture(len(s), func() { w.buf.WriteString(s) })
	return w.ResponseWriter.WriteString(s)
}
