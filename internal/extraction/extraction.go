// Package extraction turns a receipt image into a structured receipt by
// calling a vision-capable completion model under a fixed instruction
// contract.
//
// The contract asks the model for {"receipt": <object>} or {"receipt": null}.
// Older prompt revisions produced the bare receipt object, so the parser
// accepts both shapes and tells them apart by the presence of the "receipt"
// key. Every call ends in an explicit Outcome; only transport failures of the
// completion call are returned as errors.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-receipt-backend/internal/receipt"
)

// ErrUpstream marks a failed completion call (network, status, timeout).
var ErrUpstream = errors.New("extraction upstream failed")

// Kind classifies an extraction outcome.
type Kind string

const (
	KindFound    Kind = "found"
	KindNotFound Kind = "not_found"
	KindInvalid  Kind = "invalid"
)

// Usage is the token accounting reported by the model. Counters the provider
// omits are zero.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Failure describes output that could not be parsed into a receipt. The raw
// model text is kept for diagnosis.
type Failure struct {
	Message     string `json:"message"`
	RawResponse string `json:"rawResponse"`
}

// Outcome is the result of one extraction attempt.
type Outcome struct {
	Kind    Kind
	Receipt *receipt.Receipt
	Failure *Failure
	Usage   Usage
}

// CompletionRequest is one multimodal completion call.
type CompletionRequest struct {
	Model    string
	System   string
	Prompt   string
	Image    []byte
	MIMEType string
}

// Completion is the model's text answer plus usage.
type Completion struct {
	Text  string
	Usage Usage
}

// Completer performs a single vision completion constrained to JSON output.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// Fingerprint identifies the extraction configuration. Two calls with the
// same image and the same fingerprint are expected to produce the same
// outcome.
type Fingerprint struct {
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
	Schema       string `json:"schema"`
}

// Client is the structured extraction client.
type Client struct {
	completer    Completer
	defaultModel string
	schema       string
	instructions string
	timeout      time.Duration
}

// NewClient returns a Client for the default receipt schema. A zero timeout
// leaves deadline handling to the caller's context.
func NewClient(c Completer, defaultModel string, timeout time.Duration) *Client {
	return NewClientWithSchema(c, defaultModel, receipt.Schema, timeout)
}

// NewClientWithSchema returns a Client that targets a custom JSON schema.
func NewClientWithSchema(c Completer, defaultModel, schema string, timeout time.Duration) *Client {
	return &Client{
		completer:    c,
		defaultModel: defaultModel,
		schema:       schema,
		instructions: BuildInstructions(schema),
		timeout:      timeout,
	}
}

// Model resolves the model for a request: the override when non-blank,
// otherwise the configured default.
func (c *Client) Model(override string) string {
	if m := strings.TrimSpace(override); m != "" {
		return m
	}
	return c.defaultModel
}

// Fingerprint returns the configuration identity for the given model.
func (c *Client) Fingerprint(model string) Fingerprint {
	return Fingerprint{Model: model, Instructions: c.instructions, Schema: c.schema}
}

// Extract sends image to the model and parses the answer. The returned
// error is non-nil only when the completion call itself failed, in which
// case it wraps ErrUpstream.
func (c *Client) Extract(ctx context.Context, image []byte, mimeType, model string) (Outcome, error) {
	tr := otel.Tracer("extraction/Client")
	ctx, span := tr.Start(ctx, "Extract",
		trace.WithAttributes(
			attribute.String("model", model),
			attribute.Int("image.bytes", len(image)),
		),
	)
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	comp, err := c.completer.Complete(ctx, CompletionRequest{
		Model:    model,
		System:   c.instructions,
		Prompt:   userPrompt,
		Image:    image,
		MIMEType: mimeType,
	})
	if err != nil {
		span.RecordError(err)
		return Outcome{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	out := Parse(comp.Text)
	out.Usage = comp.Usage
	span.SetAttributes(
		attribute.String("outcome", string(out.Kind)),
		attribute.Int("usage.total_tokens", out.Usage.TotalTokens),
	)
	return out, nil
}
