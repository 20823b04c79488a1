package extraction

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tbourn/go-receipt-backend/internal/receipt"
)

// StripFences removes a surrounding Markdown code fence (``` or ```json) and
// surrounding whitespace. Text without a fence is only trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string ("json", "JSON", ...) up to the first newline.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		if info := strings.TrimSpace(s[:i]); !strings.ContainsAny(info, "{[") {
			s = s[i+1:]
		}
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Parse interprets model text under the instruction contract:
//   - {"receipt": null}         → KindNotFound
//   - {"receipt": {...}}        → KindFound
//   - {...} without "receipt"   → KindFound (legacy bare shape)
//   - anything else             → KindInvalid with the raw text kept
//
// Found receipts are normalized.
func Parse(text string) Outcome {
	body := StripFences(text)
	if body == "" {
		return invalid("empty response", text)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return invalid("response is not a JSON object: "+err.Error(), text)
	}

	payload := []byte(body)
	if raw, ok := envelope["receipt"]; ok {
		if isNull(raw) {
			return Outcome{Kind: KindNotFound}
		}
		payload = raw
	}

	var r receipt.Receipt
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&r); err != nil {
		return invalid("receipt does not match schema: "+err.Error(), text)
	}
	if !hasReceiptShape(payload) {
		return invalid("receipt does not match schema: no merchant, transaction, items or totals", text)
	}
	return Outcome{Kind: KindFound, Receipt: receipt.Normalize(&r)}
}

// hasReceiptShape requires at least one top-level section of the receipt.
func hasReceiptShape(payload []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return false
	}
	for _, k := range []string{"merchant", "transaction", "items", "totals"} {
		if v, ok := fields[k]; ok && !isNull(v) {
			return true
		}
	}
	return false
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func invalid(msg, raw string) Outcome {
	return Outcome{Kind: KindInvalid, Failure: &Failure{Message: msg, RawResponse: raw}}
}
