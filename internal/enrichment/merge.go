package enrichment

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/tbourn/go-receipt-backend/internal/receipt"
)

var placeholderNames = map[string]struct{}{
	"unknown":          {},
	"unknown merchant": {},
	"merchant":         {},
	"store":            {},
	"shop":             {},
	"retail":           {},
	"n/a":              {},
	"none":             {},
	"null":             {},
	"undefined":        {},
	"receipt":          {},
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// IsPlaceholder reports whether name is a generic stand-in rather than a
// merchant identity.
func IsPlaceholder(name string) bool {
	_, ok := placeholderNames[fold(name)]
	return ok
}

// MergeMerchant applies r onto m without overwriting existing data, except
// that a specific enrichment name replaces a different existing name. It
// reports whether anything changed.
func MergeMerchant(m receipt.Merchant, r Result) (receipt.Merchant, bool) {
	changed := false

	if name := strings.TrimSpace(r.MerchantName); name != "" && !IsPlaceholder(name) && fold(name) != fold(m.Name) {
		m.Name = name
		changed = true
	}

	fill := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && strings.TrimSpace(*dst) == "" {
			*dst = v
			changed = true
		}
	}
	fill(&m.Address.Street, r.Address.Street)
	fill(&m.Address.City, r.Address.City)
	fill(&m.Address.State, r.Address.State)
	fill(&m.Address.PostalCode, r.Address.PostalCode)
	fill(&m.Address.Country, r.Address.Country)
	fill(&m.LogoURL, r.LogoURL)
	fill(&m.Website, r.Website)

	if len(m.Category) == 0 && len(r.Category) > 0 {
		m.Category = append([]string(nil), r.Category...)
		changed = true
	}
	return m, changed
}

// QueryFromPayload builds a lookup from a receipt document. ok is false when
// the payload has no usable merchant name. Payloads are client documents,
// so each field is read on its own and a value of an unexpected type only
// blanks that field.
func QueryFromPayload(localID string, payload []byte) (q Query, ok bool) {
	doc, ok := decodeObject(payload)
	if !ok {
		return Query{}, false
	}
	merchant := objectAt(doc, "merchant")
	name := strings.TrimSpace(stringAt(merchant, "name"))
	if name == "" {
		return Query{}, false
	}
	tx := objectAt(doc, "transaction")
	return Query{
		ID:          localID,
		Description: name,
		Amount:      numberAt(objectAt(doc, "totals"), "total"),
		Currency:    stringAt(tx, "currency"),
		Date:        stringAt(tx, "date"),
		Address:     addressOf(objectAt(merchant, "address")),
	}, true
}

// MergePayload merges r into the "merchant" object of a receipt payload.
// Fields the receipt model does not know about are kept as they were, and a
// known field holding a value of another type is never overwritten. When
// nothing is written the payload is returned unchanged.
func MergePayload(payload []byte, r Result) ([]byte, bool) {
	if r.IsEmpty() {
		return payload, false
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil || top == nil {
		return payload, false
	}

	raw := map[string]any{}
	if mraw, ok := top["merchant"]; ok && !bytes.Equal(bytes.TrimSpace(mraw), []byte("null")) {
		if raw, ok = decodeObject(mraw); !ok {
			return payload, false
		}
	}

	typed := merchantOf(raw)
	merged, changed := MergeMerchant(typed, r)
	if !changed {
		return payload, false
	}

	wrote := false
	set := func(m map[string]any, key, before, after string) {
		if before != after && isStringOrUnset(m, key) {
			m[key] = after
			wrote = true
		}
	}

	set(raw, "name", typed.Name, merged.Name)
	// An address of another shape belongs to the client and stays.
	if merged.Address != typed.Address && (raw["address"] == nil || objectAt(raw, "address") != nil) {
		addr := objectAt(raw, "address")
		if addr == nil {
			addr = map[string]any{}
		}
		set(addr, "street", typed.Address.Street, merged.Address.Street)
		set(addr, "city", typed.Address.City, merged.Address.City)
		set(addr, "state", typed.Address.State, merged.Address.State)
		set(addr, "postalCode", typed.Address.PostalCode, merged.Address.PostalCode)
		set(addr, "country", typed.Address.Country, merged.Address.Country)
		if len(addr) > 0 {
			raw["address"] = addr
		}
	}
	set(raw, "logoUrl", typed.LogoURL, merged.LogoURL)
	set(raw, "website", typed.Website, merged.Website)
	if len(typed.Category) == 0 && len(merged.Category) > 0 && isCategoryOrUnset(raw) {
		raw["category"] = merged.Category
		wrote = true
	}
	if !wrote {
		return payload, false
	}

	mb, err := json.Marshal(raw)
	if err != nil {
		return payload, false
	}
	top["merchant"] = mb
	out, err := json.Marshal(top)
	if err != nil {
		return payload, false
	}
	return out, true
}

// decodeObject decodes a JSON object, keeping numbers as json.Number so
// untouched values re-encode exactly.
func decodeObject(b []byte) (map[string]any, bool) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func objectAt(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// numberAt reads a number, accepting numeric strings such as "12.50".
func numberAt(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

// stringsAt reads a string list; a bare string counts as a single entry.
func stringsAt(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return []string{v}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func isStringOrUnset(m map[string]any, key string) bool {
	switch m[key].(type) {
	case nil, string:
		return true
	}
	return false
}

func isCategoryOrUnset(m map[string]any) bool {
	switch m["category"].(type) {
	case nil, string, []any:
		return true
	}
	return false
}

func addressOf(m map[string]any) receipt.Address {
	return receipt.Address{
		Street:     stringAt(m, "street"),
		City:       stringAt(m, "city"),
		State:      stringAt(m, "state"),
		PostalCode: stringAt(m, "postalCode"),
		Country:    stringAt(m, "country"),
	}
}

func merchantOf(m map[string]any) receipt.Merchant {
	return receipt.Merchant{
		Name:     stringAt(m, "name"),
		Address:  addressOf(objectAt(m, "address")),
		Phone:    stringAt(m, "phone"),
		Website:  stringAt(m, "website"),
		LogoURL:  stringAt(m, "logoUrl"),
		Category: stringsAt(m, "category"),
	}
}
