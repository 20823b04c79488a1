package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"```JSON\n{\"a\":1}\n```":   `{"a":1}`,
		"```\n{\"a\":1}\n```":       `{"a":1}`,
		"  {\"a\":1}  ":             `{"a":1}`,
		"```{\"a\":1}```":           `{"a":1}`,
		"```json {\"a\":1} ```":     `{"a":1}`,
		"":                          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripFences(in), "input %q", in)
	}
}

func TestParse_EnvelopeFound(t *testing.T) {
	out := Parse("```json\n{\"receipt\":{\"merchant\":{\"name\":\"Uniqlo\"},\"items\":[],\"totals\":{\"total\":39.9}}}\n```")
	require.Equal(t, KindFound, out.Kind)
	require.NotNil(t, out.Receipt)
	assert.Equal(t, "Uniqlo", out.Receipt.Merchant.Name)
	assert.Equal(t, 39.9, out.Receipt.Totals.Total)
	assert.NotNil(t, out.Receipt.AppData, "found receipts are normalized")
}

func TestParse_EnvelopeNull(t *testing.T) {
	out := Parse(`{"receipt": null}`)
	assert.Equal(t, KindNotFound, out.Kind)
	assert.Nil(t, out.Receipt)
	assert.Nil(t, out.Failure)
}

func TestParse_LegacyBareReceipt(t *testing.T) {
	out := Parse(`{"merchant":{"name":"Cafe"},"items":[{"name":"Latte","quantity":1,"unitPrice":4.5,"totalPrice":4.5}],"totals":{"total":4.5},"returnInfo":{"returnBarcode":"998877"}}`)
	require.Equal(t, KindFound, out.Kind)
	assert.Equal(t, "Cafe", out.Receipt.Merchant.Name)
	require.Len(t, out.Receipt.Items, 1)
	require.NotNil(t, out.Receipt.ReturnInfo.HasReturnBarcode)
	assert.True(t, *out.Receipt.ReturnInfo.HasReturnBarcode)
}

func TestParse_InvalidKeepsRawText(t *testing.T) {
	raw := "Sorry, I can't read that receipt."
	out := Parse(raw)
	require.Equal(t, KindInvalid, out.Kind)
	require.NotNil(t, out.Failure)
	assert.Equal(t, raw, out.Failure.RawResponse)
	assert.NotEmpty(t, out.Failure.Message)
}

func TestParse_SchemaMismatchIsInvalid(t *testing.T) {
	out := Parse(`{"receipt":{"totals":{"total":"twelve"}}}`)
	require.Equal(t, KindInvalid, out.Kind)
	assert.Contains(t, out.Failure.Message, "schema")
}

func TestParse_ArrayIsInvalid(t *testing.T) {
	out := Parse(`[{"merchant":{}}]`)
	assert.Equal(t, KindInvalid, out.Kind)
}

func TestParse_Empty(t *testing.T) {
	out := Parse("   ")
	assert.Equal(t, KindInvalid, out.Kind)
}

func TestParse_UnrelatedObjectIsInvalid(t *testing.T) {
	out := Parse(`{"answer":"this is a cat"}`)
	require.Equal(t, KindInvalid, out.Kind)
	assert.Equal(t, `{"answer":"this is a cat"}`, out.Failure.RawResponse)
}
