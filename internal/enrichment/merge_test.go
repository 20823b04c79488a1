package enrichment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-receipt-backend/internal/receipt"
)

func TestMergeMerchant_NamePolicy(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		enriched string
		want     string
		changed  bool
	}{
		{"blank enrichment keeps existing", "Joe's Diner", "", "Joe's Diner", false},
		{"placeholder keeps existing", "Joe's Diner", "Unknown Merchant", "Joe's Diner", false},
		{"placeholder with spaces", "Joe's Diner", "  STORE ", "Joe's Diner", false},
		{"case-insensitive same keeps existing", "STARBUCKS", "Starbucks", "STARBUCKS", false},
		{"different name replaces", "SBUX #1234", "Starbucks", "Starbucks", true},
		{"fills empty name", "", "Target", "Target", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := MergeMerchant(receipt.Merchant{Name: tc.existing}, Result{MerchantName: tc.enriched})
			assert.Equal(t, tc.want, got.Name)
			assert.Equal(t, tc.changed, changed)
		})
	}
}

func TestMergeMerchant_FillsOnlyBlanks(t *testing.T) {
	m := receipt.Merchant{
		Name:     "Target",
		Address:  receipt.Address{City: "Minneapolis"},
		Website:  "target.com",
		Category: []string{"Shopping"},
	}
	r := Result{
		Address:  receipt.Address{Street: "900 Nicollet Mall", City: "St Paul", State: "MN"},
		Website:  "other.com",
		LogoURL:  "https://logo/target.png",
		Category: []string{"GENERAL_MERCHANDISE"},
	}
	got, changed := MergeMerchant(m, r)
	assert.True(t, changed)
	assert.Equal(t, "900 Nicollet Mall", got.Address.Street)
	assert.Equal(t, "Minneapolis", got.Address.City)
	assert.Equal(t, "MN", got.Address.State)
	assert.Equal(t, "target.com", got.Website)
	assert.Equal(t, "https://logo/target.png", got.LogoURL)
	assert.Equal(t, []string{"Shopping"}, got.Category)
}

func TestIsPlaceholder(t *testing.T) {
	for _, s := range []string{"unknown", "N/A", "Receipt", " none ", "UNDEFINED"} {
		assert.True(t, IsPlaceholder(s), s)
	}
	assert.False(t, IsPlaceholder("Walmart"))
}

func TestQueryFromPayload(t *testing.T) {
	payload := []byte(`{"merchant":{"name":"Costco","address":{"city":"Issaquah"}},
		"transaction":{"date":"2025-02-02","currency":"USD"},"totals":{"total":99.5},"items":[]}`)
	q, ok := QueryFromPayload("local-1", payload)
	require.True(t, ok)
	assert.Equal(t, "local-1", q.ID)
	assert.Equal(t, "Costco", q.Description)
	assert.Equal(t, 99.5, q.Amount)
	assert.Equal(t, "Issaquah", q.Address.City)

	_, ok = QueryFromPayload("x", []byte(`{"merchant":{"name":"  "}}`))
	assert.False(t, ok)
	_, ok = QueryFromPayload("x", []byte(`not json`))
	assert.False(t, ok)
}

func TestMergePayload_PreservesUnknownFields(t *testing.T) {
	payload := []byte(`{"merchant":{"name":"SBUX","loyaltyId":"L-1","address":{"city":"Seattle","unit":"4B"}},
		"items":[],"custom":{"n":1.10}}`)
	out, changed := MergePayload(payload, Result{
		MerchantName: "Starbucks",
		Address:      receipt.Address{City: "Tacoma", State: "WA"},
		Website:      "starbucks.com",
	})
	require.True(t, changed)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	m := doc["merchant"].(map[string]any)
	assert.Equal(t, "Starbucks", m["name"])
	assert.Equal(t, "L-1", m["loyaltyId"])
	assert.Equal(t, "starbucks.com", m["website"])
	addr := m["address"].(map[string]any)
	assert.Equal(t, "Seattle", addr["city"])
	assert.Equal(t, "WA", addr["state"])
	assert.Equal(t, "4B", addr["unit"])
	assert.Contains(t, string(out), `"custom":{"n":1.10}`)
}

func TestMergePayload_NoChange(t *testing.T) {
	payload := []byte(`{"merchant":{"name":"Starbucks"}}`)
	out, changed := MergePayload(payload, Result{MerchantName: "STARBUCKS"})
	assert.False(t, changed)
	assert.Equal(t, payload, out)

	out, changed = MergePayload(payload, Result{})
	assert.False(t, changed)
	assert.Equal(t, payload, out)
}

func TestMergePayload_MissingMerchantIsCreated(t *testing.T) {
	out, changed := MergePayload([]byte(`{"items":[]}`), Result{MerchantName: "Aldi"})
	require.True(t, changed)
	assert.JSONEq(t, `{"items":[],"merchant":{"name":"Aldi"}}`, string(out))
}

func TestMergePayload_BadInputUnchanged(t *testing.T) {
	for _, p := range []string{`[1,2]`, `nope`, `{"merchant":{"name":5}}`} {
		out, changed := MergePayload([]byte(p), Result{MerchantName: "Aldi"})
		assert.False(t, changed, p)
		assert.Equal(t, p, string(out))
	}
}

func TestQueryFromPayload_OffSchemaFieldsOnlyBlankThemselves(t *testing.T) {
	payload := []byte(`{"merchant":{"name":"Trader Joe's","category":"Groceries","address":"123 Main"},
		"transaction":{"date":20250202,"currency":"USD"},"totals":{"total":"41.20"}}`)
	q, ok := QueryFromPayload("local-2", payload)
	require.True(t, ok)
	assert.Equal(t, "Trader Joe's", q.Description)
	assert.Equal(t, 41.2, q.Amount)
	assert.Equal(t, "USD", q.Currency)
	assert.Empty(t, q.Date)
	assert.True(t, q.Address.IsZero())

	q, ok = QueryFromPayload("local-3", []byte(`{"merchant":{"name":"Aldi"},"totals":{"total":{"amount":3}}}`))
	require.True(t, ok)
	assert.Zero(t, q.Amount)
}

func TestMergePayload_OffSchemaMerchantFieldsAreKept(t *testing.T) {
	payload := []byte(`{"merchant":{"name":"TJ","category":"Groceries","address":"123 Main","website":7},
		"totals":{"total":"41.20"}}`)
	out, changed := MergePayload(payload, Result{
		MerchantName: "Trader Joe's",
		Address:      receipt.Address{City: "Monrovia"},
		Website:      "traderjoes.com",
		Category:     []string{"Food and Drink"},
	})
	require.True(t, changed)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	m := doc["merchant"].(map[string]any)
	assert.Equal(t, "Trader Joe's", m["name"])
	assert.Equal(t, "Groceries", m["category"])
	assert.Equal(t, "123 Main", m["address"])
	assert.Equal(t, float64(7), m["website"])
	assert.Equal(t, "41.20", doc["totals"].(map[string]any)["total"])
}

func TestMergePayload_NothingWritableIsUnchanged(t *testing.T) {
	payload := `{"merchant":{"name":["a"],"website":false}}`
	out, changed := MergePayload([]byte(payload), Result{MerchantName: "Aldi", Website: "aldi.us"})
	assert.False(t, changed)
	assert.Equal(t, payload, string(out))
}
