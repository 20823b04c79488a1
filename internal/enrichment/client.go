// Package enrichment augments merchant identity on synced receipts using the
// Plaid transaction enrichment API. Lookups are best-effort: every failure
// yields an empty Result and is logged, never returned.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-receipt-backend/internal/observability"
	"github.com/tbourn/go-receipt-backend/internal/receipt"
	"github.com/tbourn/go-receipt-backend/internal/sysutil"
)

const (
	enrichPath      = "/transactions/enrich"
	maxResponseBody = 1 << 20
	defaultCurrency = "USD"
)

// Query is what is known about a purchase before enrichment.
type Query struct {
	ID          string
	Description string
	Amount      float64
	Currency    string
	Date        string // YYYY-MM-DD
	Address     receipt.Address
}

// Result holds merchant facts from the provider. Any field may be empty.
type Result struct {
	MerchantName string
	LogoURL      string
	Website      string
	Address      receipt.Address
	Category     []string
}

// IsEmpty reports whether the result carries nothing to merge.
func (r Result) IsEmpty() bool {
	return r.MerchantName == "" && r.LogoURL == "" && r.Website == "" &&
		r.Address.IsZero() && len(r.Category) == 0
}

// Enricher looks up merchant facts. Implementations never fail; they return
// an empty Result instead.
type Enricher interface {
	Enrich(ctx context.Context, q Query) Result
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	ClientID   string
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls Plaid's /transactions/enrich endpoint.
type Client struct {
	baseURL  string
	clientID string
	secret   string
	timeout  time.Duration
	http     *http.Client
}

// NewClient builds a Client. Without credentials the client is disabled and
// Enrich returns empty results without any network call.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		clientID: cfg.ClientID,
		secret:   cfg.Secret,
		timeout:  timeout,
		http:     hc,
	}
}

// Enabled reports whether the client has credentials.
func (c *Client) Enabled() bool {
	return c != nil && c.clientID != "" && c.secret != "" && c.baseURL != ""
}

type enrichLocation struct {
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type enrichTransaction struct {
	ID              string          `json:"id"`
	Description     string          `json:"description"`
	Amount          float64         `json:"amount"`
	Direction       string          `json:"direction"`
	ISOCurrencyCode string          `json:"iso_currency_code"`
	DatePosted      string          `json:"date_posted,omitempty"`
	Location        *enrichLocation `json:"location,omitempty"`
}

type enrichRequest struct {
	ClientID     string              `json:"client_id"`
	Secret       string              `json:"secret"`
	AccountType  string              `json:"account_type"`
	Transactions []enrichTransaction `json:"transactions"`
}

type enrichResponse struct {
	EnrichedTransactions []struct {
		Enrichments struct {
			MerchantName            string         `json:"merchant_name"`
			LogoURL                 string         `json:"logo_url"`
			Website                 string         `json:"website"`
			Location                enrichLocation `json:"location"`
			Category                []string       `json:"category"`
			PersonalFinanceCategory *struct {
				Primary  string `json:"primary"`
				Detailed string `json:"detailed"`
			} `json:"personal_finance_category"`
			Counterparties []struct {
				Name    string `json:"name"`
				Type    string `json:"type"`
				LogoURL string `json:"logo_url"`
				Website string `json:"website"`
			} `json:"counterparties"`
		} `json:"enrichments"`
	} `json:"enriched_transactions"`
}

// Enrich implements Enricher.
func (c *Client) Enrich(ctx context.Context, q Query) Result {
	if !c.Enabled() || strings.TrimSpace(q.Description) == "" {
		return Result{}
	}

	ctx, span := otel.Tracer("enrichment/Client").Start(ctx, "Enrich")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.enrich(ctx, q)
	if err != nil {
		span.RecordError(err)
		observability.StageFailures.WithLabelValues("enrichment").Inc()
		sysutil.Logger(ctx).Warn().Err(err).Str("stage", "enrichment").Msg("merchant enrichment failed; continuing unenriched")
		return Result{}
	}
	span.SetAttributes(attribute.Bool("enrichment.empty", res.IsEmpty()))
	return res
}

func (c *Client) enrich(ctx context.Context, q Query) (Result, error) {
	body, err := json.Marshal(c.buildRequest(q))
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+enrichPath, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return Result{}, fmt.Errorf("enrich: unexpected status %d", resp.StatusCode)
	}

	var out enrichResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("enrich: decode: %w", err)
	}
	if len(out.EnrichedTransactions) == 0 {
		return Result{}, nil
	}

	e := out.EnrichedTransactions[0].Enrichments
	var cpName, cpLogo, cpSite string
	for _, cp := range e.Counterparties {
		if cp.Type == "" || cp.Type == "merchant" {
			cpName, cpLogo, cpSite = cp.Name, cp.LogoURL, cp.Website
			break
		}
	}

	res := Result{
		MerchantName: strings.TrimSpace(sysutil.FirstNonEmpty(e.MerchantName, cpName)),
		LogoURL:      strings.TrimSpace(sysutil.FirstNonEmpty(e.LogoURL, cpLogo)),
		Website:      strings.TrimSpace(sysutil.FirstNonEmpty(e.Website, cpSite)),
		Address: receipt.Address{
			Street:     strings.TrimSpace(e.Location.Address),
			City:       strings.TrimSpace(e.Location.City),
			State:      strings.TrimSpace(e.Location.Region),
			PostalCode: strings.TrimSpace(e.Location.PostalCode),
			Country:    strings.TrimSpace(e.Location.Country),
		},
	}
	switch {
	case len(e.Category) > 0:
		res.Category = append([]string(nil), e.Category...)
	case e.PersonalFinanceCategory != nil && e.PersonalFinanceCategory.Primary != "":
		res.Category = []string{e.PersonalFinanceCategory.Primary}
		if d := e.PersonalFinanceCategory.Detailed; d != "" && d != e.PersonalFinanceCategory.Primary {
			res.Category = append(res.Category, d)
		}
	}
	return res, nil
}

func (c *Client) buildRequest(q Query) enrichRequest {
	id := q.ID
	if id == "" {
		id = "receipt"
	}
	currency := strings.ToUpper(strings.TrimSpace(q.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	tx := enrichTransaction{
		ID:              id,
		Description:     strings.TrimSpace(q.Description),
		Amount:          math.Abs(q.Amount),
		Direction:       "OUTFLOW",
		ISOCurrencyCode: currency,
		DatePosted:      normalizeDate(q.Date),
	}
	if !q.Address.IsZero() {
		tx.Location = &enrichLocation{
			Address:    q.Address.Street,
			City:       q.Address.City,
			Region:     q.Address.State,
			PostalCode: q.Address.PostalCode,
			Country:    q.Address.Country,
		}
	}
	return enrichRequest{
		ClientID:     c.clientID,
		Secret:       c.secret,
		AccountType:  "depository",
		Transactions: []enrichTransaction{tx},
	}
}

// normalizeDate keeps a YYYY-MM-DD prefix and drops anything unparseable.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		if _, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return s[:10]
		}
	}
	return ""
}
