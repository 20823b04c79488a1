// Package receipt defines the structured receipt document produced by
// extraction and exchanged with clients, the JSON schema that describes it,
// and the normalization applied before a document leaves the scan pipeline.
package receipt

// Receipt is a structured receipt document.
type Receipt struct {
	Merchant    Merchant    `json:"merchant"`
	Transaction Transaction `json:"transaction"`
	Items       []LineItem  `json:"items"`
	Totals      Totals      `json:"totals"`
	ReturnInfo  *ReturnInfo `json:"returnInfo,omitempty"`
	AppData     *AppData    `json:"appData,omitempty"`
}

// Merchant describes the seller.
type Merchant struct {
	Name     string   `json:"name"`
	Address  Address  `json:"address"`
	Phone    string   `json:"phone,omitempty"`
	Website  string   `json:"website,omitempty"`
	LogoURL  string   `json:"logoUrl,omitempty"`
	Category []string `json:"category,omitempty"`
}

// Address is a postal address; every field is optional.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// IsZero reports whether no address field is set.
func (a Address) IsZero() bool { return a == Address{} }

// Transaction carries when and how the purchase happened. Date is ISO 8601
// (YYYY-MM-DD) and Currency an ISO 4217 code when known.
type Transaction struct {
	Date          string `json:"date,omitempty"`
	Time          string `json:"time,omitempty"`
	Currency      string `json:"currency,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	ReceiptNumber string `json:"receiptNumber,omitempty"`
}

// LineItem is one purchased product or service.
type LineItem struct {
	Name       string     `json:"name"`
	Quantity   float64    `json:"quantity"`
	UnitPrice  float64    `json:"unitPrice"`
	TotalPrice float64    `json:"totalPrice"`
	Category   string     `json:"category,omitempty"`
	Discounts  []Discount `json:"discounts,omitempty"`
}

// Discount applied to a line item.
type Discount struct {
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
}

// Totals are the monetary summary lines of the receipt.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Fees     float64 `json:"fees"`
	Tip      float64 `json:"tip"`
	Total    float64 `json:"total"`
}

// ReturnInfo holds return-policy details. HasReturnBarcode is tri-state:
// nil means the extractor did not say.
type ReturnInfo struct {
	Policy           string `json:"policy,omitempty"`
	ReturnByDate     string `json:"returnByDate,omitempty"`
	HasReturnBarcode *bool  `json:"hasReturnBarcode,omitempty"`
	ReturnBarcode    string `json:"returnBarcode,omitempty"`
}

// AppData is client-owned metadata attached to a receipt.
type AppData struct {
	LocalID string   `json:"localId,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Notes   string   `json:"notes,omitempty"`
}

// Barcode is a symbol decoded from a receipt image.
type Barcode struct {
	Symbology string `json:"symbology" example:"CODE_128"`
	Text      string `json:"text"      example:"4006381333931"`
}
