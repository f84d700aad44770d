package invoicing

import (
	"strings"
	"time"
)

// InvoiceStatus enumerates sales invoice statuses.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "DRAFT"
	StatusPosted    InvoiceStatus = "POSTED"
	StatusCancelled InvoiceStatus = "CANCELLED"
)

// Invoice is a sales invoice header with its child collections. Credit notes
// are regular invoices flagged IsReturn with a ReturnAgainst back-reference.
type Invoice struct {
	ID                   int64
	DocNumber            string
	Company              string
	Customer             string
	Status               InvoiceStatus
	IsReturn             bool
	ReturnAgainst        string
	PostingDate          time.Time
	TaxTemplate          string
	UpdateOutstanding    bool
	NetTotal             float64
	TotalTaxesAndCharges float64
	GrandTotal           float64
	Lines                []InvoiceLine
	Taxes                []TaxLine
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// InvoiceLine is a single item row on a sales invoice.
type InvoiceLine struct {
	ID          int64
	InvoiceID   int64
	LineNo      int
	ItemCode    string
	ItemName    string
	Description string
	Quantity    float64
	Rate        float64
	Amount      float64
	UOM         string
	Territory   string
}

// TaxLine is a row from the sales taxes and charges table.
type TaxLine struct {
	ID                  int64
	InvoiceID           int64
	LineNo              int
	ChargeType          string
	AccountHead         string
	Description         string
	Rate                float64
	TaxAmount           float64
	IncludedInPrintRate bool
	CostCenter          string
}

// IsVAT reports whether the tax line books against a VAT account.
func (t TaxLine) IsVAT() bool {
	return strings.Contains(strings.ToUpper(t.AccountHead), "VAT")
}

// InvoiceItem is a fetched invoice line enriched with invoice-level fields.
// The VAT columns are populated only by the annotated fetch variant.
type InvoiceItem struct {
	SalesInvoice     string    `json:"sales_invoice"`
	InvoiceLineID    int64     `json:"invoice_line_id"`
	ItemCode         string    `json:"item_code"`
	ItemName         string    `json:"item_name"`
	Description      string    `json:"description"`
	Quantity         float64   `json:"qty"`
	Rate             float64   `json:"rate"`
	Amount           float64   `json:"amount"`
	UOM              string    `json:"uom"`
	Territory        string    `json:"territory"`
	PostingDate      time.Time `json:"posting_date"`
	VATRateRatio     float64   `json:"vat_rate_ratio,omitempty"`
	VATAmount        float64   `json:"vat_amount,omitempty"`
	OriginalQty      float64   `json:"original_qty,omitempty"`
	MaxReturnableQty float64   `json:"max_returnable_qty,omitempty"`
}

// FetchItemsRequest selects invoice lines for a customer. When ItemCode or
// SelectAll is set the whole posted invoice history of the customer is
// searched; otherwise only the named invoice.
type FetchItemsRequest struct {
	Customer     string
	SalesInvoice string
	SelectAll    bool
	ItemCode     string
}

// CustomerWide reports whether the request searches the customer's whole
// posted invoice history instead of a single named invoice.
func (req FetchItemsRequest) CustomerWide() bool {
	return req.ItemCode != "" || req.SelectAll
}

// RecalculateTotals recomputes line amounts, tax amounts and the grand total.
// Taxes with charge type "Actual" keep their stored amount; everything else is
// derived from the net total. Taxes included in the print rate do not add to
// the grand total.
func (inv *Invoice) RecalculateTotals() {
	var net float64
	for i := range inv.Lines {
		inv.Lines[i].Amount = inv.Lines[i].Quantity * inv.Lines[i].Rate
		net += inv.Lines[i].Amount
	}
	inv.NetTotal = net

	var taxes float64
	for i := range inv.Taxes {
		if inv.Taxes[i].ChargeType != "Actual" {
			inv.Taxes[i].TaxAmount = net * inv.Taxes[i].Rate / 100
		}
		if !inv.Taxes[i].IncludedInPrintRate {
			taxes += inv.Taxes[i].TaxAmount
		}
	}
	inv.TotalTaxesAndCharges = taxes
	inv.GrandTotal = net + taxes
}
