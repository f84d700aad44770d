package returns

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-returns/internal/shared"
)

// ReturnStatus enumerates combined return document statuses.
type ReturnStatus string

const (
	StatusDraft     ReturnStatus = "DRAFT"
	StatusSubmitted ReturnStatus = "SUBMITTED"
)

// CombinedReturn aggregates return requests against one customer across
// multiple posted sales invoices.
type CombinedReturn struct {
	ID          int64        `json:"id"`
	DocNumber   string       `json:"doc_number"`
	ExternalRef uuid.UUID    `json:"external_ref"`
	Customer    string       `json:"customer"`
	Status      ReturnStatus `json:"status"`
	Notes       string       `json:"notes,omitempty"`
	CreatedBy   string       `json:"created_by"`
	SubmittedBy string       `json:"submitted_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	SubmittedAt *time.Time   `json:"submitted_at,omitempty"`
	Lines       []ReturnLine `json:"lines"`
}

// ReturnLine is a selected invoice line with the requested return quantity.
// Quantity is signed: a request to return 3 units is stored as -3.
type ReturnLine struct {
	ID                int64   `json:"id"`
	CombinedReturnID  int64   `json:"combined_return_id"`
	LineNo            int     `json:"line_no"`
	ItemCode          string  `json:"item_code"`
	ItemName          string  `json:"item_name,omitempty"`
	Quantity          float64 `json:"qty"`
	Rate              float64 `json:"rate"`
	Amount            float64 `json:"amount"`
	UOM               string  `json:"uom,omitempty"`
	Territory         string  `json:"territory,omitempty"`
	MaxReturnableQty  float64 `json:"max_returnable_qty"`
	LinkedInvoice     string  `json:"linked_invoice"`
	LinkedInvoiceLine int64   `json:"linked_invoice_line,omitempty"`
}

// ReturnLineInput creates or replaces a return line.
type ReturnLineInput struct {
	ItemCode          string  `json:"item_code" validate:"required"`
	ItemName          string  `json:"item_name"`
	Quantity          float64 `json:"qty"`
	Rate              float64 `json:"rate"`
	UOM               string  `json:"uom"`
	Territory         string  `json:"territory"`
	MaxReturnableQty  float64 `json:"max_returnable_qty"`
	LinkedInvoice     string  `json:"linked_invoice"`
	LinkedInvoiceLine int64   `json:"linked_invoice_line"`
}

// CreateCombinedReturnRequest creates a new draft document.
type CreateCombinedReturnRequest struct {
	Customer string            `json:"customer" validate:"required"`
	Notes    string            `json:"notes"`
	Lines    []ReturnLineInput `json:"lines" validate:"required,min=1,dive"`
}

// UpdateCombinedReturnRequest updates a draft document. Nil fields are left
// untouched; a non-nil Lines slice replaces all lines.
type UpdateCombinedReturnRequest struct {
	Notes *string            `json:"notes"`
	Lines *[]ReturnLineInput `json:"lines" validate:"omitempty,min=1,dive"`
}

// ListCombinedReturnsRequest filters the listing.
type ListCombinedReturnsRequest struct {
	Customer string
	Status   ReturnStatus
	Limit    int
	Offset   int
}

// CreditNoteSummary describes one generated credit note.
type CreditNoteSummary struct {
	Invoice    string  `json:"invoice"`
	CreditNote string  `json:"credit_note"`
	GrandTotal float64 `json:"grand_total"`
	Posted     bool    `json:"posted"`
}

// SubmitResult reports the outcome of a submission or a direct credit-note
// generation run.
type SubmitResult struct {
	Return      *CombinedReturn     `json:"return"`
	CreditNotes []CreditNoteSummary `json:"credit_notes"`
	Messages    []string            `json:"messages"`
}

// ValidateReturnLines runs the submission gate over every line in declaration
// order, row indexes starting at 1. The first violation aborts with a
// user-facing validation error naming the row and item.
func ValidateReturnLines(lines []ReturnLine) error {
	for i, row := range lines {
		idx := i + 1
		if row.Quantity > 0 {
			return fmt.Errorf("%w: Row %d (%s): quantity must be a negative number", shared.ErrValidation, idx, row.ItemCode)
		}
		if math.Abs(row.Quantity) > row.MaxReturnableQty {
			return fmt.Errorf("%w: Row %d (%s): return quantity %g cannot exceed max returnable quantity %g",
				shared.ErrValidation, idx, row.ItemCode, math.Abs(row.Quantity), row.MaxReturnableQty)
		}
		if row.LinkedInvoice == "" {
			return fmt.Errorf("%w: Row %d (%s): linked invoice is required", shared.ErrValidation, idx, row.ItemCode)
		}
	}
	return nil
}
