package invoicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-returns/internal/shared"
)

// Repository provides read access to the sales invoice tables. The tables are
// owned by the wider ERP; this service only consumes them, and only ever
// writes return-flagged invoices through the returns repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchInvoiceItems returns posted, non-return invoice lines for a customer,
// most recent invoices first. Scope rules follow FetchItemsRequest.
func (r *Repository) FetchInvoiceItems(ctx context.Context, req FetchItemsRequest) ([]InvoiceItem, error) {
	query := `
		SELECT si.doc_number, sil.id, sil.item_code, sil.item_name, sil.description,
		       sil.quantity, sil.rate, sil.amount, sil.uom, sil.territory, si.posting_date
		FROM sales_invoice_lines sil
		INNER JOIN sales_invoices si ON sil.invoice_id = si.id
		WHERE si.status = 'POSTED' AND si.is_return = FALSE`

	var args []interface{}
	argPos := 1

	switch {
	case req.CustomerWide():
		query += fmt.Sprintf(" AND si.customer = $%d", argPos)
		args = append(args, req.Customer)
		argPos++
	default:
		if req.SalesInvoice == "" {
			return nil, nil
		}
		query += fmt.Sprintf(" AND si.customer = $%d AND si.doc_number = $%d", argPos, argPos+1)
		args = append(args, req.Customer, req.SalesInvoice)
		argPos += 2
	}

	if req.ItemCode != "" {
		query += fmt.Sprintf(" AND sil.item_code = $%d", argPos)
		args = append(args, req.ItemCode)
		argPos++
	}

	query += " ORDER BY si.posting_date DESC, sil.line_no"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch invoice items: %w", err)
	}
	defer rows.Close()

	var items []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(
			&it.SalesInvoice, &it.InvoiceLineID, &it.ItemCode, &it.ItemName, &it.Description,
			&it.Quantity, &it.Rate, &it.Amount, &it.UOM, &it.Territory, &it.PostingDate,
		); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetInvoiceByNumber loads an invoice with its lines and tax rows.
func (r *Repository) GetInvoiceByNumber(ctx context.Context, docNumber string) (*Invoice, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `
		SELECT id, doc_number, company, customer, status, is_return, return_against,
		       posting_date, taxes_and_charges, update_outstanding,
		       net_total, total_taxes_and_charges, grand_total, created_at, updated_at
		FROM sales_invoices
		WHERE doc_number = $1`, docNumber).Scan(
		&inv.ID, &inv.DocNumber, &inv.Company, &inv.Customer, &inv.Status, &inv.IsReturn,
		&inv.ReturnAgainst, &inv.PostingDate, &inv.TaxTemplate, &inv.UpdateOutstanding,
		&inv.NetTotal, &inv.TotalTaxesAndCharges, &inv.GrandTotal, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: sales invoice %s", shared.ErrNotFound, docNumber)
		}
		return nil, fmt.Errorf("get invoice %s: %w", docNumber, err)
	}

	lineRows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, line_no, item_code, item_name, description,
		       quantity, rate, amount, uom, territory
		FROM sales_invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_no`, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("get invoice lines: %w", err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var l InvoiceLine
		if err := lineRows.Scan(&l.ID, &l.InvoiceID, &l.LineNo, &l.ItemCode, &l.ItemName,
			&l.Description, &l.Quantity, &l.Rate, &l.Amount, &l.UOM, &l.Territory); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		inv.Lines = append(inv.Lines, l)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	taxRows, err := r.pool.Query(ctx, `
		SELECT id, invoice_id, line_no, charge_type, account_head, description,
		       rate, tax_amount, included_in_print_rate, cost_center
		FROM sales_invoice_taxes
		WHERE invoice_id = $1
		ORDER BY line_no`, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("get invoice taxes: %w", err)
	}
	defer taxRows.Close()
	for taxRows.Next() {
		var t TaxLine
		if err := taxRows.Scan(&t.ID, &t.InvoiceID, &t.LineNo, &t.ChargeType, &t.AccountHead,
			&t.Description, &t.Rate, &t.TaxAmount, &t.IncludedInPrintRate, &t.CostCenter); err != nil {
			return nil, fmt.Errorf("scan tax line: %w", err)
		}
		inv.Taxes = append(inv.Taxes, t)
	}
	return &inv, taxRows.Err()
}

// InvoiceVATRate returns the rate of the first VAT tax line on a posted
// invoice, or 0 when the invoice carries no VAT line.
func (r *Repository) InvoiceVATRate(ctx context.Context, docNumber string) (float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sit.rate, sit.account_head
		FROM sales_invoice_taxes sit
		INNER JOIN sales_invoices si ON sit.invoice_id = si.id
		WHERE si.doc_number = $1 AND si.status = 'POSTED'
		ORDER BY sit.line_no`, docNumber)
	if err != nil {
		return 0, fmt.Errorf("invoice vat rate: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tax TaxLine
		if err := rows.Scan(&tax.Rate, &tax.AccountHead); err != nil {
			return 0, fmt.Errorf("scan vat rate: %w", err)
		}
		if tax.IsVAT() {
			return tax.Rate, nil
		}
	}
	return 0, rows.Err()
}
