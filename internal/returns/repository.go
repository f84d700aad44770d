package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-returns/internal/invoicing"
	"github.com/meridian-erp/meridian-returns/internal/platform/db"
	"github.com/meridian-erp/meridian-returns/internal/shared"
)

// Repository provides PostgreSQL backed persistence for combined returns and
// for the return-flagged invoices (credit notes) the feature writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations that must share one transaction during
// submission: credit-note creation and the status flip of the parent.
type TxRepository interface {
	GenerateCreditNoteNumber(ctx context.Context) (string, error)
	CreateCreditNote(ctx context.Context, inv *invoicing.Invoice) (int64, error)
	MarkSubmitted(ctx context.Context, id int64, actor string, at time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// CreateCombinedReturn inserts a draft document with its lines.
func (r *Repository) CreateCombinedReturn(ctx context.Context, doc CombinedReturn) (*CombinedReturn, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO combined_returns (doc_number, external_ref, customer, status, notes, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			doc.DocNumber, doc.ExternalRef, doc.Customer, doc.Status, doc.Notes, doc.CreatedBy,
		).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert combined return: %w", err)
		}

		for i := range doc.Lines {
			doc.Lines[i].CombinedReturnID = doc.ID
			if err := insertReturnLine(ctx, tx, &doc.Lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func insertReturnLine(ctx context.Context, tx pgx.Tx, line *ReturnLine) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO combined_return_lines (combined_return_id, line_no, item_code, item_name,
			quantity, rate, amount, uom, territory, max_returnable_qty, linked_invoice, linked_invoice_line)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		line.CombinedReturnID, line.LineNo, line.ItemCode, line.ItemName,
		line.Quantity, line.Rate, line.Amount, line.UOM, line.Territory,
		line.MaxReturnableQty, line.LinkedInvoice, line.LinkedInvoiceLine,
	).Scan(&line.ID)
	if err != nil {
		return fmt.Errorf("insert return line %d: %w", line.LineNo, err)
	}
	return nil
}

// GetCombinedReturn loads a document with its lines.
func (r *Repository) GetCombinedReturn(ctx context.Context, id int64) (*CombinedReturn, error) {
	var doc CombinedReturn
	err := r.pool.QueryRow(ctx, `
		SELECT id, doc_number, external_ref, customer, status, notes, created_by,
		       COALESCE(submitted_by, ''), created_at, updated_at, submitted_at
		FROM combined_returns
		WHERE id = $1`, id).Scan(
		&doc.ID, &doc.DocNumber, &doc.ExternalRef, &doc.Customer, &doc.Status, &doc.Notes,
		&doc.CreatedBy, &doc.SubmittedBy, &doc.CreatedAt, &doc.UpdatedAt, &doc.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: combined return %d", shared.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get combined return: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, combined_return_id, line_no, item_code, item_name,
		       quantity, rate, amount, uom, territory, max_returnable_qty,
		       linked_invoice, linked_invoice_line
		FROM combined_return_lines
		WHERE combined_return_id = $1
		ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("get return lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l ReturnLine
		if err := rows.Scan(&l.ID, &l.CombinedReturnID, &l.LineNo, &l.ItemCode, &l.ItemName,
			&l.Quantity, &l.Rate, &l.Amount, &l.UOM, &l.Territory, &l.MaxReturnableQty,
			&l.LinkedInvoice, &l.LinkedInvoiceLine); err != nil {
			return nil, fmt.Errorf("scan return line: %w", err)
		}
		doc.Lines = append(doc.Lines, l)
	}
	return &doc, rows.Err()
}

// ListCombinedReturns returns a paginated list without lines.
func (r *Repository) ListCombinedReturns(ctx context.Context, req ListCombinedReturnsRequest) ([]CombinedReturn, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Customer != "" {
		conditions = append(conditions, fmt.Sprintf("customer = $%d", argPos))
		args = append(args, req.Customer)
		argPos++
	}
	if req.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, req.Status)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + conditions[0]
		for i := 1; i < len(conditions); i++ {
			whereClause += " AND " + conditions[i]
		}
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM combined_returns %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, doc_number, external_ref, customer, status, notes, created_by,
		       COALESCE(submitted_by, ''), created_at, updated_at, submitted_at
		FROM combined_returns
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []CombinedReturn
	for rows.Next() {
		var doc CombinedReturn
		if err := rows.Scan(&doc.ID, &doc.DocNumber, &doc.ExternalRef, &doc.Customer, &doc.Status, &doc.Notes,
			&doc.CreatedBy, &doc.SubmittedBy, &doc.CreatedAt, &doc.UpdatedAt, &doc.SubmittedAt); err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// UpdateDraft replaces notes and lines of a draft document. The status guard
// lives in the UPDATE itself so a concurrent submission cannot slip through.
func (r *Repository) UpdateDraft(ctx context.Context, id int64, notes *string, lines []ReturnLine) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE combined_returns
			SET notes = COALESCE($1, notes), updated_at = NOW()
			WHERE id = $2 AND status = 'DRAFT'`, notes, id)
		if err != nil {
			return fmt.Errorf("update combined return: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: combined return %d is not a draft", shared.ErrInvalidStatus, id)
		}

		if lines != nil {
			if _, err := tx.Exec(ctx, `DELETE FROM combined_return_lines WHERE combined_return_id = $1`, id); err != nil {
				return fmt.Errorf("delete return lines: %w", err)
			}
			for i := range lines {
				lines[i].CombinedReturnID = id
				if err := insertReturnLine(ctx, tx, &lines[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// GenerateReturnNumber assigns the next document number from the series.
func (r *Repository) GenerateReturnNumber(ctx context.Context) (string, error) {
	var number string
	err := r.pool.QueryRow(ctx, "SELECT generate_combined_return_number()").Scan(&number)
	return number, err
}

// GenerateCreditNoteNumber assigns the next credit-note number inside the
// submission transaction.
func (t *txRepo) GenerateCreditNoteNumber(ctx context.Context) (string, error) {
	var number string
	err := t.tx.QueryRow(ctx, "SELECT generate_credit_note_number()").Scan(&number)
	return number, err
}

// CreateCreditNote inserts a return-flagged invoice with lines and taxes.
func (t *txRepo) CreateCreditNote(ctx context.Context, inv *invoicing.Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales_invoices (doc_number, company, customer, status, is_return, return_against,
			posting_date, taxes_and_charges, update_outstanding,
			net_total, total_taxes_and_charges, grand_total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id`,
		inv.DocNumber, inv.Company, inv.Customer, inv.Status, inv.ReturnAgainst,
		inv.PostingDate, inv.TaxTemplate, inv.UpdateOutstanding,
		inv.NetTotal, inv.TotalTaxesAndCharges, inv.GrandTotal,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert credit note: %w", err)
	}

	for _, l := range inv.Lines {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO sales_invoice_lines (invoice_id, line_no, item_code, item_name, description,
				quantity, rate, amount, uom, territory)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, l.LineNo, l.ItemCode, l.ItemName, l.Description,
			l.Quantity, l.Rate, l.Amount, l.UOM, l.Territory)
		if err != nil {
			return 0, fmt.Errorf("insert credit note line %d: %w", l.LineNo, err)
		}
	}

	for _, tax := range inv.Taxes {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO sales_invoice_taxes (invoice_id, line_no, charge_type, account_head, description,
				rate, tax_amount, included_in_print_rate, cost_center)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, tax.LineNo, tax.ChargeType, tax.AccountHead, tax.Description,
			tax.Rate, tax.TaxAmount, tax.IncludedInPrintRate, tax.CostCenter)
		if err != nil {
			return 0, fmt.Errorf("insert credit note tax %d: %w", tax.LineNo, err)
		}
	}

	return id, nil
}

// MarkSubmitted flips a draft document to SUBMITTED.
func (t *txRepo) MarkSubmitted(ctx context.Context, id int64, actor string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE combined_returns
		SET status = 'SUBMITTED', submitted_by = $1, submitted_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'DRAFT'`, actor, at, id)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: combined return %d is not a draft", shared.ErrInvalidStatus, id)
	}
	return nil
}
