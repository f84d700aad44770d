package returns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-returns/internal/invoicing"
	"github.com/meridian-erp/meridian-returns/internal/shared"
)

// RepositoryPort defines persistence for combined returns.
type RepositoryPort interface {
	CreateCombinedReturn(ctx context.Context, doc CombinedReturn) (*CombinedReturn, error)
	GetCombinedReturn(ctx context.Context, id int64) (*CombinedReturn, error)
	ListCombinedReturns(ctx context.Context, req ListCombinedReturnsRequest) ([]CombinedReturn, int, error)
	UpdateDraft(ctx context.Context, id int64, notes *string, lines []ReturnLine) error
	GenerateReturnNumber(ctx context.Context) (string, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// InvoiceStorePort is the surface of the invoice store this feature consumes.
type InvoiceStorePort interface {
	FetchInvoiceItems(ctx context.Context, req invoicing.FetchItemsRequest) ([]invoicing.InvoiceItem, error)
	GetInvoiceByNumber(ctx context.Context, docNumber string) (*invoicing.Invoice, error)
}

// VATRatioPort resolves per-invoice VAT ratios.
type VATRatioPort interface {
	Ratio(ctx context.Context, docNumber string) (float64, error)
}

// IdempotencyPort guards against double-issuing credit notes.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DeliveryEnqueuer hands freshly issued credit notes to the background
// delivery pipeline. Enqueue failures never fail the submission.
type DeliveryEnqueuer interface {
	EnqueueCreditNoteDelivery(ctx context.Context, creditNote, invoice, customer string) error
}

const idempotencyModule = "returns"

// Service implements the combined sales return feature: the invoice item
// fetcher, the submission gate and the credit-note generator.
type Service struct {
	repo     RepositoryPort
	invoices InvoiceStorePort
	vat      VATRatioPort
	idem     IdempotencyPort
	audit    AuditPort
	enqueuer DeliveryEnqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service instance. Idempotency, audit and enqueuer are
// optional; nil disables the corresponding side effect.
func NewService(
	repo RepositoryPort,
	invoices InvoiceStorePort,
	vat VATRatioPort,
	idem IdempotencyPort,
	audit AuditPort,
	enqueuer DeliveryEnqueuer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		invoices: invoices,
		vat:      vat,
		idem:     idem,
		audit:    audit,
		enqueuer: enqueuer,
		logger:   logger,
		now:      time.Now,
	}
}

// FetchInvoiceItems returns posted, non-return invoice lines for a customer.
func (s *Service) FetchInvoiceItems(ctx context.Context, req invoicing.FetchItemsRequest) ([]invoicing.InvoiceItem, error) {
	if req.Customer == "" {
		return nil, fmt.Errorf("%w: customer is required", shared.ErrValidation)
	}
	return s.invoices.FetchInvoiceItems(ctx, req)
}

// FetchInvoiceItemsWithVAT fetches invoice lines and annotates each with the
// derived VAT ratio and amount, the original quantity and the maximum
// returnable bound. The VAT rate is resolved once per invoice.
func (s *Service) FetchInvoiceItemsWithVAT(ctx context.Context, req invoicing.FetchItemsRequest) ([]invoicing.InvoiceItem, error) {
	items, err := s.FetchInvoiceItems(ctx, req)
	if err != nil {
		return nil, err
	}

	ratios := make(map[string]float64)
	for i := range items {
		ratio, ok := ratios[items[i].SalesInvoice]
		if !ok {
			ratio, err = s.vat.Ratio(ctx, items[i].SalesInvoice)
			if err != nil {
				return nil, fmt.Errorf("resolve vat ratio for %s: %w", items[i].SalesInvoice, err)
			}
			ratios[items[i].SalesInvoice] = ratio
		}
		items[i].VATRateRatio = ratio
		items[i].VATAmount = items[i].Quantity * items[i].Rate * ratio
		items[i].OriginalQty = items[i].Quantity
		items[i].MaxReturnableQty = math.Abs(items[i].Quantity)
	}
	return items, nil
}

// CreateCombinedReturn creates a new draft document.
func (s *Service) CreateCombinedReturn(ctx context.Context, req CreateCombinedReturnRequest, actor string) (*CombinedReturn, error) {
	if req.Customer == "" {
		return nil, fmt.Errorf("%w: customer is required", shared.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one return line is required", shared.ErrValidation)
	}

	docNumber, err := s.repo.GenerateReturnNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate doc number: %w", err)
	}

	doc := CombinedReturn{
		DocNumber:   docNumber,
		ExternalRef: uuid.New(),
		Customer:    req.Customer,
		Status:      StatusDraft,
		Notes:       req.Notes,
		CreatedBy:   actor,
		Lines:       buildLines(req.Lines),
	}

	created, err := s.repo.CreateCombinedReturn(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("create combined return: %w", err)
	}
	return created, nil
}

func buildLines(inputs []ReturnLineInput) []ReturnLine {
	lines := make([]ReturnLine, 0, len(inputs))
	for i, in := range inputs {
		lines = append(lines, ReturnLine{
			LineNo:            i + 1,
			ItemCode:          in.ItemCode,
			ItemName:          in.ItemName,
			Quantity:          in.Quantity,
			Rate:              in.Rate,
			Amount:            in.Quantity * in.Rate,
			UOM:               in.UOM,
			Territory:         in.Territory,
			MaxReturnableQty:  in.MaxReturnableQty,
			LinkedInvoice:     in.LinkedInvoice,
			LinkedInvoiceLine: in.LinkedInvoiceLine,
		})
	}
	return lines
}

// GetCombinedReturn retrieves a document by ID.
func (s *Service) GetCombinedReturn(ctx context.Context, id int64) (*CombinedReturn, error) {
	return s.repo.GetCombinedReturn(ctx, id)
}

// ListCombinedReturns returns a paginated list of documents.
func (s *Service) ListCombinedReturns(ctx context.Context, req ListCombinedReturnsRequest) ([]CombinedReturn, int, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	return s.repo.ListCombinedReturns(ctx, req)
}

// UpdateCombinedReturn updates a draft document.
func (s *Service) UpdateCombinedReturn(ctx context.Context, id int64, req UpdateCombinedReturnRequest) (*CombinedReturn, error) {
	existing, err := s.repo.GetCombinedReturn(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get combined return: %w", err)
	}
	if existing.Status != StatusDraft {
		return nil, fmt.Errorf("%w: only DRAFT combined returns can be updated", shared.ErrInvalidStatus)
	}

	var lines []ReturnLine
	if req.Lines != nil {
		lines = buildLines(*req.Lines)
	}
	if err := s.repo.UpdateDraft(ctx, id, req.Notes, lines); err != nil {
		return nil, fmt.Errorf("update combined return: %w", err)
	}
	return s.repo.GetCombinedReturn(ctx, id)
}

// Submit runs the submission gate: validate every line, generate credit notes
// grouped by linked invoice and flip the document to SUBMITTED, all inside one
// transaction. Validation failures and generation failures leave the document
// DRAFT. Generation failures are logged with full diagnostics and re-raised so
// the submit operation fails visibly.
func (s *Service) Submit(ctx context.Context, id int64, actor string, submitCreditNotes bool) (*SubmitResult, error) {
	doc, err := s.repo.GetCombinedReturn(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get combined return: %w", err)
	}
	if doc.Status != StatusDraft {
		return nil, fmt.Errorf("%w: only DRAFT combined returns can be submitted", shared.ErrInvalidStatus)
	}

	if err := ValidateReturnLines(doc.Lines); err != nil {
		return nil, err
	}

	result, err := s.generateCreditNotes(ctx, doc, actor, submitCreditNotes, true)
	if err != nil {
		s.logger.Error("combined return submission failed",
			slog.Int64("id", id),
			slog.String("doc_number", doc.DocNumber),
			slog.String("actor", actor),
			slog.Any("error", err),
		)
		return nil, err
	}
	return result, nil
}

// CreateCreditNotes generates credit notes for a document without driving the
// submission state machine. Idempotency keys prevent double-issuing when the
// document was already submitted.
func (s *Service) CreateCreditNotes(ctx context.Context, id int64, actor string, submitCreditNotes bool) (*SubmitResult, error) {
	doc, err := s.repo.GetCombinedReturn(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get combined return: %w", err)
	}

	if err := ValidateReturnLines(doc.Lines); err != nil {
		return nil, err
	}

	result, err := s.generateCreditNotes(ctx, doc, actor, submitCreditNotes, false)
	if err != nil {
		s.logger.Error("credit note generation failed",
			slog.Int64("id", id),
			slog.String("doc_number", doc.DocNumber),
			slog.Any("error", err),
		)
		return nil, err
	}
	return result, nil
}

type invoiceGroup struct {
	invoice string
	lines   []ReturnLine
}

// groupByInvoice buckets lines by linked invoice preserving first-seen order.
func groupByInvoice(lines []ReturnLine) []invoiceGroup {
	index := make(map[string]int)
	var groups []invoiceGroup
	for _, line := range lines {
		if line.LinkedInvoice == "" {
			continue
		}
		i, ok := index[line.LinkedInvoice]
		if !ok {
			i = len(groups)
			index[line.LinkedInvoice] = i
			groups = append(groups, invoiceGroup{invoice: line.LinkedInvoice})
		}
		groups[i].lines = append(groups[i].lines, line)
	}
	return groups
}

func (s *Service) generateCreditNotes(ctx context.Context, doc *CombinedReturn, actor string, submitCreditNotes, markSubmitted bool) (*SubmitResult, error) {
	groups := groupByInvoice(doc.Lines)

	originals := make(map[string]*invoicing.Invoice, len(groups))
	for _, g := range groups {
		inv, err := s.invoices.GetInvoiceByNumber(ctx, g.invoice)
		if err != nil {
			return nil, fmt.Errorf("load original invoice %s: %w", g.invoice, err)
		}
		originals[g.invoice] = inv
	}

	now := s.now()
	result := &SubmitResult{}
	var insertedKeys []string

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, g := range groups {
			key := fmt.Sprintf("creditnote:%s:%s", doc.DocNumber, g.invoice)
			if s.idem != nil {
				if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
					if errors.Is(err, shared.ErrIdempotencyConflict) {
						s.logger.Info("credit note already issued, skipping",
							slog.String("doc_number", doc.DocNumber),
							slog.String("invoice", g.invoice),
						)
						continue
					}
					return fmt.Errorf("idempotency check for %s: %w", g.invoice, err)
				}
				insertedKeys = append(insertedKeys, key)
			}

			number, err := tx.GenerateCreditNoteNumber(ctx)
			if err != nil {
				return fmt.Errorf("generate credit note number: %w", err)
			}

			cn := buildCreditNote(number, originals[g.invoice], g.lines, now, submitCreditNotes)
			if _, err := tx.CreateCreditNote(ctx, cn); err != nil {
				return fmt.Errorf("create credit note for %s: %w", g.invoice, err)
			}

			result.CreditNotes = append(result.CreditNotes, CreditNoteSummary{
				Invoice:    g.invoice,
				CreditNote: cn.DocNumber,
				GrandTotal: cn.GrandTotal,
				Posted:     submitCreditNotes,
			})
			result.Messages = append(result.Messages,
				fmt.Sprintf("Credit Note created for %s: %s", g.invoice, cn.DocNumber))
		}

		if markSubmitted {
			if err := tx.MarkSubmitted(ctx, doc.ID, actor, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Roll back idempotency keys so a retried submission can issue the
		// notes that were never committed.
		for _, key := range insertedKeys {
			if delErr := s.idem.Delete(ctx, key); delErr != nil {
				s.logger.Warn("rollback idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	if markSubmitted {
		doc.Status = StatusSubmitted
		doc.SubmittedBy = actor
		doc.SubmittedAt = &now
	}
	result.Return = doc

	for _, cn := range result.CreditNotes {
		if s.audit != nil {
			if err := s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actor,
				Action:   "returns.credit_note.created",
				Entity:   "sales_invoice",
				EntityID: cn.CreditNote,
				Meta: map[string]any{
					"combined_return": doc.DocNumber,
					"return_against":  cn.Invoice,
					"grand_total":     cn.GrandTotal,
					"posted":          cn.Posted,
				},
			}); err != nil {
				s.logger.Warn("audit credit note", slog.String("credit_note", cn.CreditNote), slog.Any("error", err))
			}
		}
		if s.enqueuer != nil {
			if err := s.enqueuer.EnqueueCreditNoteDelivery(ctx, cn.CreditNote, cn.Invoice, doc.Customer); err != nil {
				s.logger.Warn("enqueue credit note delivery", slog.String("credit_note", cn.CreditNote), slog.Any("error", err))
			}
		}
	}

	return result, nil
}

// buildCreditNote assembles a return-flagged invoice for one group of lines.
// Quantities are forced negative; already-negative values are kept as-is. Tax
// rows are copied from the original invoice and totals recomputed.
func buildCreditNote(number string, original *invoicing.Invoice, lines []ReturnLine, now time.Time, post bool) *invoicing.Invoice {
	status := invoicing.StatusDraft
	if post {
		status = invoicing.StatusPosted
	}
	cn := &invoicing.Invoice{
		DocNumber:         number,
		Company:           original.Company,
		Customer:          original.Customer,
		Status:            status,
		IsReturn:          true,
		ReturnAgainst:     original.DocNumber,
		PostingDate:       now,
		TaxTemplate:       original.TaxTemplate,
		UpdateOutstanding: false,
	}

	for i, line := range lines {
		qty := line.Quantity
		if qty >= 0 {
			qty = -math.Abs(qty)
		}
		cn.Lines = append(cn.Lines, invoicing.InvoiceLine{
			LineNo:    i + 1,
			ItemCode:  line.ItemCode,
			ItemName:  line.ItemName,
			Quantity:  qty,
			Rate:      line.Rate,
			UOM:       line.UOM,
			Territory: line.Territory,
		})
	}

	for i, tax := range original.Taxes {
		cn.Taxes = append(cn.Taxes, invoicing.TaxLine{
			LineNo:              i + 1,
			ChargeType:          tax.ChargeType,
			AccountHead:         tax.AccountHead,
			Description:         tax.Description,
			Rate:                tax.Rate,
			TaxAmount:           tax.TaxAmount,
			IncludedInPrintRate: tax.IncludedInPrintRate,
			CostCenter:          tax.CostCenter,
		})
	}

	cn.RecalculateTotals()
	return cn
}
