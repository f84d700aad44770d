package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-returns/internal/invoicing"
	jobmetrics "github.com/meridian-erp/meridian-returns/internal/jobs"
)

// CreditNoteLoader fetches the issued credit note for rendering.
type CreditNoteLoader interface {
	GetInvoiceByNumber(ctx context.Context, docNumber string) (*invoicing.Invoice, error)
}

// CreditNoteRenderer turns a credit note into a PDF document.
type CreditNoteRenderer interface {
	RenderCreditNote(ctx context.Context, inv *invoicing.Invoice) ([]byte, error)
}

// Mailer delivers a rendered credit note.
type Mailer interface {
	SendCreditNote(ctx context.Context, customer, creditNote string, pdf []byte) error
}

// CreditNoteDeliveryJob renders and mails credit notes after issuance.
type CreditNoteDeliveryJob struct {
	loader   CreditNoteLoader
	renderer CreditNoteRenderer
	mailer   Mailer
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
}

// NewCreditNoteDeliveryJob constructs the delivery job.
func NewCreditNoteDeliveryJob(loader CreditNoteLoader, renderer CreditNoteRenderer, mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CreditNoteDeliveryJob {
	if metrics == nil {
		metrics = jobmetrics.NewMetrics(nil)
	}
	return &CreditNoteDeliveryJob{
		loader:   loader,
		renderer: renderer,
		mailer:   mailer,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handle processes TaskTypeCreditNoteDeliver tasks.
func (j *CreditNoteDeliveryJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("credit_note_deliver")

	var payload CreditNoteDeliveryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		_ = tracker.End(err)
		return asynq.SkipRetry
	}

	inv, err := j.loader.GetInvoiceByNumber(ctx, payload.CreditNote)
	if err != nil {
		return tracker.End(fmt.Errorf("load credit note %s: %w", payload.CreditNote, err))
	}

	pdf, err := j.renderer.RenderCreditNote(ctx, inv)
	if err != nil {
		return tracker.End(fmt.Errorf("render credit note %s: %w", payload.CreditNote, err))
	}

	if err := j.mailer.SendCreditNote(ctx, payload.Customer, payload.CreditNote, pdf); err != nil {
		return tracker.End(fmt.Errorf("mail credit note %s: %w", payload.CreditNote, err))
	}

	j.logger.Info("credit note delivered",
		slog.String("credit_note", payload.CreditNote),
		slog.String("invoice", payload.Invoice),
		slog.String("customer", payload.Customer),
	)
	return tracker.End(nil)
}
