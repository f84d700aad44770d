package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeCreditNoteDeliver renders a credit note PDF and mails it to
	// the customer contact.
	TaskTypeCreditNoteDeliver = "returns:credit_note_deliver"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// CreditNoteDeliveryPayload identifies a freshly issued credit note.
type CreditNoteDeliveryPayload struct {
	CreditNote string `json:"credit_note"`
	Invoice    string `json:"invoice"`
	Customer   string `json:"customer"`
}

// NewCreditNoteDeliveryTask constructs an Asynq task.
func NewCreditNoteDeliveryTask(payload CreditNoteDeliveryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCreditNoteDeliver, data), nil
}

// IdempotencyCleanupPayload controls key retention.
type IdempotencyCleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data), nil
}
