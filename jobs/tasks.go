package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/lotledger/internal/pricing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLotValuation snapshots on-hand stock value at lot cost.
	TaskLotValuation = "inventory:lot-valuation"
	// TaskPriceDocumentApplied warms price history after a document applies.
	TaskPriceDocumentApplied = "pricing:document-applied"
)

// LotValuationPayload names the snapshot day. Empty means today (UTC).
type LotValuationPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// NewLotValuationTask constructs the valuation snapshot task.
func NewLotValuationTask(asOf time.Time) (*asynq.Task, error) {
	payload := LotValuationPayload{}
	if !asOf.IsZero() {
		payload.AsOf = asOf.UTC().Format(time.DateOnly)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLotValuation, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewDocumentAppliedTask wraps an applied-document event as a task.
func NewDocumentAppliedTask(evt pricing.DocumentAppliedEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPriceDocumentApplied, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
