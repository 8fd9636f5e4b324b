package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DocumentAppliedEvent is published after an apply commits.
type DocumentAppliedEvent struct {
	DocumentID uuid.UUID   `json:"document_id"`
	Slug       string      `json:"slug"`
	ProductIDs []uuid.UUID `json:"product_ids"`
	AppliedAt  time.Time   `json:"applied_at"`
}

// EventPublisher receives pricing events for asynchronous follow-up work.
type EventPublisher interface {
	PublishDocumentApplied(ctx context.Context, evt DocumentAppliedEvent) error
}
