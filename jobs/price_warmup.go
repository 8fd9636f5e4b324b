package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/lotledger/internal/jobs"
	"github.com/odyssey-erp/lotledger/internal/pricing"
)

// HistoryReader loads a product's price history through the cache.
type HistoryReader interface {
	History(ctx context.Context, productID uuid.UUID) ([]pricing.LedgerEntry, error)
}

// PriceWarmupJob repopulates the price history cache for products touched by
// an applied document.
type PriceWarmupJob struct {
	Pricing     HistoryReader
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewPriceWarmupJob wires dependencies for the warmup handler.
func NewPriceWarmupJob(pricingSvc HistoryReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *PriceWarmupJob {
	return &PriceWarmupJob{Pricing: pricingSvc, Logger: logger, Metrics: metrics, Concurrency: 4}
}

// Handle processes document-applied tasks.
func (j *PriceWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pricing == nil {
		return errors.New("price warmup: handler not configured")
	}
	var evt pricing.DocumentAppliedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("price warmup: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskPriceDocumentApplied)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("document_id", evt.DocumentID.String()), slog.String("slug", evt.Slug))
	if len(evt.ProductIDs) == 0 {
		logger.Info("no products to warm")
		return resultErr
	}
	start := time.Now()

	limit := j.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, productID := range evt.ProductIDs {
		g.Go(func() error {
			if _, err := j.Pricing.History(gctx, productID); err != nil {
				return fmt.Errorf("warm history %s: %w", productID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		logger.Error("price warmup failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddItems(TaskPriceDocumentApplied, len(evt.ProductIDs))
	logger.Info("completed price warmup", slog.Int("products", len(evt.ProductIDs)), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *PriceWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPriceDocumentApplied))
	}
	return slog.Default().With(slog.String("job", TaskPriceDocumentApplied))
}

func (j *PriceWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
