package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/lotledger/internal/jobs"
	"github.com/odyssey-erp/lotledger/internal/platform/cache"
	"github.com/odyssey-erp/lotledger/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const valuationLockTTL = 5 * time.Minute

// ValuationSnapshotter persists per-product stock value for a day.
type ValuationSnapshotter interface {
	SnapshotValuation(ctx context.Context, asOf time.Time) (int, error)
}

// LotValuationJob writes the daily inventory valuation snapshot. Only one
// worker runs a given day at a time.
type LotValuationJob struct {
	Inventory ValuationSnapshotter
	Locker    *cache.Locker
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewLotValuationJob wires dependencies for the valuation handler.
func NewLotValuationJob(inventory ValuationSnapshotter, locker *cache.Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LotValuationJob {
	return &LotValuationJob{
		Inventory: inventory,
		Locker:    locker,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes lot valuation tasks.
func (j *LotValuationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("lot valuation: handler not configured")
	}
	var payload LotValuationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("lot valuation: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	asOf := j.now()
	if payload.AsOf != "" {
		parsed, err := time.Parse(time.DateOnly, payload.AsOf)
		if err != nil {
			return fmt.Errorf("lot valuation: as_of %q: %v: %w", payload.AsOf, err, asynq.SkipRetry)
		}
		asOf = parsed
	}
	day := asOf.Format(time.DateOnly)

	tracker := j.metrics().Track(TaskLotValuation)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("as_of", day))
	logger.Info("starting lot valuation")
	start := time.Now()

	var rows int
	err := j.Locker.WithLock(ctx, shared.ValuationLockKey(day), valuationLockTTL, func(ctx context.Context) error {
		var err error
		rows, err = j.Inventory.SnapshotValuation(ctx, asOf)
		return err
	})
	if errors.Is(err, cache.ErrLockHeld) {
		logger.Info("lot valuation already running elsewhere")
		return nil
	}
	if err != nil {
		resultErr = err
		logger.Error("lot valuation failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddItems(TaskLotValuation, rows)
	logger.Info("completed lot valuation", slog.Int("products", rows), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *LotValuationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLotValuation))
	}
	return slog.Default().With(slog.String("job", TaskLotValuation))
}

func (j *LotValuationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LotValuationJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *LotValuationJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
