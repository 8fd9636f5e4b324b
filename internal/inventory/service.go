package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/lotledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListLots(ctx context.Context, productID uuid.UUID, filter LotFilter) ([]Lot, error)
	ListSaleLines(ctx context.Context, orderID uuid.UUID) ([]SaleLine, error)
	Valuation(ctx context.Context) ([]ValuationRow, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against recording the same order twice.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates lot receipts, FIFO allocation and sale recording.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	clock       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, clock: func() time.Time { return time.Now().UTC() }}
}

// AddLot records a stock receipt as a new lot.
func (s *Service) AddLot(ctx context.Context, input AddLotInput) (Lot, error) {
	if input.ProductID == uuid.Nil {
		return Lot{}, ErrProductRequired
	}
	if input.Quantity <= 0 {
		return Lot{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Lot{}, ErrInvalidUnitCost
	}
	var lot Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.ProductExists(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrProductNotFound
		}
		lot, err = tx.InsertLot(ctx, Lot{
			ProductID:         input.ProductID,
			QuantityTotal:     input.Quantity,
			QuantityRemaining: input.Quantity,
			UnitCost:          input.UnitCost.Round(2),
		})
		return err
	})
	if err != nil {
		return Lot{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "inventory:lot_added",
		Entity:   "inventory_lot",
		EntityID: lot.ID.String(),
		Meta: map[string]any{
			"product_id": lot.ProductID.String(),
			"quantity":   lot.QuantityTotal,
			"unit_cost":  lot.UnitCost.String(),
		},
	})
	return lot, nil
}

// Allocate consumes quantity of a product from its oldest lots and commits
// the deductions. Nothing is consumed when stock is insufficient.
func (s *Service) Allocate(ctx context.Context, productID uuid.UUID, quantity int64) ([]Deduction, error) {
	if productID == uuid.Nil {
		return nil, ErrProductRequired
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	var deductions []Deduction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		deductions, err = allocate(ctx, tx, productID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deductions, nil
}

// allocate walks the locked lots of productID oldest first. It must run inside
// the caller's transaction.
func allocate(ctx context.Context, tx TxRepository, productID uuid.UUID, quantity int64) ([]Deduction, error) {
	lots, err := tx.LockAvailableLots(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: lock lots: %w", err)
	}
	need := quantity
	deductions := make([]Deduction, 0, len(lots))
	for _, lot := range lots {
		if need == 0 {
			break
		}
		if lot.QuantityRemaining <= 0 {
			continue
		}
		take := min(need, lot.QuantityRemaining)
		deductions = append(deductions, Deduction{LotID: lot.ID, Quantity: take, UnitCost: lot.UnitCost})
		need -= take
	}
	if need > 0 {
		return nil, &InsufficientStockError{ProductID: productID, Requested: quantity, Shortfall: need}
	}
	remaining := make(map[uuid.UUID]int64, len(lots))
	for _, lot := range lots {
		remaining[lot.ID] = lot.QuantityRemaining
	}
	for _, d := range deductions {
		if err := tx.UpdateLotRemaining(ctx, d.LotID, remaining[d.LotID]-d.Quantity); err != nil {
			return nil, fmt.Errorf("inventory: update lot %s: %w", d.LotID, err)
		}
	}
	return deductions, nil
}

// RecordSale allocates and persists every line of an order in one
// transaction. Either the whole order is recorded or nothing is.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) ([]SaleLine, error) {
	if err := validateSale(input); err != nil {
		return nil, err
	}
	key := saleIdempotencyKey(input.OrderID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return nil, err
		}
		insertedKey = true
	}

	var lines []SaleLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines = make([]SaleLine, 0, len(input.Lines))
		for _, in := range input.Lines {
			deductions, err := allocate(ctx, tx, in.ProductID, in.Quantity)
			if err != nil {
				return err
			}
			line, err := tx.InsertSaleLine(ctx, SaleLine{
				OrderID:   input.OrderID,
				ProductID: in.ProductID,
				Quantity:  in.Quantity,
				SellPrice: in.SellPrice.Round(2),
			})
			if err != nil {
				return fmt.Errorf("inventory: insert sale line: %w", err)
			}
			line.Allocations = make([]Allocation, 0, len(deductions))
			for _, d := range deductions {
				alloc, err := tx.InsertAllocation(ctx, Allocation{
					SaleLineID: line.ID,
					LotID:      d.LotID,
					Quantity:   d.Quantity,
					UnitCost:   d.UnitCost,
				})
				if err != nil {
					return fmt.Errorf("inventory: insert allocation: %w", err)
				}
				line.Allocations = append(line.Allocations, alloc)
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(context.WithoutCancel(ctx), key)
		}
		return nil, err
	}

	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "inventory:sale_recorded",
		Entity:   "order",
		EntityID: input.OrderID.String(),
		Meta:     map[string]any{"lines": len(lines)},
	})
	return lines, nil
}

func validateSale(input SaleInput) error {
	if input.OrderID == uuid.Nil || len(input.Lines) == 0 {
		return ErrInvalidSale
	}
	for _, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return ErrProductRequired
		}
		if line.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if line.SellPrice.IsNegative() {
			return ErrInvalidSellPrice
		}
	}
	return nil
}

func saleIdempotencyKey(orderID uuid.UUID) string {
	return "sale:" + orderID.String()
}

// ListLots returns a product's lots oldest first.
func (s *Service) ListLots(ctx context.Context, productID uuid.UUID, filter LotFilter) ([]Lot, error) {
	if productID == uuid.Nil {
		return nil, ErrProductRequired
	}
	return s.repo.ListLots(ctx, productID, filter)
}

// GetOrderLines returns the recorded lines of an order with their allocations.
func (s *Service) GetOrderLines(ctx context.Context, orderID uuid.UUID) ([]SaleLine, error) {
	if orderID == uuid.Nil {
		return nil, ErrInvalidSale
	}
	return s.repo.ListSaleLines(ctx, orderID)
}

// Valuation returns the FIFO cost of stock on hand per product.
func (s *Service) Valuation(ctx context.Context) ([]ValuationRow, error) {
	return s.repo.Valuation(ctx)
}

// SnapshotValuation persists the current valuation as of asOf and returns the
// number of product rows written.
func (s *Service) SnapshotValuation(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.clock()
	}
	written := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rows, err := tx.Valuation(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.InsertValuationSnapshot(ctx, asOf, rows); err != nil {
			return err
		}
		written = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, log)
}

// IsInsufficientStock extracts the shortfall detail from err.
func IsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
