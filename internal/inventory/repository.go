package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/lotledger/internal/platform/db"
)

// Repository persists lots and sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	ProductExists(ctx context.Context, productID uuid.UUID) (bool, error)
	InsertLot(ctx context.Context, lot Lot) (Lot, error)
	LockAvailableLots(ctx context.Context, productID uuid.UUID) ([]Lot, error)
	UpdateLotRemaining(ctx context.Context, lotID uuid.UUID, remaining int64) error
	InsertSaleLine(ctx context.Context, line SaleLine) (SaleLine, error)
	InsertAllocation(ctx context.Context, alloc Allocation) (Allocation, error)
	Valuation(ctx context.Context) ([]ValuationRow, error)
	InsertValuationSnapshot(ctx context.Context, asOf time.Time, rows []ValuationRow) error
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const lotColumns = `id, product_id, quantity_total, quantity_remaining, unit_cost, created_at, updated_at`

// ListLots returns lots of a product oldest first.
func (r *Repository) ListLots(ctx context.Context, productID uuid.UUID, filter LotFilter) ([]Lot, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+`
FROM inventory_lots
WHERE product_id=$1 AND ($2 OR quantity_remaining > 0)
ORDER BY created_at ASC, id ASC`, productID, filter.IncludeDepleted)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

// ListSaleLines returns an order's lines with allocations.
func (r *Repository) ListSaleLines(ctx context.Context, orderID uuid.UUID) ([]SaleLine, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT l.id, l.order_id, l.product_id, l.quantity, l.sell_price, l.created_at,
       a.id, a.lot_id, a.quantity, a.unit_cost, a.created_at
FROM sale_lines l
LEFT JOIN sale_allocations a ON a.sale_line_id = l.id
LEFT JOIN inventory_lots lot ON lot.id = a.lot_id
WHERE l.order_id=$1
ORDER BY l.created_at ASC, l.id ASC, lot.created_at ASC, lot.id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []SaleLine{}
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var line SaleLine
		var allocID, lotID *uuid.UUID
		var allocQty *int64
		var allocCost decimal.NullDecimal
		var allocCreated *time.Time
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.SellPrice, &line.CreatedAt,
			&allocID, &lotID, &allocQty, &allocCost, &allocCreated); err != nil {
			return nil, err
		}
		pos, ok := index[line.ID]
		if !ok {
			line.Allocations = []Allocation{}
			lines = append(lines, line)
			pos = len(lines) - 1
			index[line.ID] = pos
		}
		if allocID == nil {
			continue
		}
		lines[pos].Allocations = append(lines[pos].Allocations, Allocation{
			ID:         *allocID,
			SaleLineID: line.ID,
			LotID:      *lotID,
			Quantity:   *allocQty,
			UnitCost:   allocCost.Decimal,
			CreatedAt:  *allocCreated,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Valuation aggregates remaining quantity and FIFO cost per product.
func (r *Repository) Valuation(ctx context.Context) ([]ValuationRow, error) {
	if r == nil {
		return nil, errors.New("inventory repository not initialised")
	}
	return queryValuation(ctx, r.pool)
}

func queryValuation(ctx context.Context, q querier) ([]ValuationRow, error) {
	rows, err := q.Query(ctx, `SELECT product_id, SUM(quantity_remaining)::BIGINT, SUM(quantity_remaining * unit_cost)
FROM inventory_lots
WHERE quantity_remaining > 0
GROUP BY product_id
ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []ValuationRow{}
	for rows.Next() {
		var row ValuationRow
		if err := rows.Scan(&row.ProductID, &row.Quantity, &row.Value); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (r *txRepository) ProductExists(ctx context.Context, productID uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id=$1)`, productID).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (Lot, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_lots (product_id, quantity_total, quantity_remaining, unit_cost, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW())
RETURNING `+lotColumns, lot.ProductID, lot.QuantityTotal, lot.QuantityRemaining, lot.UnitCost).
		Scan(&lot.ID, &lot.ProductID, &lot.QuantityTotal, &lot.QuantityRemaining, &lot.UnitCost, &lot.CreatedAt, &lot.UpdatedAt)
	return lot, err
}

// LockAvailableLots row-locks every lot with stock left. Concurrent callers for
// the same product queue here until the holder commits or rolls back.
func (r *txRepository) LockAvailableLots(ctx context.Context, productID uuid.UUID) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotColumns+`
FROM inventory_lots
WHERE product_id=$1 AND quantity_remaining > 0
ORDER BY created_at ASC, id ASC
FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

func (r *txRepository) UpdateLotRemaining(ctx context.Context, lotID uuid.UUID, remaining int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_lots SET quantity_remaining=$2, updated_at=NOW() WHERE id=$1`, lotID, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return errors.New("inventory: lot vanished during allocation")
	}
	return nil
}

func (r *txRepository) InsertSaleLine(ctx context.Context, line SaleLine) (SaleLine, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_lines (order_id, product_id, quantity, sell_price, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id, created_at`, line.OrderID, line.ProductID, line.Quantity, line.SellPrice).
		Scan(&line.ID, &line.CreatedAt)
	return line, err
}

func (r *txRepository) InsertAllocation(ctx context.Context, alloc Allocation) (Allocation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_allocations (sale_line_id, lot_id, quantity, unit_cost, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id, created_at`, alloc.SaleLineID, alloc.LotID, alloc.Quantity, alloc.UnitCost).
		Scan(&alloc.ID, &alloc.CreatedAt)
	return alloc, err
}

func (r *txRepository) Valuation(ctx context.Context) ([]ValuationRow, error) {
	return queryValuation(ctx, r.tx)
}

func (r *txRepository) InsertValuationSnapshot(ctx context.Context, asOf time.Time, rows []ValuationRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`INSERT INTO inventory_valuation_snapshots (product_id, as_of, quantity, value)
VALUES ($1,$2,$3,$4)
ON CONFLICT (product_id, as_of) DO UPDATE SET quantity=EXCLUDED.quantity, value=EXCLUDED.value`, row.ProductID, asOf, row.Quantity, row.Value)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func scanLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	lots := []Lot{}
	for rows.Next() {
		var lot Lot
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.QuantityTotal, &lot.QuantityRemaining, &lot.UnitCost, &lot.CreatedAt, &lot.UpdatedAt); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}
