package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/lotledger/internal/shared"
)

// Lot is a batch of one product received at one unit cost.
type Lot struct {
	ID                uuid.UUID       `json:"id"`
	ProductID         uuid.UUID       `json:"product_id"`
	QuantityTotal     int64           `json:"quantity_total"`
	QuantityRemaining int64           `json:"quantity_remaining"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Deduction records how much one lot contributed to an allocation.
type Deduction struct {
	LotID    uuid.UUID       `json:"lot_id"`
	Quantity int64           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Allocation links a sale line to the lot that supplied it. UnitCost is frozen
// at allocation time.
type Allocation struct {
	ID         uuid.UUID       `json:"id"`
	SaleLineID uuid.UUID       `json:"sale_line_id"`
	LotID      uuid.UUID       `json:"lot_id"`
	Quantity   int64           `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SaleLine is one product line of a recorded order.
type SaleLine struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	Quantity    int64           `json:"quantity"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	CreatedAt   time.Time       `json:"created_at"`
	Allocations []Allocation    `json:"allocations"`
}

// CostTotal sums the frozen cost of every allocation.
func (l SaleLine) CostTotal() decimal.Decimal {
	total := decimal.Zero
	for _, a := range l.Allocations {
		total = total.Add(a.UnitCost.Mul(decimal.NewFromInt(a.Quantity)))
	}
	return total
}

// Revenue is quantity times sell price.
func (l SaleLine) Revenue() decimal.Decimal {
	return l.SellPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// Margin is revenue minus allocated cost.
func (l SaleLine) Margin() decimal.Decimal {
	return l.Revenue().Sub(l.CostTotal())
}

// AddLotInput describes a stock receipt.
type AddLotInput struct {
	ProductID uuid.UUID
	Quantity  int64
	UnitCost  decimal.Decimal
	ActorID   uuid.UUID
}

// SaleLineInput is one requested line of a sale.
type SaleLineInput struct {
	ProductID uuid.UUID
	Quantity  int64
	SellPrice decimal.Decimal
}

// SaleInput describes an order to record.
type SaleInput struct {
	OrderID uuid.UUID
	ActorID uuid.UUID
	Lines   []SaleLineInput
}

// LotFilter narrows lot listings.
type LotFilter struct {
	IncludeDepleted bool
}

// ValuationRow is the FIFO cost of stock on hand for one product.
type ValuationRow struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	Value     decimal.Decimal `json:"value"`
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = shared.ValidationError("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = shared.ValidationError("inventory: unit cost must not be negative")
	// ErrInvalidSellPrice indicates a negative sell price.
	ErrInvalidSellPrice = shared.ValidationError("inventory: sell price must not be negative")
	// ErrInvalidSale indicates a sale without order or lines.
	ErrInvalidSale = shared.ValidationError("inventory: sale requires order and at least one line")
	// ErrProductRequired indicates a missing product id.
	ErrProductRequired = shared.ValidationError("inventory: product required")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = shared.NotFoundError("inventory: product not found")
	// ErrInsufficientStock matches every InsufficientStockError.
	ErrInsufficientStock = shared.ConflictError("inventory: insufficient stock")
)

// InsufficientStockError reports how much of a request could not be covered.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int64
	Shortfall int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %s: requested %d, missing %d", e.ProductID, e.Requested, e.Shortfall)
}

// Is matches ErrInsufficientStock and its conflict classification.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == shared.ErrConflict
}
