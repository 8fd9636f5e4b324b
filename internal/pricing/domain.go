// Package pricing keeps product prices per tier behind an append-only ledger
// and applies batched price documents atomically.
package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/lotledger/internal/shared"
)

// DefaultSlug is the tier used when no price type is given.
const DefaultSlug = "standard"

// ReasonDocumentApplied is the ledger reason written by Apply.
const ReasonDocumentApplied = "Price Document Applied"

// Status is the lifecycle state of a price document.
type Status string

const (
	// StatusDraft documents may still be edited.
	StatusDraft Status = "DRAFT"
	// StatusApplied documents are terminal.
	StatusApplied Status = "APPLIED"
)

// InputMethod says how document line prices are produced.
type InputMethod string

const (
	// InputManual lines carry explicit prices.
	InputManual InputMethod = "MANUAL"
	// InputFormula lines are derived from a source tier plus markup.
	InputFormula InputMethod = "FORMULA"
)

// Valid reports whether m is a known input method.
func (m InputMethod) Valid() bool {
	return m == InputManual || m == InputFormula
}

// PriceMap holds a product's live price per tier slug.
type PriceMap map[string]decimal.Decimal

// Get returns the price for slug, zero when absent.
func (m PriceMap) Get(slug string) decimal.Decimal {
	if price, ok := m[slug]; ok {
		return price
	}
	return decimal.Zero
}

// Product is the read model of a product as far as pricing needs it.
type Product struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Unit   string    `json:"unit"`
	Prices PriceMap  `json:"prices"`
}

// PriceType is a named price tier.
type PriceType struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Currency  string    `json:"currency"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceTypeInput creates or renames a price tier.
type PriceTypeInput struct {
	Name     string
	Slug     string
	Currency string
}

// LedgerEntry is one immutable price change. A nil PriceTypeID means the
// standard tier.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	ProductID     uuid.UUID       `json:"product_id"`
	PriceTypeID   *uuid.UUID      `json:"price_type_id,omitempty"`
	OldPrice      decimal.Decimal `json:"old_price"`
	NewPrice      decimal.Decimal `json:"new_price"`
	EffectiveDate time.Time       `json:"effective_date"`
	Reason        string          `json:"reason,omitempty"`
	CreatedBy     *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SetPriceInput describes a one-off price edit.
type SetPriceInput struct {
	ProductID     uuid.UUID
	NewPrice      decimal.Decimal
	PriceTypeID   *uuid.UUID
	ActorID       *uuid.UUID
	Reason        string
	EffectiveDate *time.Time
}

// PriceChange reports the outcome of a ledger write.
type PriceChange struct {
	ProductID uuid.UUID       `json:"product_id"`
	Slug      string          `json:"slug"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	Applied   bool            `json:"applied"`
	Entry     LedgerEntry     `json:"entry"`
}

// Document is a batch of price changes for one target tier.
type Document struct {
	ID                  uuid.UUID        `json:"id"`
	Status              Status           `json:"status"`
	TargetPriceTypeID   uuid.UUID        `json:"target_price_type_id"`
	TargetPriceTypeName string           `json:"target_price_type_name,omitempty"`
	InputMethod         InputMethod      `json:"input_method"`
	SourcePriceTypeID   *uuid.UUID       `json:"source_price_type_id,omitempty"`
	SourcePriceTypeName string           `json:"source_price_type_name,omitempty"`
	MarkupPercentage    *decimal.Decimal `json:"markup_percentage,omitempty"`
	RoundingMethod      RoundingMethod   `json:"rounding_method"`
	RoundingValue       *decimal.Decimal `json:"rounding_value,omitempty"`
	Date                time.Time        `json:"date"`
	Comment             string           `json:"comment"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// DocumentLine is the price one product receives when the document applies.
// OldPrice snapshots the target tier price when the line was set.
type DocumentLine struct {
	ID          uuid.UUID        `json:"id"`
	DocumentID  uuid.UUID        `json:"document_id"`
	ProductID   uuid.UUID        `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	Price       decimal.Decimal  `json:"price"`
	OldPrice    *decimal.Decimal `json:"old_price,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// DocumentInput carries editable header fields.
type DocumentInput struct {
	Date              *time.Time
	TargetPriceTypeID uuid.UUID
	InputMethod       InputMethod
	SourcePriceTypeID *uuid.UUID
	MarkupPercentage  *decimal.Decimal
	Comment           string
	RoundingMethod    RoundingMethod
	RoundingValue     *decimal.Decimal
}

// LineInput is one requested document line. Price may be nil for formula
// documents, in which case it is computed.
type LineInput struct {
	ProductID uuid.UUID
	Price     *decimal.Decimal
}

// ListFilter narrows document listings.
type ListFilter struct {
	Page    int
	PerPage int
	Status  Status
}

// DocumentList is one page of documents.
type DocumentList struct {
	Documents  []Document        `json:"documents"`
	Pagination shared.Pagination `json:"pagination"`
}

var (
	// ErrProductRequired indicates a missing product id.
	ErrProductRequired = shared.ValidationError("pricing: product required")
	// ErrInvalidPrice indicates a negative price.
	ErrInvalidPrice = shared.ValidationError("pricing: price must not be negative")
	// ErrInvalidInputMethod indicates an unknown input method.
	ErrInvalidInputMethod = shared.ValidationError("pricing: unknown input method")
	// ErrInvalidRounding indicates an unknown rounding method or a non-positive step.
	ErrInvalidRounding = shared.ValidationError("pricing: invalid rounding policy")
	// ErrFormulaIncomplete indicates a formula document without source tier or markup.
	ErrFormulaIncomplete = shared.ValidationError("pricing: formula documents need a source price type and markup")
	// ErrTargetRequired indicates a document without target tier.
	ErrTargetRequired = shared.ValidationError("pricing: target price type required")
	// ErrPriceRequired indicates a manual line without price.
	ErrPriceRequired = shared.ValidationError("pricing: manual lines need a price")
	// ErrDuplicateLine indicates the same product twice in one line set.
	ErrDuplicateLine = shared.ValidationError("pricing: product listed twice in document")
	// ErrInvalidPriceType indicates a price type without name or slug.
	ErrInvalidPriceType = shared.ValidationError("pricing: price type name and slug required")
	// ErrDuplicateSlug indicates a slug already taken.
	ErrDuplicateSlug = shared.ConflictError("pricing: price type slug already exists")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = shared.NotFoundError("pricing: product not found")
	// ErrPriceTypeNotFound indicates the price type does not exist or was deleted.
	ErrPriceTypeNotFound = shared.NotFoundError("pricing: price type not found")
	// ErrDocumentNotFound indicates the document does not exist.
	ErrDocumentNotFound = shared.NotFoundError("pricing: price document not found")
	// ErrAlreadyApplied guards the single DRAFT to APPLIED transition.
	ErrAlreadyApplied = shared.ConflictError("pricing: price document already applied")
	// ErrDocumentNotDraft rejects edits of applied documents.
	ErrDocumentNotDraft = shared.ConflictError("pricing: price document is not a draft")
)
