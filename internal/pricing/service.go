package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/lotledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	History(ctx context.Context, productID uuid.UUID) ([]LedgerEntry, error)
	ListPriceTypes(ctx context.Context, includeDeleted bool) ([]PriceType, error)
	ListDocuments(ctx context.Context, status Status, limit, offset int) ([]Document, int, error)
	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	ListDocumentLines(ctx context.Context, documentID uuid.UUID) ([]DocumentLine, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns every write to product prices.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	cache  *Cache
	events EventPublisher
	clock  func() time.Time
}

// NewService builds Service. cache and events may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache *Cache, events EventPublisher) *Service {
	return &Service{
		repo:   repo,
		audit:  audit,
		cache:  cache,
		events: events,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type priceWrite struct {
	ProductID     uuid.UUID
	PriceTypeID   *uuid.UUID
	Slug          string
	NewPrice      decimal.Decimal
	EffectiveDate time.Time
	Reason        string
	CreatedBy     *uuid.UUID
	MutateLive    bool
}

// writePrice journals a price change and, when requested, updates the live
// price map in the same transaction. Prices are stored to the cent, so the
// ledger and the live map always hold the same value.
func writePrice(ctx context.Context, tx TxRepository, w priceWrite) (PriceChange, error) {
	w.NewPrice = w.NewPrice.Round(2)
	product, err := tx.GetProduct(ctx, w.ProductID)
	if err != nil {
		return PriceChange{}, err
	}
	oldPrice := product.Prices.Get(w.Slug)
	entry, err := tx.InsertLedgerEntry(ctx, LedgerEntry{
		ProductID:     w.ProductID,
		PriceTypeID:   w.PriceTypeID,
		OldPrice:      oldPrice,
		NewPrice:      w.NewPrice,
		EffectiveDate: w.EffectiveDate,
		Reason:        w.Reason,
		CreatedBy:     w.CreatedBy,
	})
	if err != nil {
		return PriceChange{}, fmt.Errorf("pricing: insert ledger entry: %w", err)
	}
	if w.MutateLive {
		if err := tx.SetProductPrice(ctx, w.ProductID, w.Slug, w.NewPrice); err != nil {
			return PriceChange{}, fmt.Errorf("pricing: update product price: %w", err)
		}
	}
	return PriceChange{
		ProductID: w.ProductID,
		Slug:      w.Slug,
		OldPrice:  oldPrice,
		NewPrice:  w.NewPrice,
		Applied:   w.MutateLive,
		Entry:     entry,
	}, nil
}

func activePriceType(ctx context.Context, tx TxRepository, id uuid.UUID) (PriceType, error) {
	pt, err := tx.GetPriceType(ctx, id)
	if err != nil {
		return PriceType{}, err
	}
	if pt.Deleted {
		return PriceType{}, ErrPriceTypeNotFound
	}
	return pt, nil
}

// SetPrice journals a one-off price edit. The live price changes only when the
// effective date is now or in the past; future-dated entries stay journaled.
func (s *Service) SetPrice(ctx context.Context, input SetPriceInput) (PriceChange, error) {
	if input.ProductID == uuid.Nil {
		return PriceChange{}, ErrProductRequired
	}
	if input.NewPrice.IsNegative() {
		return PriceChange{}, ErrInvalidPrice
	}
	now := s.clock()
	effective := now
	if input.EffectiveDate != nil && !input.EffectiveDate.IsZero() {
		effective = input.EffectiveDate.UTC()
	}
	var change PriceChange
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		slug := DefaultSlug
		if input.PriceTypeID != nil {
			pt, err := activePriceType(ctx, tx, *input.PriceTypeID)
			if err != nil {
				return err
			}
			slug = pt.Slug
		}
		var err error
		change, err = writePrice(ctx, tx, priceWrite{
			ProductID:     input.ProductID,
			PriceTypeID:   input.PriceTypeID,
			Slug:          slug,
			NewPrice:      input.NewPrice,
			EffectiveDate: effective,
			Reason:        strings.TrimSpace(input.Reason),
			CreatedBy:     input.ActorID,
			MutateLive:    !effective.After(now),
		})
		return err
	})
	if err != nil {
		return PriceChange{}, err
	}
	_ = s.cache.Bump(ctx)
	s.record(ctx, actorOf(input.ActorID), "pricing:price_set", "product", input.ProductID.String(), map[string]any{
		"slug":      change.Slug,
		"old_price": change.OldPrice.String(),
		"new_price": change.NewPrice.String(),
		"applied":   change.Applied,
	})
	return change, nil
}

// History returns a product's ledger, newest effective date first.
func (s *Service) History(ctx context.Context, productID uuid.UUID) ([]LedgerEntry, error) {
	if productID == uuid.Nil {
		return nil, ErrProductRequired
	}
	key, err := s.cache.BuildKey(ctx, "pricing", "history", productID.String())
	if err != nil {
		return s.repo.History(ctx, productID)
	}
	var entries []LedgerEntry
	err = s.cache.FetchJSON(ctx, key, &entries, func(ctx context.Context) (any, error) {
		return s.repo.History(ctx, productID)
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []LedgerEntry{}
	}
	return entries, nil
}

// ListPriceTypes returns price tiers ordered by name.
func (s *Service) ListPriceTypes(ctx context.Context, includeDeleted bool) ([]PriceType, error) {
	return s.repo.ListPriceTypes(ctx, includeDeleted)
}

// CreatePriceType adds a tier. Slugs are unique.
func (s *Service) CreatePriceType(ctx context.Context, input PriceTypeInput) (PriceType, error) {
	input, err := normalisePriceType(input)
	if err != nil {
		return PriceType{}, err
	}
	var pt PriceType
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pt, err = tx.InsertPriceType(ctx, PriceType{Name: input.Name, Slug: input.Slug, Currency: input.Currency})
		return err
	})
	if err != nil {
		return PriceType{}, err
	}
	return pt, nil
}

// UpdatePriceType renames a tier or changes its currency or slug.
func (s *Service) UpdatePriceType(ctx context.Context, id uuid.UUID, input PriceTypeInput) (PriceType, error) {
	input, err := normalisePriceType(input)
	if err != nil {
		return PriceType{}, err
	}
	var pt PriceType
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := activePriceType(ctx, tx, id)
		if err != nil {
			return err
		}
		current.Name = input.Name
		current.Slug = input.Slug
		current.Currency = input.Currency
		pt, err = tx.UpdatePriceType(ctx, current)
		return err
	})
	if err != nil {
		return PriceType{}, err
	}
	return pt, nil
}

// DeletePriceType soft-deletes a tier. Existing ledger entries keep their
// reference.
func (s *Service) DeletePriceType(ctx context.Context, id uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := activePriceType(ctx, tx, id); err != nil {
			return err
		}
		return tx.SoftDeletePriceType(ctx, id)
	})
}

func normalisePriceType(input PriceTypeInput) (PriceTypeInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Slug = strings.ToLower(strings.TrimSpace(input.Slug))
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.Name == "" || input.Slug == "" {
		return input, ErrInvalidPriceType
	}
	if input.Currency == "" {
		input.Currency = "UAH"
	}
	return input, nil
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: entity, EntityID: entityID, Meta: meta})
}

func actorOf(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
