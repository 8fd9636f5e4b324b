package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/lotledger/internal/shared"
)

func normaliseDocumentInput(input DocumentInput) (DocumentInput, error) {
	if input.TargetPriceTypeID == uuid.Nil {
		return input, ErrTargetRequired
	}
	if input.InputMethod == "" {
		input.InputMethod = InputManual
	}
	if !input.InputMethod.Valid() {
		return input, ErrInvalidInputMethod
	}
	if input.RoundingMethod == "" {
		input.RoundingMethod = RoundNone
	}
	if !input.RoundingMethod.Valid() {
		return input, ErrInvalidRounding
	}
	if input.RoundingValue != nil && !input.RoundingValue.IsPositive() {
		return input, ErrInvalidRounding
	}
	if input.InputMethod == InputFormula && (input.SourcePriceTypeID == nil || input.MarkupPercentage == nil) {
		return input, ErrFormulaIncomplete
	}
	input.Comment = strings.TrimSpace(input.Comment)
	return input, nil
}

// resolveTiers checks the referenced price types and fills their names.
func resolveTiers(ctx context.Context, tx TxRepository, doc *Document) error {
	target, err := activePriceType(ctx, tx, doc.TargetPriceTypeID)
	if err != nil {
		return err
	}
	doc.TargetPriceTypeName = target.Name
	if doc.SourcePriceTypeID != nil {
		source, err := activePriceType(ctx, tx, *doc.SourcePriceTypeID)
		if err != nil {
			return err
		}
		doc.SourcePriceTypeName = source.Name
	}
	return nil
}

// CreateDocument opens a new DRAFT price document.
func (s *Service) CreateDocument(ctx context.Context, input DocumentInput) (Document, error) {
	input, err := normaliseDocumentInput(input)
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		Status:            StatusDraft,
		TargetPriceTypeID: input.TargetPriceTypeID,
		InputMethod:       input.InputMethod,
		SourcePriceTypeID: input.SourcePriceTypeID,
		MarkupPercentage:  input.MarkupPercentage,
		RoundingMethod:    input.RoundingMethod,
		RoundingValue:     input.RoundingValue,
		Date:              s.clock(),
		Comment:           input.Comment,
	}
	if input.Date != nil && !input.Date.IsZero() {
		doc.Date = input.Date.UTC()
	}
	var created Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := resolveTiers(ctx, tx, &doc); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("pricing: insert document: %w", err)
		}
		created.TargetPriceTypeName = doc.TargetPriceTypeName
		created.SourcePriceTypeName = doc.SourcePriceTypeName
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return created, nil
}

// ListDocuments pages through documents, newest date first.
func (s *Service) ListDocuments(ctx context.Context, filter ListFilter) (DocumentList, error) {
	if filter.Status != "" && filter.Status != StatusDraft && filter.Status != StatusApplied {
		return DocumentList{}, shared.ValidationError("pricing: unknown document status")
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, 0)
	docs, total, err := s.repo.ListDocuments(ctx, filter.Status, page.PerPage, page.Offset())
	if err != nil {
		return DocumentList{}, err
	}
	return DocumentList{Documents: docs, Pagination: shared.NewPagination(page.Page, page.PerPage, total)}, nil
}

// GetDocument returns a document header and its lines ordered by product name.
func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (Document, []DocumentLine, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	lines, err := s.repo.ListDocumentLines(ctx, id)
	if err != nil {
		return Document{}, nil, err
	}
	return doc, lines, nil
}

func lockDraft(ctx context.Context, tx TxRepository, id uuid.UUID) (Document, error) {
	doc, err := tx.LockDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status != StatusDraft {
		return Document{}, ErrDocumentNotDraft
	}
	return doc, nil
}

// UpdateDocument replaces the header of a DRAFT document. A nil date keeps
// the current one.
func (s *Service) UpdateDocument(ctx context.Context, id uuid.UUID, input DocumentInput) (Document, error) {
	input, err := normaliseDocumentInput(input)
	if err != nil {
		return Document{}, err
	}
	var updated Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := lockDraft(ctx, tx, id)
		if err != nil {
			return err
		}
		doc.TargetPriceTypeID = input.TargetPriceTypeID
		doc.InputMethod = input.InputMethod
		doc.SourcePriceTypeID = input.SourcePriceTypeID
		doc.MarkupPercentage = input.MarkupPercentage
		doc.RoundingMethod = input.RoundingMethod
		doc.RoundingValue = input.RoundingValue
		doc.Comment = input.Comment
		if input.Date != nil && !input.Date.IsZero() {
			doc.Date = input.Date.UTC()
		}
		if err := resolveTiers(ctx, tx, &doc); err != nil {
			return err
		}
		updated, err = tx.UpdateDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("pricing: update document: %w", err)
		}
		updated.TargetPriceTypeName = doc.TargetPriceTypeName
		updated.SourcePriceTypeName = doc.SourcePriceTypeName
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return updated, nil
}

// SetLines replaces every line of a DRAFT document. Formula documents compute
// lines without an explicit price from the source tier, markup and rounding.
func (s *Service) SetLines(ctx context.Context, id uuid.UUID, inputs []LineInput) ([]DocumentLine, error) {
	seen := make(map[uuid.UUID]struct{}, len(inputs))
	for _, in := range inputs {
		if in.ProductID == uuid.Nil {
			return nil, ErrProductRequired
		}
		if _, dup := seen[in.ProductID]; dup {
			return nil, ErrDuplicateLine
		}
		seen[in.ProductID] = struct{}{}
		if in.Price != nil && in.Price.IsNegative() {
			return nil, ErrInvalidPrice
		}
	}
	var stored []DocumentLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := lockDraft(ctx, tx, id)
		if err != nil {
			return err
		}
		target, err := activePriceType(ctx, tx, doc.TargetPriceTypeID)
		if err != nil {
			return err
		}
		var sourceSlug string
		if doc.InputMethod == InputFormula {
			if doc.SourcePriceTypeID == nil || doc.MarkupPercentage == nil {
				return ErrFormulaIncomplete
			}
			source, err := activePriceType(ctx, tx, *doc.SourcePriceTypeID)
			if err != nil {
				return err
			}
			sourceSlug = source.Slug
		}
		lines := make([]DocumentLine, 0, len(inputs))
		for _, in := range inputs {
			product, err := tx.GetProduct(ctx, in.ProductID)
			if err != nil {
				return err
			}
			line := DocumentLine{
				DocumentID:  id,
				ProductID:   product.ID,
				ProductName: product.Name,
				Unit:        product.Unit,
			}
			switch {
			case in.Price != nil:
				line.Price = in.Price.Round(2)
			case doc.InputMethod == InputFormula:
				computed := ApplyMarkup(product.Prices.Get(sourceSlug), *doc.MarkupPercentage)
				line.Price = Round(computed, doc.RoundingMethod, doc.RoundingValue)
			default:
				return ErrPriceRequired
			}
			old := product.Prices.Get(target.Slug)
			line.OldPrice = &old
			lines = append(lines, line)
		}
		stored, err = tx.ReplaceDocumentLines(ctx, id, lines)
		if err != nil {
			return fmt.Errorf("pricing: replace document lines: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Apply writes every line of a DRAFT document to the ledger and the live price
// map, then marks it APPLIED. All of it commits or none of it does.
func (s *Service) Apply(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (Document, error) {
	var (
		applied  Document
		slug     string
		products []uuid.UUID
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.LockDocument(ctx, id)
		if err != nil {
			return err
		}
		if doc.Status == StatusApplied {
			return ErrAlreadyApplied
		}
		target, err := activePriceType(ctx, tx, doc.TargetPriceTypeID)
		if err != nil {
			return err
		}
		slug = target.Slug
		lines, err := tx.DocumentLines(ctx, id)
		if err != nil {
			return fmt.Errorf("pricing: load document lines: %w", err)
		}
		tierID := doc.TargetPriceTypeID
		products = make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			if _, err := writePrice(ctx, tx, priceWrite{
				ProductID:     line.ProductID,
				PriceTypeID:   &tierID,
				Slug:          slug,
				NewPrice:      line.Price,
				EffectiveDate: doc.Date,
				Reason:        ReasonDocumentApplied,
				CreatedBy:     actorID,
				MutateLive:    true,
			}); err != nil {
				return err
			}
			products = append(products, line.ProductID)
		}
		if err := tx.SetDocumentStatus(ctx, id, StatusApplied); err != nil {
			return fmt.Errorf("pricing: mark applied: %w", err)
		}
		doc.Status = StatusApplied
		doc.TargetPriceTypeName = target.Name
		applied = doc
		return nil
	})
	if err != nil {
		return Document{}, err
	}

	_ = s.cache.Bump(ctx)
	s.record(ctx, actorOf(actorID), "pricing:document_applied", "price_document", id.String(), map[string]any{
		"slug":  slug,
		"lines": len(products),
	})
	if s.events != nil && len(products) > 0 {
		_ = s.events.PublishDocumentApplied(ctx, DocumentAppliedEvent{
			DocumentID: id,
			Slug:       slug,
			ProductIDs: products,
			AppliedAt:  s.clock(),
		})
	}
	return applied, nil
}

// Copy clones a document of any status into a new DRAFT dated now. The source
// is left untouched.
func (s *Service) Copy(ctx context.Context, id uuid.UUID) (Document, error) {
	var copied Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.GetDocument(ctx, id)
		if err != nil {
			return err
		}
		lines, err := tx.DocumentLines(ctx, id)
		if err != nil {
			return fmt.Errorf("pricing: load document lines: %w", err)
		}
		copied, err = tx.InsertDocument(ctx, Document{
			Status:            StatusDraft,
			TargetPriceTypeID: src.TargetPriceTypeID,
			InputMethod:       src.InputMethod,
			SourcePriceTypeID: src.SourcePriceTypeID,
			MarkupPercentage:  src.MarkupPercentage,
			RoundingMethod:    src.RoundingMethod,
			RoundingValue:     src.RoundingValue,
			Date:              s.clock(),
			Comment:           copyComment(src),
		})
		if err != nil {
			return fmt.Errorf("pricing: insert copy: %w", err)
		}
		clones := make([]DocumentLine, 0, len(lines))
		for _, line := range lines {
			clones = append(clones, DocumentLine{
				DocumentID: copied.ID,
				ProductID:  line.ProductID,
				Price:      line.Price,
				OldPrice:   line.OldPrice,
			})
		}
		if _, err := tx.ReplaceDocumentLines(ctx, copied.ID, clones); err != nil {
			return fmt.Errorf("pricing: copy lines: %w", err)
		}
		copied.TargetPriceTypeName = src.TargetPriceTypeName
		copied.SourcePriceTypeName = src.SourcePriceTypeName
		return nil
	})
	if err != nil {
		return Document{}, err
	}
	return copied, nil
}

func copyComment(src Document) string {
	return strings.TrimSpace(fmt.Sprintf("Copy of (%s) %s", src.Date.Format("2006-01-02"), src.Comment))
}
