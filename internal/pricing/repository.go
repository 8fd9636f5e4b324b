package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/lotledger/internal/platform/db"
)

// Repository persists prices, ledger entries and documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	GetPriceType(ctx context.Context, id uuid.UUID) (PriceType, error)
	InsertPriceType(ctx context.Context, pt PriceType) (PriceType, error)
	UpdatePriceType(ctx context.Context, pt PriceType) (PriceType, error)
	SoftDeletePriceType(ctx context.Context, id uuid.UUID) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	SetProductPrice(ctx context.Context, productID uuid.UUID, slug string, price decimal.Decimal) error
	InsertDocument(ctx context.Context, doc Document) (Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	LockDocument(ctx context.Context, id uuid.UUID) (Document, error)
	UpdateDocument(ctx context.Context, doc Document) (Document, error)
	SetDocumentStatus(ctx context.Context, id uuid.UUID, status Status) error
	ReplaceDocumentLines(ctx context.Context, documentID uuid.UUID, lines []DocumentLine) ([]DocumentLine, error)
	DocumentLines(ctx context.Context, documentID uuid.UUID) ([]DocumentLine, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("pricing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const documentSelect = `SELECT d.id, d.status, d.target_price_type_id, COALESCE(t.name, ''), d.input_method,
       d.source_price_type_id, COALESCE(s.name, ''), d.markup_percentage, d.rounding_method, d.rounding_value,
       d.date, d.comment, d.created_at, d.updated_at
FROM price_documents d
LEFT JOIN price_types t ON t.id = d.target_price_type_id
LEFT JOIN price_types s ON s.id = d.source_price_type_id`

const ledgerColumns = `id, product_id, price_type_id, old_price, new_price, effective_date, COALESCE(reason, ''), created_by, created_at`

const priceTypeColumns = `id, name, slug, currency, deleted, created_at, updated_at`

// History returns ledger entries newest effective date first.
func (r *Repository) History(ctx context.Context, productID uuid.UUID) ([]LedgerEntry, error) {
	if r == nil {
		return nil, errors.New("pricing repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ledgerColumns+`
FROM price_ledger
WHERE product_id=$1
ORDER BY effective_date DESC, created_at DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var entry LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.PriceTypeID, &entry.OldPrice, &entry.NewPrice, &entry.EffectiveDate, &entry.Reason, &entry.CreatedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListPriceTypes returns tiers ordered by name.
func (r *Repository) ListPriceTypes(ctx context.Context, includeDeleted bool) ([]PriceType, error) {
	if r == nil {
		return nil, errors.New("pricing repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+priceTypeColumns+` FROM price_types WHERE ($1 OR NOT deleted) ORDER BY name ASC, id ASC`, includeDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	types := []PriceType{}
	for rows.Next() {
		var pt PriceType
		if err := rows.Scan(&pt.ID, &pt.Name, &pt.Slug, &pt.Currency, &pt.Deleted, &pt.CreatedAt, &pt.UpdatedAt); err != nil {
			return nil, err
		}
		types = append(types, pt)
	}
	return types, rows.Err()
}

// ListDocuments returns one page of documents and the total count.
func (r *Repository) ListDocuments(ctx context.Context, status Status, limit, offset int) ([]Document, int, error) {
	if r == nil {
		return nil, 0, errors.New("pricing repository not initialised")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM price_documents WHERE ($1::text = '' OR status = $1::text)`, string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, documentSelect+`
WHERE ($1::text = '' OR d.status = $1::text)
ORDER BY d.date DESC, d.created_at DESC
LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// GetDocument loads a document header.
func (r *Repository) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	if r == nil {
		return Document{}, errors.New("pricing repository not initialised")
	}
	return getDocument(ctx, r.pool, id, false)
}

// ListDocumentLines returns lines joined with product details, by product name.
func (r *Repository) ListDocumentLines(ctx context.Context, documentID uuid.UUID) ([]DocumentLine, error) {
	if r == nil {
		return nil, errors.New("pricing repository not initialised")
	}
	return queryLines(ctx, r.pool, documentID, `p.name ASC, l.position ASC`)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getDocument(ctx context.Context, q queryRower, id uuid.UUID, lock bool) (Document, error) {
	query := documentSelect + ` WHERE d.id=$1`
	if lock {
		query += ` FOR UPDATE OF d`
	}
	doc, err := scanDocument(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	return doc, err
}

func queryLines(ctx context.Context, q queryRower, documentID uuid.UUID, orderBy string) ([]DocumentLine, error) {
	rows, err := q.Query(ctx, `SELECT l.id, l.document_id, l.product_id, COALESCE(p.name, ''), COALESCE(p.unit, ''), l.price, l.old_price, l.created_at
FROM price_document_lines l
LEFT JOIN products p ON p.id = l.product_id
WHERE l.document_id=$1
ORDER BY `+orderBy, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []DocumentLine{}
	for rows.Next() {
		var line DocumentLine
		var old decimal.NullDecimal
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.ProductID, &line.ProductName, &line.Unit, &line.Price, &old, &line.CreatedAt); err != nil {
			return nil, err
		}
		line.OldPrice = nullableDecimal(old)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var markup, rounding decimal.NullDecimal
	err := row.Scan(&doc.ID, &doc.Status, &doc.TargetPriceTypeID, &doc.TargetPriceTypeName, &doc.InputMethod,
		&doc.SourcePriceTypeID, &doc.SourcePriceTypeName, &markup, &doc.RoundingMethod, &rounding,
		&doc.Date, &doc.Comment, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	doc.MarkupPercentage = nullableDecimal(markup)
	doc.RoundingValue = nullableDecimal(rounding)
	return doc, nil
}

func nullableDecimal(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	value := v.Decimal
	return &value
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func (r *txRepository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	var product Product
	var raw []byte
	err := r.tx.QueryRow(ctx, `SELECT id, name, unit, prices FROM products WHERE id=$1`, id).
		Scan(&product.ID, &product.Name, &product.Unit, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, err
	}
	product.Prices = PriceMap{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &product.Prices); err != nil {
			return Product{}, fmt.Errorf("pricing: decode prices of %s: %w", id, err)
		}
	}
	return product, nil
}

func (r *txRepository) GetPriceType(ctx context.Context, id uuid.UUID) (PriceType, error) {
	var pt PriceType
	err := r.tx.QueryRow(ctx, `SELECT `+priceTypeColumns+` FROM price_types WHERE id=$1`, id).
		Scan(&pt.ID, &pt.Name, &pt.Slug, &pt.Currency, &pt.Deleted, &pt.CreatedAt, &pt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PriceType{}, ErrPriceTypeNotFound
	}
	return pt, err
}

func (r *txRepository) InsertPriceType(ctx context.Context, pt PriceType) (PriceType, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO price_types (name, slug, currency, created_at, updated_at)
VALUES ($1,$2,$3,NOW(),NOW()) RETURNING `+priceTypeColumns, pt.Name, pt.Slug, pt.Currency).
		Scan(&pt.ID, &pt.Name, &pt.Slug, &pt.Currency, &pt.Deleted, &pt.CreatedAt, &pt.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return PriceType{}, ErrDuplicateSlug
	}
	return pt, err
}

func (r *txRepository) UpdatePriceType(ctx context.Context, pt PriceType) (PriceType, error) {
	err := r.tx.QueryRow(ctx, `UPDATE price_types SET name=$2, slug=$3, currency=$4, updated_at=NOW()
WHERE id=$1 RETURNING `+priceTypeColumns, pt.ID, pt.Name, pt.Slug, pt.Currency).
		Scan(&pt.ID, &pt.Name, &pt.Slug, &pt.Currency, &pt.Deleted, &pt.CreatedAt, &pt.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return PriceType{}, ErrDuplicateSlug
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return PriceType{}, ErrPriceTypeNotFound
	}
	return pt, err
}

func (r *txRepository) SoftDeletePriceType(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `UPDATE price_types SET deleted=TRUE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPriceTypeNotFound
	}
	return nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO price_ledger (product_id, price_type_id, old_price, new_price, effective_date, reason, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6, ''),$7,NOW()) RETURNING id, created_at`,
		entry.ProductID, entry.PriceTypeID, entry.OldPrice, entry.NewPrice, entry.EffectiveDate, entry.Reason, entry.CreatedBy).
		Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}

// SetProductPrice rewrites a single slug of the price map so concurrent writes
// to other tiers of the same product are preserved.
func (r *txRepository) SetProductPrice(ctx context.Context, productID uuid.UUID, slug string, price decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products
SET prices = jsonb_set(COALESCE(prices, '{}'::jsonb), ARRAY[$2::text], to_jsonb($3::numeric), true), updated_at=NOW()
WHERE id=$1`, productID, slug, price)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	var id uuid.UUID
	err := r.tx.QueryRow(ctx, `INSERT INTO price_documents (date, status, target_price_type_id, input_method, source_price_type_id, markup_percentage, comment, rounding_method, rounding_value, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW()) RETURNING id`,
		doc.Date, string(doc.Status), doc.TargetPriceTypeID, string(doc.InputMethod), doc.SourcePriceTypeID,
		nullDecimal(doc.MarkupPercentage), doc.Comment, string(doc.RoundingMethod), nullDecimal(doc.RoundingValue)).Scan(&id)
	if err != nil {
		return Document{}, err
	}
	return getDocument(ctx, r.tx, id, false)
}

func (r *txRepository) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	return getDocument(ctx, r.tx, id, false)
}

// LockDocument row-locks the document so status checks hold until commit.
func (r *txRepository) LockDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	return getDocument(ctx, r.tx, id, true)
}

func (r *txRepository) UpdateDocument(ctx context.Context, doc Document) (Document, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE price_documents
SET date=$2, target_price_type_id=$3, input_method=$4, source_price_type_id=$5, markup_percentage=$6,
    comment=$7, rounding_method=$8, rounding_value=$9, updated_at=NOW()
WHERE id=$1`,
		doc.ID, doc.Date, doc.TargetPriceTypeID, string(doc.InputMethod), doc.SourcePriceTypeID,
		nullDecimal(doc.MarkupPercentage), doc.Comment, string(doc.RoundingMethod), nullDecimal(doc.RoundingValue))
	if err != nil {
		return Document{}, err
	}
	if tag.RowsAffected() == 0 {
		return Document{}, ErrDocumentNotFound
	}
	return getDocument(ctx, r.tx, doc.ID, false)
}

func (r *txRepository) SetDocumentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE price_documents SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *txRepository) ReplaceDocumentLines(ctx context.Context, documentID uuid.UUID, lines []DocumentLine) ([]DocumentLine, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM price_document_lines WHERE document_id=$1`, documentID); err != nil {
		return nil, err
	}
	stored := make([]DocumentLine, 0, len(lines))
	for i, line := range lines {
		line.DocumentID = documentID
		if err := r.tx.QueryRow(ctx, `INSERT INTO price_document_lines (document_id, product_id, price, old_price, position, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id, created_at`,
			documentID, line.ProductID, line.Price, nullDecimal(line.OldPrice), i).Scan(&line.ID, &line.CreatedAt); err != nil {
			return nil, err
		}
		stored = append(stored, line)
	}
	return stored, nil
}

// DocumentLines returns lines in the order they were set.
func (r *txRepository) DocumentLines(ctx context.Context, documentID uuid.UUID) ([]DocumentLine, error) {
	return queryLines(ctx, r.tx, documentID, `l.position ASC, l.id ASC`)
}
