package pricing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/lotledger/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	products   map[uuid.UUID]Product
	priceTypes map[uuid.UUID]PriceType
	ledger     []LedgerEntry
	docs       map[uuid.UUID]Document
	lines      map[uuid.UUID][]DocumentLine
	clock      time.Time
	failOn     string
	historyHit int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:   map[uuid.UUID]Product{},
		priceTypes: map[uuid.UUID]PriceType{},
		docs:       map[uuid.UUID]Document{},
		lines:      map[uuid.UUID][]DocumentLine{},
		clock:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (r *memoryRepo) addProduct(name string, prices map[string]string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := Product{ID: uuid.New(), Name: name, Unit: "pcs", Prices: PriceMap{}}
	for slug, v := range prices {
		p.Prices[slug] = decimal.RequireFromString(v)
	}
	r.products[p.ID] = p
	return p.ID
}

func (r *memoryRepo) addPriceType(name, slug string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	pt := PriceType{ID: uuid.New(), Name: name, Slug: slug, Currency: "UAH", CreatedAt: r.clock, UpdatedAt: r.clock}
	r.priceTypes[pt.ID] = pt
	return pt.ID
}

func (r *memoryRepo) price(productID uuid.UUID, slug string) (decimal.Decimal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.products[productID].Prices[slug]
	return v, ok
}

func (r *memoryRepo) ledgerFor(productID uuid.UUID) []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []LedgerEntry{}
	for _, e := range r.ledger {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	return out
}

func (r *memoryRepo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

// WithTx serialises callers and restores the previous state when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	products := make(map[uuid.UUID]Product, len(r.products))
	for id, p := range r.products {
		prices := make(PriceMap, len(p.Prices))
		for k, v := range p.Prices {
			prices[k] = v
		}
		p.Prices = prices
		products[id] = p
	}
	priceTypes := make(map[uuid.UUID]PriceType, len(r.priceTypes))
	for id, pt := range r.priceTypes {
		priceTypes[id] = pt
	}
	docs := make(map[uuid.UUID]Document, len(r.docs))
	for id, doc := range r.docs {
		docs[id] = doc
	}
	lines := make(map[uuid.UUID][]DocumentLine, len(r.lines))
	for id, set := range r.lines {
		lines[id] = append([]DocumentLine(nil), set...)
	}
	ledger := append([]LedgerEntry(nil), r.ledger...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products = products
		r.priceTypes = priceTypes
		r.docs = docs
		r.lines = lines
		r.ledger = ledger
		return err
	}
	return nil
}

func (r *memoryRepo) History(ctx context.Context, productID uuid.UUID) ([]LedgerEntry, error) {
	r.mu.Lock()
	r.historyHit++
	r.mu.Unlock()
	entries := r.ledgerFor(productID)
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EffectiveDate.Equal(entries[j].EffectiveDate) {
			return entries[i].EffectiveDate.After(entries[j].EffectiveDate)
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

func (r *memoryRepo) ListPriceTypes(ctx context.Context, includeDeleted bool) ([]PriceType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []PriceType{}
	for _, pt := range r.priceTypes {
		if includeDeleted || !pt.Deleted {
			out = append(out, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepo) ListDocuments(ctx context.Context, status Status, limit, offset int) ([]Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := []Document{}
	for _, doc := range r.docs {
		if status == "" || doc.Status == status {
			all = append(all, r.withNames(doc))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return []Document{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memoryRepo) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getDocument(id)
}

func (r *memoryRepo) ListDocumentLines(ctx context.Context, documentID uuid.UUID) ([]DocumentLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := r.joinedLines(documentID)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductName < lines[j].ProductName })
	return lines, nil
}

func (r *memoryRepo) getDocument(id uuid.UUID) (Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	return r.withNames(doc), nil
}

func (r *memoryRepo) withNames(doc Document) Document {
	doc.TargetPriceTypeName = r.priceTypes[doc.TargetPriceTypeID].Name
	if doc.SourcePriceTypeID != nil {
		doc.SourcePriceTypeName = r.priceTypes[*doc.SourcePriceTypeID].Name
	}
	return doc
}

func (r *memoryRepo) joinedLines(documentID uuid.UUID) []DocumentLine {
	out := []DocumentLine{}
	for _, line := range r.lines[documentID] {
		p := r.products[line.ProductID]
		line.ProductName = p.Name
		line.Unit = p.Unit
		out = append(out, line)
	}
	return out
}

func (tx *memoryTx) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	p, ok := tx.repo.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) GetPriceType(ctx context.Context, id uuid.UUID) (PriceType, error) {
	pt, ok := tx.repo.priceTypes[id]
	if !ok {
		return PriceType{}, ErrPriceTypeNotFound
	}
	return pt, nil
}

func (tx *memoryTx) slugTaken(slug string, except uuid.UUID) bool {
	for id, pt := range tx.repo.priceTypes {
		if id != except && pt.Slug == slug {
			return true
		}
	}
	return false
}

func (tx *memoryTx) InsertPriceType(ctx context.Context, pt PriceType) (PriceType, error) {
	if tx.slugTaken(pt.Slug, uuid.Nil) {
		return PriceType{}, ErrDuplicateSlug
	}
	pt.ID = uuid.New()
	pt.CreatedAt = tx.repo.tick()
	pt.UpdatedAt = pt.CreatedAt
	tx.repo.priceTypes[pt.ID] = pt
	return pt, nil
}

func (tx *memoryTx) UpdatePriceType(ctx context.Context, pt PriceType) (PriceType, error) {
	if _, ok := tx.repo.priceTypes[pt.ID]; !ok {
		return PriceType{}, ErrPriceTypeNotFound
	}
	if tx.slugTaken(pt.Slug, pt.ID) {
		return PriceType{}, ErrDuplicateSlug
	}
	pt.UpdatedAt = tx.repo.tick()
	tx.repo.priceTypes[pt.ID] = pt
	return pt, nil
}

func (tx *memoryTx) SoftDeletePriceType(ctx context.Context, id uuid.UUID) error {
	pt, ok := tx.repo.priceTypes[id]
	if !ok {
		return ErrPriceTypeNotFound
	}
	pt.Deleted = true
	tx.repo.priceTypes[id] = pt
	return nil
}

func (tx *memoryTx) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	if tx.repo.failOn == "ledger" && len(tx.repo.ledger) > 0 {
		return LedgerEntry{}, errors.New("disk full")
	}
	entry.ID = uuid.New()
	entry.CreatedAt = tx.repo.tick()
	tx.repo.ledger = append(tx.repo.ledger, entry)
	return entry, nil
}

func (tx *memoryTx) SetProductPrice(ctx context.Context, productID uuid.UUID, slug string, price decimal.Decimal) error {
	p, ok := tx.repo.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.Prices[slug] = price
	tx.repo.products[productID] = p
	return nil
}

func (tx *memoryTx) InsertDocument(ctx context.Context, doc Document) (Document, error) {
	doc.ID = uuid.New()
	doc.CreatedAt = tx.repo.tick()
	doc.UpdatedAt = doc.CreatedAt
	tx.repo.docs[doc.ID] = doc
	return tx.repo.withNames(doc), nil
}

func (tx *memoryTx) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	return tx.repo.getDocument(id)
}

func (tx *memoryTx) LockDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	return tx.repo.getDocument(id)
}

func (tx *memoryTx) UpdateDocument(ctx context.Context, doc Document) (Document, error) {
	if _, ok := tx.repo.docs[doc.ID]; !ok {
		return Document{}, ErrDocumentNotFound
	}
	doc.UpdatedAt = tx.repo.tick()
	tx.repo.docs[doc.ID] = doc
	return tx.repo.withNames(doc), nil
}

func (tx *memoryTx) SetDocumentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	doc, ok := tx.repo.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Status = status
	tx.repo.docs[id] = doc
	return nil
}

func (tx *memoryTx) ReplaceDocumentLines(ctx context.Context, documentID uuid.UUID, lines []DocumentLine) ([]DocumentLine, error) {
	stored := make([]DocumentLine, 0, len(lines))
	for _, line := range lines {
		line.ID = uuid.New()
		line.DocumentID = documentID
		line.CreatedAt = tx.repo.tick()
		stored = append(stored, line)
	}
	tx.repo.lines[documentID] = stored
	return append([]DocumentLine(nil), stored...), nil
}

func (tx *memoryTx) DocumentLines(ctx context.Context, documentID uuid.UUID) ([]DocumentLine, error) {
	return tx.repo.joinedLines(documentID), nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingEvents struct {
	mu     sync.Mutex
	events []DocumentAppliedEvent
}

func (e *recordingEvents) PublishDocumentApplied(ctx context.Context, evt DocumentAppliedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService(repo *memoryRepo, audit AuditPort, cache *Cache, events EventPublisher) *Service {
	svc := NewService(repo, audit, cache, events)
	svc.clock = func() time.Time { return fixedNow }
	return svc
}
