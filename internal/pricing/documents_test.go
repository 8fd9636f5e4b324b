package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/lotledger/internal/shared"
)

type docFixture struct {
	repo     *memoryRepo
	svc      *Service
	audit    *recordingAudit
	events   *recordingEvents
	standard uuid.UUID
	p1       uuid.UUID
	p2       uuid.UUID
}

func newDocFixture(t *testing.T) docFixture {
	t.Helper()
	repo := newMemoryRepo()
	f := docFixture{
		repo:     repo,
		audit:    &recordingAudit{},
		events:   &recordingEvents{},
		standard: repo.addPriceType("Standard", "standard"),
		p1:       repo.addProduct("Alpha", map[string]string{"standard": "100", "wholesale": "80"}),
		p2:       repo.addProduct("Beta", map[string]string{"standard": "180"}),
	}
	f.svc = newTestService(repo, f.audit, nil, f.events)
	return f
}

func (f docFixture) draftWithLines(t *testing.T, lines ...LineInput) Document {
	t.Helper()
	ctx := context.Background()
	doc, err := f.svc.CreateDocument(ctx, DocumentInput{TargetPriceTypeID: f.standard, Comment: "spring"})
	require.NoError(t, err)
	_, err = f.svc.SetLines(ctx, doc.ID, lines)
	require.NoError(t, err)
	return doc
}

func TestCreateDocumentDefaults(t *testing.T) {
	f := newDocFixture(t)
	doc, err := f.svc.CreateDocument(context.Background(), DocumentInput{TargetPriceTypeID: f.standard, Comment: "  note "})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, InputManual, doc.InputMethod)
	require.Equal(t, RoundNone, doc.RoundingMethod)
	require.Equal(t, fixedNow, doc.Date)
	require.Equal(t, "note", doc.Comment)
	require.Equal(t, "Standard", doc.TargetPriceTypeName)
}

func TestCreateDocumentValidation(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	wholesale := f.repo.addPriceType("Wholesale", "wholesale")

	_, err := f.svc.CreateDocument(ctx, DocumentInput{})
	require.ErrorIs(t, err, ErrTargetRequired)

	_, err = f.svc.CreateDocument(ctx, DocumentInput{TargetPriceTypeID: f.standard, InputMethod: "GUESS"})
	require.ErrorIs(t, err, ErrInvalidInputMethod)

	_, err = f.svc.CreateDocument(ctx, DocumentInput{TargetPriceTypeID: f.standard, InputMethod: InputFormula, SourcePriceTypeID: &wholesale})
	require.ErrorIs(t, err, ErrFormulaIncomplete)

	_, err = f.svc.CreateDocument(ctx, DocumentInput{TargetPriceTypeID: f.standard, RoundingMethod: "HALF"})
	require.ErrorIs(t, err, ErrInvalidRounding)

	_, err = f.svc.CreateDocument(ctx, DocumentInput{TargetPriceTypeID: f.standard, RoundingMethod: RoundCeil, RoundingValue: dp("0")})
	require.ErrorIs(t, err, ErrInvalidRounding)

	_, err = f.svc.CreateDocument(ctx, DocumentInput{TargetPriceTypeID: uuid.New()})
	require.ErrorIs(t, err, ErrPriceTypeNotFound)
}

func TestApplyWritesLedgerAndLivePrices(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	actor := uuid.New()
	doc := f.draftWithLines(t,
		LineInput{ProductID: f.p1, Price: dp("150")},
		LineInput{ProductID: f.p2, Price: dp("200")},
	)

	applied, err := f.svc.Apply(ctx, doc.ID, &actor)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, applied.Status)

	p1, _ := f.repo.price(f.p1, "standard")
	require.True(t, p1.Equal(d("150")))
	p2, _ := f.repo.price(f.p2, "standard")
	require.True(t, p2.Equal(d("200")))
	wholesale, _ := f.repo.price(f.p1, "wholesale")
	require.True(t, wholesale.Equal(d("80")))

	entries := f.repo.ledgerFor(f.p1)
	require.Len(t, entries, 1)
	require.True(t, entries[0].OldPrice.Equal(d("100")))
	require.True(t, entries[0].NewPrice.Equal(d("150")))
	require.Equal(t, f.standard, *entries[0].PriceTypeID)
	require.Equal(t, ReasonDocumentApplied, entries[0].Reason)
	require.Equal(t, actor, *entries[0].CreatedBy)
	require.Equal(t, doc.Date, entries[0].EffectiveDate)

	stored, _, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, stored.Status)

	require.Contains(t, f.audit.actions(), "pricing:document_applied")
	require.Len(t, f.events.events, 1)
	require.Equal(t, "standard", f.events.events[0].Slug)
	require.Equal(t, []uuid.UUID{f.p1, f.p2}, f.events.events[0].ProductIDs)
}

func TestApplyTwiceIsRejected(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.draftWithLines(t,
		LineInput{ProductID: f.p1, Price: dp("150")},
		LineInput{ProductID: f.p2, Price: dp("200")},
	)

	_, err := f.svc.Apply(ctx, doc.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Apply(ctx, doc.ID, nil)
	require.ErrorIs(t, err, ErrAlreadyApplied)
	require.ErrorIs(t, err, shared.ErrConflict)

	require.Len(t, f.repo.ledgerFor(f.p1), 1)
	require.Len(t, f.repo.ledgerFor(f.p2), 1)
	require.Len(t, f.events.events, 1)
}

func TestApplyRollsBackWhenProductMissing(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.draftWithLines(t,
		LineInput{ProductID: f.p1, Price: dp("150")},
		LineInput{ProductID: f.p2, Price: dp("200")},
	)
	delete(f.repo.products, f.p2)

	_, err := f.svc.Apply(ctx, doc.ID, nil)
	require.ErrorIs(t, err, ErrProductNotFound)

	p1, _ := f.repo.price(f.p1, "standard")
	require.True(t, p1.Equal(d("100")))
	require.Empty(t, f.repo.ledgerFor(f.p1))
	stored, _, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
	require.Empty(t, f.events.events)
}

func TestApplyRollsBackOnPersistenceFailure(t *testing.T) {
	f := newDocFixture(t)
	doc := f.draftWithLines(t,
		LineInput{ProductID: f.p1, Price: dp("150")},
		LineInput{ProductID: f.p2, Price: dp("200")},
	)
	f.repo.failOn = "ledger"

	_, err := f.svc.Apply(context.Background(), doc.ID, nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, shared.ErrNotFound))

	p1, _ := f.repo.price(f.p1, "standard")
	require.True(t, p1.Equal(d("100")))
	require.Empty(t, f.repo.ledger)
}

func TestApplyUnknownDocument(t *testing.T) {
	f := newDocFixture(t)
	_, err := f.svc.Apply(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestApplyEmptyDocumentPublishesNothing(t *testing.T) {
	f := newDocFixture(t)
	doc := f.draftWithLines(t)
	applied, err := f.svc.Apply(context.Background(), doc.ID, nil)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, applied.Status)
	require.Empty(t, f.events.events)
}

func TestAppliedDocumentIsReadOnly(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.draftWithLines(t, LineInput{ProductID: f.p1, Price: dp("150")})
	_, err := f.svc.Apply(ctx, doc.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.SetLines(ctx, doc.ID, []LineInput{{ProductID: f.p2, Price: dp("1")}})
	require.ErrorIs(t, err, ErrDocumentNotDraft)
	_, err = f.svc.UpdateDocument(ctx, doc.ID, DocumentInput{TargetPriceTypeID: f.standard})
	require.ErrorIs(t, err, ErrDocumentNotDraft)
}

func TestSetLinesReplacesWholeSet(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.draftWithLines(t,
		LineInput{ProductID: f.p1, Price: dp("150")},
		LineInput{ProductID: f.p2, Price: dp("200")},
	)

	_, err := f.svc.SetLines(ctx, doc.ID, []LineInput{{ProductID: f.p2, Price: dp("210.456")}})
	require.NoError(t, err)

	_, lines, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, f.p2, lines[0].ProductID)
	require.Equal(t, "Beta", lines[0].ProductName)
	require.True(t, lines[0].Price.Equal(d("210.46")))
	require.True(t, lines[0].OldPrice.Equal(d("180")))
}

func TestSetLinesOrdersByProductName(t *testing.T) {
	f := newDocFixture(t)
	doc := f.draftWithLines(t,
		LineInput{ProductID: f.p2, Price: dp("1")},
		LineInput{ProductID: f.p1, Price: dp("2")},
	)
	_, lines, err := f.svc.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"Alpha", "Beta"}, []string{lines[0].ProductName, lines[1].ProductName})
}

func TestSetLinesRejections(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.draftWithLines(t, LineInput{ProductID: f.p1, Price: dp("150")})

	_, err := f.svc.SetLines(ctx, doc.ID, []LineInput{{ProductID: f.p1, Price: dp("1")}, {ProductID: f.p1, Price: dp("2")}})
	require.ErrorIs(t, err, ErrDuplicateLine)

	_, err = f.svc.SetLines(ctx, doc.ID, []LineInput{{ProductID: f.p1, Price: dp("-1")}})
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = f.svc.SetLines(ctx, doc.ID, []LineInput{{ProductID: f.p1}})
	require.ErrorIs(t, err, ErrPriceRequired)

	_, err = f.svc.SetLines(ctx, doc.ID, []LineInput{{ProductID: f.p1, Price: dp("5")}, {ProductID: uuid.New(), Price: dp("5")}})
	require.ErrorIs(t, err, ErrProductNotFound)

	_, lines, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, lines[0].Price.Equal(d("150")))
}

func TestSetLinesFormulaComputesPrices(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	wholesale := f.repo.addPriceType("Wholesale", "wholesale")
	doc, err := f.svc.CreateDocument(ctx, DocumentInput{
		TargetPriceTypeID: f.standard,
		InputMethod:       InputFormula,
		SourcePriceTypeID: &wholesale,
		MarkupPercentage:  dp("25"),
		RoundingMethod:    RoundCeil,
		RoundingValue:     dp("5"),
	})
	require.NoError(t, err)
	require.Equal(t, "Wholesale", doc.SourcePriceTypeName)

	lines, err := f.svc.SetLines(ctx, doc.ID, []LineInput{
		{ProductID: f.p1},
		{ProductID: f.p2, Price: dp("199.99")},
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	// 80 * 1.25 = 100, already a multiple of 5.
	require.True(t, lines[0].Price.Equal(d("100")))
	require.True(t, lines[1].Price.Equal(d("199.99")))
	require.True(t, lines[0].OldPrice.Equal(d("100")))

	_, err = f.svc.UpdateDocument(ctx, doc.ID, DocumentInput{
		TargetPriceTypeID: f.standard,
		InputMethod:       InputFormula,
		SourcePriceTypeID: &wholesale,
		MarkupPercentage:  dp("30"),
		RoundingMethod:    RoundCeil,
		RoundingValue:     dp("5"),
	})
	require.NoError(t, err)
	lines, err = f.svc.SetLines(ctx, doc.ID, []LineInput{{ProductID: f.p1}})
	require.NoError(t, err)
	// 80 * 1.3 = 104, ceiled to 105.
	require.True(t, lines[0].Price.Equal(d("105")))
}

func TestUpdateDocumentKeepsDateWhenOmitted(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	dated := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	doc, err := f.svc.CreateDocument(ctx, DocumentInput{TargetPriceTypeID: f.standard, Date: &dated})
	require.NoError(t, err)

	updated, err := f.svc.UpdateDocument(ctx, doc.ID, DocumentInput{TargetPriceTypeID: f.standard, Comment: "revised"})
	require.NoError(t, err)
	require.Equal(t, dated, updated.Date)
	require.Equal(t, "revised", updated.Comment)
}

func TestCopyLeavesSourceUntouched(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.draftWithLines(t,
		LineInput{ProductID: f.p1, Price: dp("150")},
		LineInput{ProductID: f.p2, Price: dp("200")},
	)
	_, err := f.svc.Apply(ctx, doc.ID, nil)
	require.NoError(t, err)

	copied, err := f.svc.Copy(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEqual(t, doc.ID, copied.ID)
	require.Equal(t, StatusDraft, copied.Status)
	require.Equal(t, fixedNow, copied.Date)
	require.Equal(t, "Copy of (2024-03-15) spring", copied.Comment)
	require.Equal(t, doc.TargetPriceTypeID, copied.TargetPriceTypeID)

	src, srcLines, err := f.svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, src.Status)
	require.Len(t, srcLines, 2)

	_, copyLines, err := f.svc.GetDocument(ctx, copied.ID)
	require.NoError(t, err)
	require.Len(t, copyLines, 2)
	for i := range copyLines {
		require.Equal(t, srcLines[i].ProductID, copyLines[i].ProductID)
		require.True(t, srcLines[i].Price.Equal(copyLines[i].Price))
		require.NotEqual(t, srcLines[i].ID, copyLines[i].ID)
	}

	_, err = f.svc.Copy(ctx, uuid.New())
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestCopyCommentWithoutOriginalComment(t *testing.T) {
	src := Document{Date: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)}
	require.Equal(t, "Copy of (2023-12-31)", copyComment(src))
}

func TestListDocumentsFiltersAndPages(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		day := time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)
		_, err := f.svc.CreateDocument(ctx, DocumentInput{TargetPriceTypeID: f.standard, Date: &day})
		require.NoError(t, err)
	}
	applied := f.draftWithLines(t)
	_, err := f.svc.Apply(ctx, applied.ID, nil)
	require.NoError(t, err)

	list, err := f.svc.ListDocuments(ctx, ListFilter{Page: 1, PerPage: 2, Status: StatusDraft})
	require.NoError(t, err)
	require.Equal(t, 3, list.Pagination.Total)
	require.Equal(t, 2, list.Pagination.TotalPages)
	require.Len(t, list.Documents, 2)
	require.Equal(t, 3, list.Documents[0].Date.Day())

	list, err = f.svc.ListDocuments(ctx, ListFilter{Page: 2, PerPage: 2, Status: StatusDraft})
	require.NoError(t, err)
	require.Len(t, list.Documents, 1)

	list, err = f.svc.ListDocuments(ctx, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 4, list.Pagination.Total)
	require.Equal(t, StatusApplied, list.Documents[0].Status)

	_, err = f.svc.ListDocuments(ctx, ListFilter{Status: "VOID"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
