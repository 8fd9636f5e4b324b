package pricing

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/lotledger/internal/platform/httpx"
)

// Handler exposes pricing endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers pricing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/prices", h.handleSetPrice)
	r.Get("/products/{productID}/history", h.handleHistory)

	r.Route("/price-types", func(r chi.Router) {
		r.Get("/", h.handleListPriceTypes)
		r.Post("/", h.handleCreatePriceType)
		r.Put("/{id}", h.handleUpdatePriceType)
		r.Delete("/{id}", h.handleDeletePriceType)
	})

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.handleListDocuments)
		r.Post("/", h.handleCreateDocument)
		r.Get("/{id}", h.handleGetDocument)
		r.Put("/{id}", h.handleUpdateDocument)
		r.Put("/{id}/lines", h.handleSetLines)
		r.Post("/{id}/apply", h.handleApply)
		r.Post("/{id}/copy", h.handleCopy)
	})
}

type setPriceRequest struct {
	ProductID     uuid.UUID       `json:"product_id" validate:"required"`
	NewPrice      decimal.Decimal `json:"new_price"`
	PriceTypeID   *uuid.UUID      `json:"price_type_id"`
	ActorID       *uuid.UUID      `json:"actor_id"`
	Reason        string          `json:"reason" validate:"max=255"`
	EffectiveDate *time.Time      `json:"effective_date"`
}

type priceTypeRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Slug     string `json:"slug" validate:"required,max=100"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

type documentRequest struct {
	Date              *time.Time       `json:"date"`
	TargetPriceTypeID uuid.UUID        `json:"target_price_type_id" validate:"required"`
	InputMethod       InputMethod      `json:"input_method"`
	SourcePriceTypeID *uuid.UUID       `json:"source_price_type_id"`
	MarkupPercentage  *decimal.Decimal `json:"markup_percentage"`
	Comment           string           `json:"comment" validate:"max=1000"`
	RoundingMethod    RoundingMethod   `json:"rounding_method"`
	RoundingValue     *decimal.Decimal `json:"rounding_value"`
}

func (r documentRequest) input() DocumentInput {
	return DocumentInput{
		Date:              r.Date,
		TargetPriceTypeID: r.TargetPriceTypeID,
		InputMethod:       r.InputMethod,
		SourcePriceTypeID: r.SourcePriceTypeID,
		MarkupPercentage:  r.MarkupPercentage,
		Comment:           r.Comment,
		RoundingMethod:    r.RoundingMethod,
		RoundingValue:     r.RoundingValue,
	}
}

type lineRequest struct {
	ProductID uuid.UUID        `json:"product_id" validate:"required"`
	Price     *decimal.Decimal `json:"price"`
}

type linesRequest struct {
	Lines []lineRequest `json:"lines" validate:"dive"`
}

type applyRequest struct {
	ActorID *uuid.UUID `json:"actor_id"`
}

func (h *Handler) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "set price", err)
		return
	}
	change, err := h.service.SetPrice(r.Context(), SetPriceInput{
		ProductID:     req.ProductID,
		NewPrice:      req.NewPrice,
		PriceTypeID:   req.PriceTypeID,
		ActorID:       req.ActorID,
		Reason:        req.Reason,
		EffectiveDate: req.EffectiveDate,
	})
	if err != nil {
		h.fail(w, "set price", err)
		return
	}
	h.logger.Info("price set",
		slog.String("product_id", change.ProductID.String()),
		slog.String("slug", change.Slug),
		slog.String("new_price", change.NewPrice.String()),
		slog.Bool("applied", change.Applied))
	httpx.JSON(w, http.StatusCreated, change)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.URLParamUUID(r, "productID")
	if err != nil {
		h.fail(w, "price history", err)
		return
	}
	entries, err := h.service.History(r.Context(), productID)
	if err != nil {
		h.fail(w, "price history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleListPriceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.ListPriceTypes(r.Context(), r.URL.Query().Get("all") == "1")
	if err != nil {
		h.fail(w, "list price types", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"price_types": types})
}

func (h *Handler) handleCreatePriceType(w http.ResponseWriter, r *http.Request) {
	var req priceTypeRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "create price type", err)
		return
	}
	pt, err := h.service.CreatePriceType(r.Context(), PriceTypeInput(req))
	if err != nil {
		h.fail(w, "create price type", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pt)
}

func (h *Handler) handleUpdatePriceType(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.fail(w, "update price type", err)
		return
	}
	var req priceTypeRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "update price type", err)
		return
	}
	pt, err := h.service.UpdatePriceType(r.Context(), id, PriceTypeInput(req))
	if err != nil {
		h.fail(w, "update price type", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pt)
}

func (h *Handler) handleDeletePriceType(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.fail(w, "delete price type", err)
		return
	}
	if err := h.service.DeletePriceType(r.Context(), id); err != nil {
		h.fail(w, "delete price type", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	list, err := h.service.ListDocuments(r.Context(), ListFilter{Page: page, PerPage: perPage, Status: Status(q.Get("status"))})
	if err != nil {
		h.fail(w, "list documents", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "create document", err)
		return
	}
	doc, err := h.service.CreateDocument(r.Context(), req.input())
	if err != nil {
		h.fail(w, "create document", err)
		return
	}
	h.logger.Info("price document created", slog.String("document_id", doc.ID.String()), slog.String("input_method", string(doc.InputMethod)))
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.fail(w, "get document", err)
		return
	}
	doc, lines, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.fail(w, "get document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"document": doc, "lines": lines})
}

func (h *Handler) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.fail(w, "update document", err)
		return
	}
	var req documentRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "update document", err)
		return
	}
	doc, err := h.service.UpdateDocument(r.Context(), id, req.input())
	if err != nil {
		h.fail(w, "update document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleSetLines(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.fail(w, "set lines", err)
		return
	}
	var req linesRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "set lines", err)
		return
	}
	inputs := make([]LineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		inputs = append(inputs, LineInput(line))
	}
	lines, err := h.service.SetLines(r.Context(), id, inputs)
	if err != nil {
		h.fail(w, "set lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.fail(w, "apply document", err)
		return
	}
	var req applyRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, &req); err != nil {
			h.fail(w, "apply document", err)
			return
		}
	}
	doc, err := h.service.Apply(r.Context(), id, req.ActorID)
	if err != nil {
		h.fail(w, "apply document", err)
		return
	}
	h.logger.Info("price document applied", slog.String("document_id", doc.ID.String()))
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		h.fail(w, "copy document", err)
		return
	}
	doc, err := h.service.Copy(r.Context(), id)
	if err != nil {
		h.fail(w, "copy document", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.IsClientError(err) {
		h.logger.Warn(op+" rejected", slog.Any("error", err))
	} else {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
