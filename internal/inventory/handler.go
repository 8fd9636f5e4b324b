package inventory

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/lotledger/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/lots", h.handleAddLot)
	r.Get("/products/{productID}/lots", h.handleListLots)
	r.Post("/allocations", h.handleAllocate)
	r.Post("/sales", h.handleRecordSale)
	r.Get("/orders/{orderID}/lines", h.handleOrderLines)
	r.Get("/valuation", h.handleValuation)
}

type addLotRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	ActorID   uuid.UUID       `json:"actor_id"`
}

type allocateRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int64     `json:"quantity" validate:"gt=0"`
}

type saleLineRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	SellPrice decimal.Decimal `json:"sell_price"`
}

type saleRequest struct {
	OrderID uuid.UUID         `json:"order_id" validate:"required"`
	ActorID uuid.UUID         `json:"actor_id"`
	Lines   []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type insufficientStockBody struct {
	httpx.ProblemDetail
	ProductID uuid.UUID `json:"product_id"`
	Requested int64     `json:"requested"`
	Shortfall int64     `json:"shortfall"`
}

func (h *Handler) handleAddLot(w http.ResponseWriter, r *http.Request) {
	var req addLotRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "add lot", err)
		return
	}
	lot, err := h.service.AddLot(r.Context(), AddLotInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UnitCost:  req.UnitCost,
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.fail(w, "add lot", err)
		return
	}
	h.logger.Info("lot added", slog.String("lot_id", lot.ID.String()), slog.String("product_id", lot.ProductID.String()), slog.Int64("quantity", lot.QuantityTotal))
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) handleListLots(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.URLParamUUID(r, "productID")
	if err != nil {
		h.fail(w, "list lots", err)
		return
	}
	filter := LotFilter{IncludeDepleted: r.URL.Query().Get("all") == "1"}
	lots, err := h.service.ListLots(r.Context(), productID, filter)
	if err != nil {
		h.fail(w, "list lots", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "allocate", err)
		return
	}
	deductions, err := h.service.Allocate(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		h.fail(w, "allocate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deductions": deductions})
}

func (h *Handler) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := httpx.Bind(r, &req); err != nil {
		h.fail(w, "record sale", err)
		return
	}
	input := SaleInput{OrderID: req.OrderID, ActorID: req.ActorID, Lines: make([]SaleLineInput, 0, len(req.Lines))}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, SaleLineInput{ProductID: line.ProductID, Quantity: line.Quantity, SellPrice: line.SellPrice})
	}
	lines, err := h.service.RecordSale(r.Context(), input)
	if err != nil {
		h.fail(w, "record sale", err)
		return
	}
	h.logger.Info("sale recorded", slog.String("order_id", req.OrderID.String()), slog.Int("lines", len(lines)))
	httpx.JSON(w, http.StatusCreated, map[string]any{"lines": lines})
}

func (h *Handler) handleOrderLines(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.URLParamUUID(r, "orderID")
	if err != nil {
		h.fail(w, "order lines", err)
		return
	}
	lines, err := h.service.GetOrderLines(r.Context(), orderID)
	if err != nil {
		h.fail(w, "order lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Valuation(r.Context())
	if err != nil {
		h.fail(w, "valuation", err)
		return
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Value)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": rows, "total": total})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var shortage *InsufficientStockError
	if errors.As(err, &shortage) {
		h.logger.Warn(op+" rejected", slog.String("product_id", shortage.ProductID.String()), slog.Int64("shortfall", shortage.Shortfall))
		httpx.JSON(w, http.StatusConflict, insufficientStockBody{
			ProblemDetail: httpx.ProblemDetail{Title: "Insufficient Stock", Status: http.StatusConflict, Detail: shortage.Error()},
			ProductID:     shortage.ProductID,
			Requested:     shortage.Requested,
			Shortfall:     shortage.Shortfall,
		})
		return
	}
	if httpx.IsClientError(err) {
		h.logger.Warn(op+" rejected", slog.Any("error", err))
	} else {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
