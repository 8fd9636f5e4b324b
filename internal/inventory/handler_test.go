package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, repo *memoryRepo) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, NewService(repo, nil, nil))
	r := chi.NewRouter()
	r.Route("/inventory", handler.MountRoutes)
	return r
}

func TestHandlerAddLotAndAllocate(t *testing.T) {
	product := uuid.New()
	router := newTestRouter(t, newMemoryRepo(product))

	body := `{"product_id":"` + product.String() + `","quantity":5,"unit_cost":"10.50"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/lots", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code)

	var lot Lot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &lot))
	require.Equal(t, int64(5), lot.QuantityRemaining)
	require.Equal(t, "10.5", lot.UnitCost.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/allocations", strings.NewReader(`{"product_id":"`+product.String()+`","quantity":8}`)))
	require.Equal(t, http.StatusConflict, rr.Code)

	var problem insufficientStockBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, int64(3), problem.Shortfall)
	require.Equal(t, product, problem.ProductID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/products/"+product.String()+"/lots", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"quantity_remaining":5`)
}

func TestHandlerRecordSale(t *testing.T) {
	product := uuid.New()
	repo := newMemoryRepo(product)
	router := newTestRouter(t, repo)
	seedLots(t, NewService(repo, nil, nil), product, lotSpec{4, "2"})
	orderID := uuid.New()

	body := `{"order_id":"` + orderID.String() + `","lines":[{"product_id":"` + product.String() + `","quantity":3,"sell_price":"5"}]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/sales", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/orders/"+orderID.String()+"/lines", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Lines []SaleLine `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload.Lines, 1)
	require.Len(t, payload.Lines[0].Allocations, 1)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/valuation", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":"2"`)
}

func TestHandlerValidationErrors(t *testing.T) {
	router := newTestRouter(t, newMemoryRepo())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/sales", strings.NewReader(`{"order_id":"`+uuid.NewString()+`","lines":[]}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/inventory/lots", strings.NewReader(`{"product_id":"`+uuid.NewString()+`","quantity":1,"unit_cost":"1"}`)))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/inventory/products/nope/lots", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
