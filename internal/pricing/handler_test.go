package pricing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, svc *Service) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Route("/pricing", NewHandler(logger, svc).MountRoutes)
	return r
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, reader))
	return rr
}

func TestHandlerDocumentWorkflow(t *testing.T) {
	f := newDocFixture(t)
	router := newTestRouter(t, f.svc)

	rr := serve(router, http.MethodPost, "/pricing/documents", `{"target_price_type_id":"`+f.standard.String()+`","comment":"april"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var doc Document
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	require.Equal(t, StatusDraft, doc.Status)

	rr = serve(router, http.MethodPut, "/pricing/documents/"+doc.ID.String()+"/lines",
		`{"lines":[{"product_id":"`+f.p1.String()+`","price":"150"},{"product_id":"`+f.p2.String()+`","price":"200"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, http.MethodPost, "/pricing/documents/"+doc.ID.String()+"/apply", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, http.MethodPost, "/pricing/documents/"+doc.ID.String()+"/apply", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = serve(router, http.MethodGet, "/pricing/products/"+f.p1.String()+"/history", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var history struct {
		Entries []LedgerEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Len(t, history.Entries, 1)
	require.True(t, history.Entries[0].NewPrice.Equal(d("150")))

	rr = serve(router, http.MethodPost, "/pricing/documents/"+doc.ID.String()+"/copy", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	var copied Document
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &copied))
	require.Equal(t, StatusDraft, copied.Status)

	rr = serve(router, http.MethodGet, "/pricing/documents/"+copied.ID.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var detail struct {
		Document Document       `json:"document"`
		Lines    []DocumentLine `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &detail))
	require.Len(t, detail.Lines, 2)

	rr = serve(router, http.MethodGet, "/pricing/documents?status=APPLIED", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list DocumentList
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 1, list.Pagination.Total)
}

func TestHandlerSetPriceAndPriceTypes(t *testing.T) {
	f := newDocFixture(t)
	router := newTestRouter(t, f.svc)

	rr := serve(router, http.MethodPost, "/pricing/prices", `{"product_id":"`+f.p2.String()+`","new_price":"175.5"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"applied":true`)

	rr = serve(router, http.MethodPost, "/pricing/price-types", `{"name":"Retail","slug":"retail"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var pt PriceType
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pt))
	require.Equal(t, "UAH", pt.Currency)

	rr = serve(router, http.MethodPost, "/pricing/price-types", `{"name":"Retail 2","slug":"retail"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(router, http.MethodDelete, "/pricing/price-types/"+pt.ID.String(), "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(router, http.MethodPut, "/pricing/price-types/"+pt.ID.String(), `{"name":"Retail","slug":"retail"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := newDocFixture(t)
	router := newTestRouter(t, f.svc)

	rr := serve(router, http.MethodPost, "/pricing/prices", `{"product_id":"`+f.p1.String()+`","new_price":"-3"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, http.MethodPost, "/pricing/documents", `{"comment":"no target"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, http.MethodGet, "/pricing/documents/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, http.MethodPost, "/pricing/documents/"+f.p1.String()+"/apply", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
