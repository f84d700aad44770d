package returns

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-returns/internal/invoicing"
	"github.com/meridian-erp/meridian-returns/internal/platform/httpx"
	"github.com/meridian-erp/meridian-returns/internal/shared"
)

func newTestRouter(f *fixture) http.Handler {
	h := NewHandler(f.svc.logger, f.svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithActor(req.Context(), shared.Actor{ID: "user-1", Email: "user-1@meridian.example"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/returns", h.MountRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func validCreateBody() map[string]any {
	return map[string]any{
		"customer": "ACME",
		"lines": []map[string]any{
			{
				"item_code":          "ITEM-A",
				"qty":                -2.0,
				"rate":               100.0,
				"uom":                "Nos",
				"max_returnable_qty": 5.0,
				"linked_invoice":     "INV-001",
			},
		},
	}
}

func TestHandlerCreateCombinedReturn(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodPost, "/api/returns/", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var doc CombinedReturn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Equal(t, "CSR-001", doc.DocNumber)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, "user-1", doc.CreatedBy)
	require.Len(t, doc.Lines, 1)
	require.Equal(t, -2.0, doc.Lines[0].Quantity)
}

func TestHandlerCreateRejectsMissingCustomer(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	body := validCreateBody()
	delete(body, "customer")
	rec := doJSON(t, router, http.MethodPost, "/api/returns/", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Validation Failed", problem.Title)
}

func TestHandlerCreateRejectsInvalidJSON(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/api/returns/", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGetCombinedReturn(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	doc := draftReturn(t, f, []ReturnLineInput{
		{ItemCode: "ITEM-A", Quantity: -1, Rate: 100, MaxReturnableQty: 5, LinkedInvoice: "INV-001"},
	})

	rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/returns/%d", doc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got CombinedReturn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, doc.DocNumber, got.DocNumber)
}

func TestHandlerGetNotFound(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodGet, "/api/returns/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerGetRejectsNonNumericID(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodGet, "/api/returns/abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListCombinedReturns(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	draftReturn(t, f, []ReturnLineInput{
		{ItemCode: "ITEM-A", Quantity: -1, Rate: 100, MaxReturnableQty: 5, LinkedInvoice: "INV-001"},
	})

	rec := doJSON(t, router, http.MethodGet, "/api/returns/?customer=ACME", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Returns []CombinedReturn `json:"returns"`
		Total   int              `json:"total"`
		Limit   int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	require.Len(t, resp.Returns, 1)
	require.Equal(t, 50, resp.Limit)
}

func TestHandlerUpdateCombinedReturn(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	doc := draftReturn(t, f, []ReturnLineInput{
		{ItemCode: "ITEM-A", Quantity: -1, Rate: 100, MaxReturnableQty: 5, LinkedInvoice: "INV-001"},
	})

	rec := doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/returns/%d", doc.ID), map[string]any{
		"notes": "handle with care",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got CombinedReturn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "handle with care", got.Notes)
}

func TestHandlerSubmitCombinedReturn(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	f.store.invoices["INV-001"] = postedInvoice("INV-001")
	doc := draftReturn(t, f, []ReturnLineInput{
		{ItemCode: "ITEM-A", Quantity: -2, Rate: 100, MaxReturnableQty: 5, LinkedInvoice: "INV-001"},
	})

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/returns/%d/submit?submit_credit_notes=1", doc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, StatusSubmitted, result.Return.Status)
	require.Len(t, result.CreditNotes, 1)
	require.Equal(t, "CN-001", result.CreditNotes[0].CreditNote)
	require.True(t, result.CreditNotes[0].Posted)
}

func TestHandlerSubmitValidationFailure(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	doc := draftReturn(t, f, []ReturnLineInput{
		{ItemCode: "ITEM-A", Quantity: 2, Rate: 100, MaxReturnableQty: 5, LinkedInvoice: "INV-001"},
	})

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/returns/%d/submit", doc.ID), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Contains(t, problem.Detail, "Row 1 (ITEM-A)")
}

func TestHandlerSubmitTwiceConflicts(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	f.store.invoices["INV-001"] = postedInvoice("INV-001")
	doc := draftReturn(t, f, []ReturnLineInput{
		{ItemCode: "ITEM-A", Quantity: -1, Rate: 100, MaxReturnableQty: 5, LinkedInvoice: "INV-001"},
	})

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/returns/%d/submit", doc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/returns/%d/submit", doc.ID), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerCreateCreditNotes(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	f.store.invoices["INV-001"] = postedInvoice("INV-001")
	doc := draftReturn(t, f, []ReturnLineInput{
		{ItemCode: "ITEM-A", Quantity: -1, Rate: 100, MaxReturnableQty: 5, LinkedInvoice: "INV-001"},
	})

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/returns/%d/credit-notes", doc.ID), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.CreditNotes, 1)
	require.Equal(t, StatusDraft, result.Return.Status)
}

func TestHandlerFetchInvoiceItems(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	f.store.items = sampleItems()

	rec := doJSON(t, router, http.MethodGet, "/api/returns/invoice-items?customer=ACME&all=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
}

func TestHandlerFetchInvoiceItemsRequiresCustomer(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)

	rec := doJSON(t, router, http.MethodGet, "/api/returns/invoice-items", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerFetchInvoiceItemsWithVAT(t *testing.T) {
	f := newFixture()
	router := newTestRouter(f)
	f.vat.rates["INV-001"] = 5
	f.store.items = sampleItems()

	rec := doJSON(t, router, http.MethodGet, "/api/returns/invoice-items/with-vat?customer=ACME&all=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []struct {
			VATAmount        float64 `json:"vat_amount"`
			MaxReturnableQty float64 `json:"max_returnable_qty"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.Equal(t, 10.0, resp.Items[0].VATAmount)
	require.Equal(t, 2.0, resp.Items[0].MaxReturnableQty)
}

func sampleItems() []invoicing.InvoiceItem {
	return []invoicing.InvoiceItem{
		{SalesInvoice: "INV-001", ItemCode: "ITEM-A", Quantity: 2, Rate: 100},
		{SalesInvoice: "INV-001", ItemCode: "ITEM-B", Quantity: 1, Rate: 50},
	}
}
