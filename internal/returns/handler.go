package returns

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-returns/internal/invoicing"
	"github.com/meridian-erp/meridian-returns/internal/platform/httpx"
	"github.com/meridian-erp/meridian-returns/internal/shared"
)

// Handler manages combined return endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoice-items", h.fetchInvoiceItems)
	r.Get("/invoice-items/with-vat", h.fetchInvoiceItemsWithVAT)

	r.Post("/", h.createCombinedReturn)
	r.Get("/", h.listCombinedReturns)
	r.Get("/{id}", h.getCombinedReturn)
	r.Put("/{id}", h.updateCombinedReturn)
	r.Post("/{id}/submit", h.submitCombinedReturn)
	r.Post("/{id}/credit-notes", h.createCreditNotes)
}

func fetchRequestFromQuery(r *http.Request) invoicing.FetchItemsRequest {
	q := r.URL.Query()
	return invoicing.FetchItemsRequest{
		Customer:     q.Get("customer"),
		SalesInvoice: q.Get("invoice"),
		SelectAll:    q.Get("all") == "1" || q.Get("all") == "true",
		ItemCode:     q.Get("item_code"),
	}
}

func (h *Handler) fetchInvoiceItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.FetchInvoiceItems(r.Context(), fetchRequestFromQuery(r))
	if err != nil {
		h.logger.Error("fetch invoice items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) fetchInvoiceItemsWithVAT(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.FetchInvoiceItemsWithVAT(r.Context(), fetchRequestFromQuery(r))
	if err != nil {
		h.logger.Error("fetch invoice items with vat", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) createCombinedReturn(w http.ResponseWriter, r *http.Request) {
	var req CreateCombinedReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	actor := shared.ActorFromContext(r.Context())
	doc, err := h.service.CreateCombinedReturn(r.Context(), req, actor.ID)
	if err != nil {
		h.logger.Error("create combined return", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) listCombinedReturns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	offset := 0
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	docs, total, err := h.service.ListCombinedReturns(r.Context(), ListCombinedReturnsRequest{
		Customer: q.Get("customer"),
		Status:   ReturnStatus(q.Get("status")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.logger.Error("list combined returns", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"returns":    docs,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
		"pagination": shared.NewPagination(offset/limit+1, limit, total),
	})
}

func (h *Handler) getCombinedReturn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "combined return ID must be numeric")
		return
	}

	doc, err := h.service.GetCombinedReturn(r.Context(), id)
	if err != nil {
		h.logger.Error("get combined return", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) updateCombinedReturn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "combined return ID must be numeric")
		return
	}

	var req UpdateCombinedReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	doc, err := h.service.UpdateCombinedReturn(r.Context(), id, req)
	if err != nil {
		h.logger.Error("update combined return", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) submitCombinedReturn(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "combined return ID must be numeric")
		return
	}

	actor := shared.ActorFromContext(r.Context())
	submitNotes := boolParam(r, "submit_credit_notes")

	result, err := h.service.Submit(r.Context(), id, actor.ID, submitNotes)
	if err != nil {
		h.logger.Error("submit combined return", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) createCreditNotes(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "combined return ID must be numeric")
		return
	}

	actor := shared.ActorFromContext(r.Context())
	submitNotes := boolParam(r, "submit")

	result, err := h.service.CreateCreditNotes(r.Context(), id, actor.ID, submitNotes)
	if err != nil {
		h.logger.Error("create credit notes", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || v == "true"
}
