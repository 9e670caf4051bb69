package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-tracker/internal/core/domain"
	"github.com/rl1809/warehouse-tracker/internal/core/service"
	"github.com/rl1809/warehouse-tracker/internal/metrics"
)

const (
	actorHeader          = "X-Actor"
	idempotencyKeyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	receipts  *service.ReceiptService
	stock     *service.StockService
	readModel *service.ReadModel
	audit     *service.AuditLogger
	hub       *Hub
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

type ErrorResponse struct {
	Error     string `json:"error"`
	SKU       string `json:"sku,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

type AdjustStockHTTPRequest struct {
	Delta int    `json:"delta"`
	Actor string `json:"actor"`
}

func NewHTTPHandler(
	receipts *service.ReceiptService,
	stock *service.StockService,
	readModel *service.ReadModel,
	audit *service.AuditLogger,
	hub *Hub,
	logger *zap.Logger,
	m *metrics.Metrics,
) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &HTTPHandler{
		receipts:  receipts,
		stock:     stock,
		readModel: readModel,
		audit:     audit,
		hub:       hub,
		logger:    logger,
		metrics:   m,
	}
}

// Routes builds the router. gatherer backs /metrics; pass nil to omit it.
func (h *HTTPHandler) Routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.countRequests)

	r.Get("/health", h.HealthCheck)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.listItems)
			r.Post("/", h.createItem)
			r.Get("/low-stock", h.lowStock)
			r.Get("/stats", h.stats)
			r.Put("/{id}", h.updateItem)
			r.Delete("/{id}", h.deleteItem)
			r.Post("/{id}/adjust", h.adjustStock)
		})
		r.Get("/sites", h.listSites)
		r.Post("/sites", h.createSite)
		r.Get("/receipts", h.listReceipts)
		r.Post("/receipts", h.submitReceipt)
		r.Get("/logs", h.listLogs)
		if h.hub != nil {
			r.Get("/ws", h.hub.ServeWS)
		}
	})

	return r
}

func (h *HTTPHandler) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) listItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.readModel.Items()))
}

func (h *HTTPHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.readModel.LowStock()))
}

func (h *HTTPHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.readModel.Stats())
}

func (h *HTTPHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var in service.ItemInput
	if !decodeBody(w, r, &in) {
		return
	}
	item, err := h.stock.CreateItem(r.Context(), in, r.Header.Get(actorHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *HTTPHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var in service.ItemInput
	if !decodeBody(w, r, &in) {
		return
	}
	item, err := h.stock.UpdateItem(r.Context(), chi.URLParam(r, "id"), in, r.Header.Get(actorHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.stock.DeleteItem(r.Context(), chi.URLParam(r, "id"), r.Header.Get(actorHeader)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockHTTPRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = r.Header.Get(actorHeader)
	}

	item, err := h.stock.AdjustStock(r.Context(), chi.URLParam(r, "id"), req.Delta, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) listSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(h.readModel.Sites()))
}

func (h *HTTPHandler) createSite(w http.ResponseWriter, r *http.Request) {
	var in service.SiteInput
	if !decodeBody(w, r, &in) {
		return
	}
	site, err := h.stock.CreateSite(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

func (h *HTTPHandler) submitReceipt(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = r.Header.Get(actorHeader)
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get(idempotencyKeyHeader)
	}

	receipt, err := h.receipts.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *HTTPHandler) listReceipts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	receipts, err := h.receipts.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(receipts))
}

func (h *HTTPHandler) listLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		available := stockErr.Available
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "insufficient stock",
			SKU:       stockErr.SKU,
			Requested: stockErr.Requested,
			Available: &available,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNegativeResult):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrTransactionAborted):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "too much contention, try again"})
	case errors.Is(err, domain.ErrDuplicateSubmission):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "duplicate submission"})
	case errors.Is(err, domain.ErrInvalidCart), errors.Is(err, domain.ErrInvalidItem), errors.Is(err, domain.ErrInvalidSite):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("http_internal_error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return 0, false
	}
	return limit, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
