package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/merchkit/inventory/internal/core/domain"
	"github.com/merchkit/inventory/internal/core/service"
	"github.com/merchkit/inventory/internal/port"
)

type HTTPHandler struct {
	coordinator *service.Coordinator
	ledger      port.LedgerRepository
	activities  port.ActivityRepository
	logger      zerolog.Logger
}

func NewHTTPHandler(
	coordinator *service.Coordinator,
	ledger port.LedgerRepository,
	activities port.ActivityRepository,
	logger zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		coordinator: coordinator,
		ledger:      ledger,
		activities:  activities,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// Register attaches all routes to mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/orders/reserve", h.ReserveOrder)
	mux.HandleFunc("/api/orders/release", h.ReleaseOrder)
	mux.HandleFunc("/api/orders/commit", h.CommitOrder)
	mux.HandleFunc("/api/stock/adjust", h.AdjustStock)
	mux.HandleFunc("/api/stock/availability", h.CheckAvailability)
	mux.HandleFunc("/api/stock", h.GetStock)
	mux.HandleFunc("/api/activities", h.ListActivities)
}

type orderRequest struct {
	OrderID    string             `json:"order_id"`
	BusinessID string             `json:"business_id"`
	Items      []domain.OrderLine `json:"items"`
}

type adjustRequest struct {
	RequestID   string `json:"request_id"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id"`
	BusinessID  string `json:"business_id"`
	NewQuantity int    `json:"new_quantity"`
	Reason      string `json:"reason"`
	ChangedBy   string `json:"changed_by"`
}

type availabilityRequest struct {
	Items []domain.OrderLine `json:"items"`
}

type apiResponse struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Shortfalls []domain.Shortfall `json:"shortfalls,omitempty"`
}

func (h *HTTPHandler) ReserveOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeOrderRequest(w, r, true)
	if !ok {
		return
	}

	if err := h.coordinator.ReserveOrder(r.Context(), req.OrderID, req.BusinessID, req.Items); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "order reserved"})
}

func (h *HTTPHandler) ReleaseOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeOrderRequest(w, r, false)
	if !ok {
		return
	}

	if err := h.coordinator.ReleaseOrder(r.Context(), req.OrderID, req.Items); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "order released"})
}

func (h *HTTPHandler) CommitOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeOrderRequest(w, r, false)
	if !ok {
		return
	}

	if err := h.coordinator.CommitOrder(r.Context(), req.OrderID, req.BusinessID, req.Items); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "order committed"})
}

// AdjustStock is the entry point for manual corrections and external
// stock-sync integrations pushing authoritative counts.
func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return
	}
	if req.ProductID == "" || req.NewQuantity < 0 {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "missing required fields"})
		return
	}
	if req.ChangedBy == "" {
		req.ChangedBy = domain.ActorExternalSystem
	}

	ref := domain.ItemRef{ProductID: req.ProductID, VariantID: req.VariantID}
	err := h.coordinator.ManualAdjust(r.Context(), req.RequestID, ref, req.NewQuantity,
		req.BusinessID, req.Reason, req.ChangedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "stock adjusted"})
}

func (h *HTTPHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return
	}
	if !validLines(req.Items) {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "missing required fields"})
		return
	}

	shortfalls, err := h.coordinator.Checker().Check(r.Context(), req.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success:    len(shortfalls) == 0,
		Message:    "availability checked",
		Shortfalls: shortfalls,
	})
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "product_id is required"})
		return
	}

	ref := domain.ItemRef{ProductID: productID, VariantID: r.URL.Query().Get("variant_id")}
	item, err := h.ledger.GetCounters(r.Context(), ref)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"product_id":      item.Ref.ProductID,
		"variant_id":      item.Ref.VariantID,
		"track_inventory": item.TrackInventory,
		"stock":           item.Stock,
		"reserved_stock":  item.ReservedStock,
		"available_stock": item.AvailableStock(),
	})
}

func (h *HTTPHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := domain.ActivityFilter{
		BusinessID: q.Get("business_id"),
		ProductID:  q.Get("product_id"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid since timestamp"})
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid until timestamp"})
			return
		}
		filter.Until = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid limit"})
			return
		}
		filter.Limit = n
	}

	records, err := h.activities.ListActivities(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decodeOrderRequest(w http.ResponseWriter, r *http.Request, requireBusiness bool) (*orderRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return nil, false
	}
	if req.OrderID == "" || len(req.Items) == 0 || !validLines(req.Items) ||
		(requireBusiness && req.BusinessID == "") {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "missing required fields"})
		return nil, false
	}
	return &req, true
}

func validLines(lines []domain.OrderLine) bool {
	for _, l := range lines {
		if l.ProductID == "" || l.Quantity <= 0 {
			return false
		}
	}
	return len(lines) > 0
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var shortfallErr *domain.ShortfallError
	if errors.As(err, &shortfallErr) {
		writeJSON(w, http.StatusConflict, apiResponse{
			Message:    "insufficient stock",
			Shortfalls: shortfallErr.Shortfalls,
		})
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrDuplicateRequest):
		status = http.StatusConflict
		message = "duplicate request"
	case errors.Is(err, domain.ErrItemNotFound):
		status = http.StatusNotFound
		message = "item not found"
	case errors.Is(err, domain.ErrStockBelowReserved):
		status = http.StatusConflict
		message = "stock below reserved quantity"
	case errors.Is(err, domain.ErrReservationNotActive):
		status = http.StatusConflict
		message = "reservation no longer active"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusServiceUnavailable
		message = "storage busy, try again"
	case errors.Is(err, domain.ErrInvariantViolation):
		message = "item unavailable pending investigation"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, apiResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
