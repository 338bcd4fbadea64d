package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/efreitasn/granola/internal/domain"
	"github.com/efreitasn/granola/internal/service"
)

const orderPathPrefix = "/order/"

// OrderHandler handles the order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// List handles GET /orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderSvc.List(r.Context())
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, orders)
}

// Create handles POST /order.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if errors.Is(err, domain.ErrMissingBody) {
		WriteError(w, http.StatusBadRequest, "Missing request body")
		return
	}
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req, err := domain.DecodeOrderRequest(body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	order, err := h.orderSvc.Create(r.Context(), req)
	if err != nil {
		mapOrderError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, order)
}

// Delete handles DELETE /order/{id}. The id is everything after the
// prefix, slashes included.
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, orderPathPrefix)

	removed, err := h.orderSvc.Delete(r.Context(), id)
	if err != nil {
		mapOrderError(w, err)
		return
	}
	if !removed {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("Order %s not found", id))
		return
	}
	WriteMessage(w, http.StatusOK, fmt.Sprintf("Order %s deleted successfully", id))
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, domain.ErrMissingBody
	}
	return io.ReadAll(r.Body)
}

// mapOrderError maps service errors to 500 responses. Storage messages are
// passed through verbatim.
func mapOrderError(w http.ResponseWriter, err error) {
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		WriteError(w, http.StatusInternalServerError, "Database error: "+storageErr.Error())
		return
	}
	WriteError(w, http.StatusInternalServerError, "Internal error: "+err.Error())
}
