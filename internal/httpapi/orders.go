package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/safar/checkout-core/internal/ordering"
)

func (h *handlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req ordering.PlaceOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	placement, err := h.deps.Orders.PlaceOrder(r.Context(), callerFrom(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, placement)
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	page, err := h.deps.Orders.ListOrders(r.Context(), userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, page)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orderID, err := parseID(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	order, err := h.deps.Orders.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, order)
}
