package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waqas385/wacommerce/internal/cart"
	"github.com/waqas385/wacommerce/internal/domain"
	"github.com/waqas385/wacommerce/internal/repository"
	apperrors "github.com/waqas385/wacommerce/pkg/errors"
	"github.com/waqas385/wacommerce/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints. Every request is
// served by the caller's session manager, looked up in the registry by the
// gateway-authenticated user ID.
type CartHandler struct {
	sessions *cart.Registry
	catalog  repository.ProductCatalog
	logger   *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(sessions *cart.Registry, catalog repository.ProductCatalog, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		catalog:  catalog,
		logger:   logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding a product to the cart.
type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// UpdateQuantityRequest is the JSON request body for setting a line's quantity.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

// --- Response envelope ---

type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// mutationResponse pairs the confirmed cart view with what the mutation
// did, so the client can surface an informational notice when the
// requested quantity was clamped.
type mutationResponse struct {
	Cart     domain.Cart         `json:"cart"`
	Mutation cart.MutationResult `json:"mutation"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	m := h.sessions.Get(r.Context(), userID)
	writeJSON(w, http.StatusOK, response{Data: m.Cart()})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	products, err := h.catalog.GetByIDs(r.Context(), []string{req.ProductID})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	product, ok := products[req.ProductID]
	if !ok {
		h.writeError(w, r, apperrors.NotFound("product", req.ProductID))
		return
	}

	m := h.sessions.Get(r.Context(), userID)
	res, err := m.AddToCart(r.Context(), product, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: mutationResponse{Cart: m.Cart(), Mutation: res}})
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{productID}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	productID := chi.URLParam(r, "productID")
	if productID == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "productID is required"},
		})
		return
	}

	var req UpdateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	m := h.sessions.Get(r.Context(), userID)
	res, err := m.UpdateQuantity(r.Context(), productID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: mutationResponse{Cart: m.Cart(), Mutation: res}})
}

// RemoveItem handles DELETE /api/v1/cart/items/{productID}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	productID := chi.URLParam(r, "productID")
	if productID == "" {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "productID is required"},
		})
		return
	}

	m := h.sessions.Get(r.Context(), userID)
	res, err := m.RemoveFromCart(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: mutationResponse{Cart: m.Cart(), Mutation: res}})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	m := h.sessions.Get(r.Context(), userID)
	if err := m.Clear(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: m.Cart()})
}

// snapshotInvalidator is implemented by catalogs that cache product
// snapshots. A manual refresh drops the cached entries for the cart's
// lines first, so the reload observes current price and stock instead
// of a snapshot that may live until its TTL.
type snapshotInvalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

// RefreshCart handles POST /api/v1/cart/refresh
func (h *CartHandler) RefreshCart(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())

	m := h.sessions.Get(r.Context(), userID)

	if inv, ok := h.catalog.(snapshotInvalidator); ok {
		lines := m.Items()
		ids := make([]string, len(lines))
		for i, l := range lines {
			ids[i] = l.ProductID
		}
		if err := inv.Invalidate(r.Context(), ids...); err != nil {
			h.logger.WarnContext(r.Context(), "drop cached product snapshots failed",
				slog.String("error", err.Error()))
		}
	}

	if err := m.Load(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: m.Cart()})
}

// --- Helpers ---

func (h *CartHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cart.ErrRemoteWrite):
		writeJSON(w, http.StatusServiceUnavailable, response{
			Error: &errorResponse{Code: "REMOTE_WRITE_FAILED", Message: "cart could not be saved, the change was undone"},
		})
		return
	case errors.Is(err, cart.ErrRemoteRead):
		writeJSON(w, http.StatusServiceUnavailable, response{
			Error: &errorResponse{Code: "REMOTE_READ_FAILED", Message: "cart could not be refreshed"},
		})
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Status, response{
			Error: &errorResponse{Code: appErr.Code, Message: appErr.Message},
		})
		return
	}

	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	writeJSON(w, status, response{
		Error: &errorResponse{Code: "INTERNAL_ERROR", Message: "an internal error occurred"},
	})
}

func (h *CartHandler) writeValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	writeJSON(w, http.StatusBadRequest, response{
		Error: &errorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}
