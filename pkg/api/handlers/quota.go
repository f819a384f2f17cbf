package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fileferry/fileferry/pkg/api/middleware"
	"github.com/fileferry/fileferry/pkg/models"
)

// QuotaService is the slice of the orchestrator the quota endpoints use.
type QuotaService interface {
	Quota(ctx context.Context, userID string) (*models.QuotaEntry, error)
	SetQuotaCeiling(ctx context.Context, userID string, ceiling int64) error
}

// QuotaHandler handles the quota endpoints.
type QuotaHandler struct {
	service QuotaService
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(service QuotaService) *QuotaHandler {
	return &QuotaHandler{service: service}
}

// Get handles GET /api/v1/quota.
//
// Returns the authenticated user's quota entry, creating it with defaults
// on first sight.
func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	quota, err := h.service.Quota(r.Context(), claims.UserID())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse(quota))
}

// SetCeilingRequest is the request body for PUT /api/v1/quota/{user_id}.
type SetCeilingRequest struct {
	ByteCeiling int64 `json:"byte_ceiling"`
}

// SetCeiling handles PUT /api/v1/quota/{user_id}.
// Updates a user's byte ceiling (admin only).
func (h *QuotaHandler) SetCeiling(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	var req SetCeilingRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.service.SetQuotaCeiling(r.Context(), userID, req.ByteCeiling); err != nil {
		writeError(w, err)
		return
	}

	quota, err := h.service.Quota(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse(quota))
}
