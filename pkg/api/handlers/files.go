package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fileferry/fileferry/pkg/api/middleware"
	"github.com/fileferry/fileferry/pkg/ferry"
	ferryerrors "github.com/fileferry/fileferry/pkg/ferry/errors"
	"github.com/fileferry/fileferry/pkg/models"
)

// ReasonRequested marks deletes initiated by a client.
const ReasonRequested = "requested"

// FileService is the slice of the orchestrator the file endpoints use.
type FileService interface {
	Upload(ctx context.Context, req ferry.UploadRequest) (*ferry.UploadResult, error)
	Delete(ctx context.Context, recordID, reason string) error
	GetFile(ctx context.Context, recordID string) (*models.FileRecord, error)
	TouchAccess(ctx context.Context, recordID string) (*models.FileRecord, error)
	ListFiles(ctx context.Context, userID string) ([]*models.FileRecord, error)
}

// FilesHandler handles the file upload and lifecycle endpoints.
type FilesHandler struct {
	service FileService
}

// NewFilesHandler creates a new FilesHandler.
func NewFilesHandler(service FileService) *FilesHandler {
	return &FilesHandler{service: service}
}

// UploadResponse is the response body for POST /api/v1/files.
type UploadResponse struct {
	File         *models.FileRecord `json:"file"`
	Deduplicated bool               `json:"deduplicated"`
}

// Upload handles POST /api/v1/files.
//
// Expects a multipart form with a "file" part and a "purpose" field. An
// optional "provider" field pins the upload to a specific provider instead
// of automatic routing.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "Multipart form field 'file' is required")
		return
	}
	defer file.Close()

	purpose := r.FormValue("purpose")
	if purpose == "" {
		badRequest(w, "Form field 'purpose' is required")
		return
	}

	result, err := h.service.Upload(r.Context(), ferry.UploadRequest{
		Content:     file,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
		Provider:    r.FormValue("provider"),
		UserID:      claims.UserID(),
		Purpose:     purpose,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, okResponse(UploadResponse{
		File:         result.Record,
		Deduplicated: result.Deduplicated,
	}))
}

// Get handles GET /api/v1/files/{id}.
//
// Reading a record counts as activity: the accessed-at timestamp is bumped.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	recordID := chi.URLParam(r, "id")

	record, err := h.service.GetFile(r.Context(), recordID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !canAccess(claims.UserID(), claims.IsAdmin(), record) {
		// Not revealing whether the record exists
		writeError(w, ferryerrors.NewNotFoundError("file record", recordID))
		return
	}

	record, err = h.service.TouchAccess(r.Context(), recordID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse(record))
}

// Delete handles DELETE /api/v1/files/{id}.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	recordID := chi.URLParam(r, "id")

	record, err := h.service.GetFile(r.Context(), recordID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !canAccess(claims.UserID(), claims.IsAdmin(), record) {
		writeError(w, ferryerrors.NewNotFoundError("file record", recordID))
		return
	}

	if err := h.service.Delete(r.Context(), recordID, ReasonRequested); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse(map[string]string{
		"id":     recordID,
		"status": "deleted",
	}))
}

// List handles GET /api/v1/files.
//
// Returns the authenticated user's non-deleted records.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	records, err := h.service.ListFiles(r.Context(), claims.UserID())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse(map[string]interface{}{
		"files": records,
		"count": len(records),
	}))
}

// canAccess reports whether the user may see the record.
func canAccess(userID string, isAdmin bool, record *models.FileRecord) bool {
	return isAdmin || record.OwnerID == userID
}
