package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fileferry/fileferry/pkg/api/auth"
	"github.com/fileferry/fileferry/pkg/api/middleware"
	"github.com/fileferry/fileferry/pkg/ferry"
	ferryerrors "github.com/fileferry/fileferry/pkg/ferry/errors"
	"github.com/fileferry/fileferry/pkg/models"
)

// stubService implements FileService and QuotaService for handler tests.
type stubService struct {
	records map[string]*models.FileRecord
	quotas  map[string]*models.QuotaEntry

	uploadResult *ferry.UploadResult
	uploadErr    error
	lastUpload   ferry.UploadRequest

	deleteErr    error
	deletedID    string
	deleteReason string
}

func newStubService() *stubService {
	return &stubService{
		records: make(map[string]*models.FileRecord),
		quotas:  make(map[string]*models.QuotaEntry),
	}
}

func (s *stubService) Upload(ctx context.Context, req ferry.UploadRequest) (*ferry.UploadResult, error) {
	s.lastUpload = req
	if req.Content != nil {
		// Drain so the multipart part is fully consumed like the real path.
		_, _ = io.Copy(io.Discard, req.Content)
	}
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return s.uploadResult, nil
}

func (s *stubService) Delete(ctx context.Context, recordID, reason string) error {
	s.deletedID = recordID
	s.deleteReason = reason
	return s.deleteErr
}

func (s *stubService) GetFile(ctx context.Context, recordID string) (*models.FileRecord, error) {
	record, ok := s.records[recordID]
	if !ok {
		return nil, ferryerrors.NewNotFoundError("file record", recordID)
	}
	return record, nil
}

func (s *stubService) TouchAccess(ctx context.Context, recordID string) (*models.FileRecord, error) {
	record, err := s.GetFile(ctx, recordID)
	if err != nil {
		return nil, err
	}
	record.AccessedAt = time.Now().UTC()
	return record, nil
}

func (s *stubService) ListFiles(ctx context.Context, userID string) ([]*models.FileRecord, error) {
	var out []*models.FileRecord
	for _, r := range s.records {
		if r.OwnerID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubService) Quota(ctx context.Context, userID string) (*models.QuotaEntry, error) {
	q, ok := s.quotas[userID]
	if !ok {
		q = &models.QuotaEntry{UserID: userID, ByteCeiling: 100, PerFileCeiling: 100}
		s.quotas[userID] = q
	}
	return q, nil
}

func (s *stubService) SetQuotaCeiling(ctx context.Context, userID string, ceiling int64) error {
	if ceiling <= 0 {
		return ferryerrors.NewValidationError("byte ceiling must be positive")
	}
	q, _ := s.Quota(ctx, userID)
	q.ByteCeiling = ceiling
	return nil
}

// authedRequest attaches claims for userID to the request context.
func authedRequest(r *http.Request, userID string, admin bool) *http.Request {
	role := auth.RoleUser
	if admin {
		role = auth.RoleAdmin
	}
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		Role:             role,
	}
	return r.WithContext(middleware.WithClaims(r.Context(), claims))
}

// withURLParam injects a chi route parameter into the request context.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartBody builds a multipart upload body with the given fields.
func multipartBody(t *testing.T, fileContent string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			t.Fatalf("Failed to write field %s: %v", k, err)
		}
	}
	if fileContent != "" {
		part, err := form.CreateFormFile("file", "report.txt")
		if err != nil {
			t.Fatalf("Failed to create file part: %v", err)
		}
		if _, err := part.Write([]byte(fileContent)); err != nil {
			t.Fatalf("Failed to write file content: %v", err)
		}
	}
	if err := form.Close(); err != nil {
		t.Fatalf("Failed to close form: %v", err)
	}
	return &buf, form.FormDataContentType()
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) response {
	t.Helper()

	var resp response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestUpload_Success(t *testing.T) {
	service := newStubService()
	service.uploadResult = &ferry.UploadResult{
		Record: &models.FileRecord{ID: "rec-1", OwnerID: "alice", SizeBytes: 11},
	}
	handler := NewFilesHandler(service)

	body, contentType := multipartBody(t, "hello world", map[string]string{"purpose": "assistants"})
	req := httptest.NewRequest("POST", "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	req = authedRequest(req, "alice", false)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	resp := decodeResponse(t, w)
	if resp.Status != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", resp.Status)
	}

	if service.lastUpload.UserID != "alice" {
		t.Errorf("Expected upload for user 'alice', got '%s'", service.lastUpload.UserID)
	}
	if service.lastUpload.Purpose != "assistants" {
		t.Errorf("Expected purpose 'assistants', got '%s'", service.lastUpload.Purpose)
	}
	if service.lastUpload.Size != int64(len("hello world")) {
		t.Errorf("Expected size %d, got %d", len("hello world"), service.lastUpload.Size)
	}
}

func TestUpload_DeduplicatedReturns200(t *testing.T) {
	service := newStubService()
	service.uploadResult = &ferry.UploadResult{
		Record:       &models.FileRecord{ID: "rec-1", OwnerID: "alice"},
		Deduplicated: true,
	}
	handler := NewFilesHandler(service)

	body, contentType := multipartBody(t, "hello world", map[string]string{"purpose": "assistants"})
	req := httptest.NewRequest("POST", "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	req = authedRequest(req, "alice", false)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d for dedup hit, got %d", http.StatusOK, w.Code)
	}
}

func TestUpload_ProviderPreferenceForwarded(t *testing.T) {
	service := newStubService()
	service.uploadResult = &ferry.UploadResult{Record: &models.FileRecord{ID: "rec-1"}}
	handler := NewFilesHandler(service)

	body, contentType := multipartBody(t, "hello", map[string]string{
		"purpose":  "assistants",
		"provider": "s3",
	})
	req := httptest.NewRequest("POST", "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	req = authedRequest(req, "alice", false)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	if service.lastUpload.Provider != "s3" {
		t.Errorf("Expected provider 's3', got '%s'", service.lastUpload.Provider)
	}
}

func TestUpload_MissingPurpose(t *testing.T) {
	handler := NewFilesHandler(newStubService())

	body, contentType := multipartBody(t, "hello", nil)
	req := httptest.NewRequest("POST", "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	req = authedRequest(req, "alice", false)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	handler := NewFilesHandler(newStubService())

	body, contentType := multipartBody(t, "", map[string]string{"purpose": "assistants"})
	req := httptest.NewRequest("POST", "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	req = authedRequest(req, "alice", false)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestUpload_NoClaims_Returns401(t *testing.T) {
	handler := NewFilesHandler(newStubService())

	body, contentType := multipartBody(t, "hello", map[string]string{"purpose": "assistants"})
	req := httptest.NewRequest("POST", "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "quota exceeded",
			err:        ferryerrors.NewQuotaExceededError("alice", 50, 5),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "QuotaExceeded",
		},
		{
			name:       "validation",
			err:        ferryerrors.NewValidationError("purpose missing"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "Validation",
		},
		{
			name:       "provider unavailable",
			err:        ferryerrors.NewProviderUnavailableError("no provider can serve the upload", nil),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "ProviderUnavailable",
		},
		{
			name:       "circuit open",
			err:        ferryerrors.NewCircuitOpenError("openai"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "CircuitOpen",
		},
		{
			name:       "lock timeout",
			err:        ferryerrors.NewLockTimeoutError("abc"),
			wantStatus: http.StatusConflict,
			wantCode:   "LockTimeout",
		},
		{
			name:       "provider rejected",
			err:        ferryerrors.NewProviderRejectedError("openai", fmt.Errorf("401")),
			wantStatus: http.StatusBadGateway,
			wantCode:   "ProviderRejected",
		},
		{
			name:       "internal",
			err:        ferryerrors.NewInternalError("store down", fmt.Errorf("dial refused")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "Internal",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service := newStubService()
			service.uploadErr = tc.err
			handler := NewFilesHandler(service)

			body, contentType := multipartBody(t, "hello", map[string]string{"purpose": "assistants"})
			req := httptest.NewRequest("POST", "/api/v1/files", body)
			req.Header.Set("Content-Type", contentType)
			req = authedRequest(req, "alice", false)
			w := httptest.NewRecorder()

			handler.Upload(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("Expected status %d, got %d", tc.wantStatus, w.Code)
			}
			resp := decodeResponse(t, w)
			if resp.Code != tc.wantCode {
				t.Errorf("Expected code '%s', got '%s'", tc.wantCode, resp.Code)
			}
		})
	}
}

func TestUpload_InternalErrorHidesCause(t *testing.T) {
	service := newStubService()
	service.uploadErr = ferryerrors.NewInternalError("committing record", fmt.Errorf("constraint violation on quota_entries"))
	handler := NewFilesHandler(service)

	body, contentType := multipartBody(t, "hello", map[string]string{"purpose": "assistants"})
	req := httptest.NewRequest("POST", "/api/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	req = authedRequest(req, "alice", false)
	w := httptest.NewRecorder()

	handler.Upload(w, req)

	resp := decodeResponse(t, w)
	if resp.Error != "internal error" {
		t.Errorf("Expected generic internal error message, got '%s'", resp.Error)
	}
}

func TestGet_BumpsAccessedAt(t *testing.T) {
	service := newStubService()
	service.records["rec-1"] = &models.FileRecord{ID: "rec-1", OwnerID: "alice", Status: models.StatusActive}
	handler := NewFilesHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/files/rec-1", nil)
	req = authedRequest(req, "alice", false)
	req = withURLParam(req, "id", "rec-1")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if service.records["rec-1"].AccessedAt.IsZero() {
		t.Error("Expected accessed-at to be bumped")
	}
}

func TestGet_OtherUsersRecordIsHidden(t *testing.T) {
	service := newStubService()
	service.records["rec-1"] = &models.FileRecord{ID: "rec-1", OwnerID: "alice"}
	handler := NewFilesHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/files/rec-1", nil)
	req = authedRequest(req, "mallory", false)
	req = withURLParam(req, "id", "rec-1")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d for foreign record, got %d", http.StatusNotFound, w.Code)
	}
}

func TestGet_AdminSeesAnyRecord(t *testing.T) {
	service := newStubService()
	service.records["rec-1"] = &models.FileRecord{ID: "rec-1", OwnerID: "alice"}
	handler := NewFilesHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/files/rec-1", nil)
	req = authedRequest(req, "root", true)
	req = withURLParam(req, "id", "rec-1")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d for admin, got %d", http.StatusOK, w.Code)
	}
}

func TestDelete_Success(t *testing.T) {
	service := newStubService()
	service.records["rec-1"] = &models.FileRecord{ID: "rec-1", OwnerID: "alice"}
	handler := NewFilesHandler(service)

	req := httptest.NewRequest("DELETE", "/api/v1/files/rec-1", nil)
	req = authedRequest(req, "alice", false)
	req = withURLParam(req, "id", "rec-1")
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if service.deletedID != "rec-1" {
		t.Errorf("Expected delete of 'rec-1', got '%s'", service.deletedID)
	}
	if service.deleteReason != ReasonRequested {
		t.Errorf("Expected reason '%s', got '%s'", ReasonRequested, service.deleteReason)
	}
}

func TestDelete_UnknownRecord(t *testing.T) {
	handler := NewFilesHandler(newStubService())

	req := httptest.NewRequest("DELETE", "/api/v1/files/ghost", nil)
	req = authedRequest(req, "alice", false)
	req = withURLParam(req, "id", "ghost")
	w := httptest.NewRecorder()

	handler.Delete(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestList_ReturnsOwnFilesOnly(t *testing.T) {
	service := newStubService()
	service.records["rec-1"] = &models.FileRecord{ID: "rec-1", OwnerID: "alice"}
	service.records["rec-2"] = &models.FileRecord{ID: "rec-2", OwnerID: "bob"}
	handler := NewFilesHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/files", nil)
	req = authedRequest(req, "alice", false)
	w := httptest.NewRecorder()

	handler.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	if count, _ := data["count"].(float64); count != 1 {
		t.Errorf("Expected 1 file, got %v", data["count"])
	}
}

func TestQuota_Get(t *testing.T) {
	service := newStubService()
	handler := NewQuotaHandler(service)

	req := httptest.NewRequest("GET", "/api/v1/quota", nil)
	req = authedRequest(req, "alice", false)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestQuota_SetCeiling(t *testing.T) {
	service := newStubService()
	handler := NewQuotaHandler(service)

	body := bytes.NewBufferString(`{"byte_ceiling": 200}`)
	req := httptest.NewRequest("PUT", "/api/v1/quota/alice", body)
	req = authedRequest(req, "root", true)
	req = withURLParam(req, "user_id", "alice")
	w := httptest.NewRecorder()

	handler.SetCeiling(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if service.quotas["alice"].ByteCeiling != 200 {
		t.Errorf("Expected ceiling 200, got %d", service.quotas["alice"].ByteCeiling)
	}
}

func TestQuota_SetCeilingRejectsNonPositive(t *testing.T) {
	handler := NewQuotaHandler(newStubService())

	body := bytes.NewBufferString(`{"byte_ceiling": 0}`)
	req := httptest.NewRequest("PUT", "/api/v1/quota/alice", body)
	req = authedRequest(req, "root", true)
	req = withURLParam(req, "user_id", "alice")
	w := httptest.NewRecorder()

	handler.SetCeiling(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
