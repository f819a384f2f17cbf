package ferry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fileferry/fileferry/pkg/breaker"
	"github.com/fileferry/fileferry/pkg/lock"
	"github.com/fileferry/fileferry/pkg/models"
	"github.com/fileferry/fileferry/pkg/provider"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// memStore is an in-memory store.Store with the same guard semantics as the
// real implementation.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.FileRecord
	quotas  map[string]*models.QuotaEntry

	commitErr error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]*models.FileRecord),
		quotas:  make(map[string]*models.QuotaEntry),
	}
}

func copyRecord(r *models.FileRecord) *models.FileRecord {
	c := *r
	return &c
}

func copyQuota(q *models.QuotaEntry) *models.QuotaEntry {
	c := *q
	return &c
}

func (s *memStore) CommitUpload(_ context.Context, record *models.FileRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		return "", s.commitErr
	}

	q, ok := s.quotas[record.OwnerID]
	if !ok {
		return "", models.ErrQuotaNotFound
	}
	if q.BytesConsumed+record.SizeBytes > q.ByteCeiling {
		return "", models.ErrQuotaExceeded
	}
	q.BytesConsumed += record.SizeBytes
	q.FileCount++

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	s.records[record.ID] = copyRecord(record)
	return record.ID, nil
}

func (s *memStore) GetRecord(_ context.Context, id string) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, models.ErrRecordNotFound
	}
	return copyRecord(r), nil
}

func (s *memStore) FindActiveByFingerprint(_ context.Context, fp string) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.Fingerprint == fp && r.Status == models.StatusActive {
			return copyRecord(r), nil
		}
	}
	return nil, models.ErrRecordNotFound
}

func (s *memStore) AddReference(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return models.ErrRecordNotFound
	}
	if r.Status != models.StatusActive {
		return models.ErrRecordNotActive
	}
	r.RefCount++
	r.AccessedAt = time.Now().UTC()
	return nil
}

func (s *memStore) DropReference(_ context.Context, id string) (*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, models.ErrRecordNotFound
	}
	if r.RefCount > 0 {
		r.RefCount--
	}
	return copyRecord(r), nil
}

func (s *memStore) TouchAccessed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return models.ErrRecordNotFound
	}
	r.AccessedAt = at
	return nil
}

func (s *memStore) MarkExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return models.ErrRecordNotFound
	}
	if r.Status != models.StatusActive {
		return models.ErrRecordNotActive
	}
	r.Status = models.StatusExpired
	return nil
}

func (s *memStore) FinalizeDelete(_ context.Context, record *models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[record.ID]
	if !ok {
		return models.ErrRecordNotFound
	}
	if r.Status != models.StatusActive && r.Status != models.StatusExpired {
		return models.ErrRecordNotActive
	}
	r.Status = models.StatusDeleted
	r.RefCount = 0

	if q, ok := s.quotas[r.OwnerID]; ok {
		q.BytesConsumed -= r.SizeBytes
		if q.BytesConsumed < 0 {
			q.BytesConsumed = 0
		}
		if q.FileCount > 0 {
			q.FileCount--
		}
	}
	return nil
}

func (s *memStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.FileRecord
	for _, r := range s.records {
		due := (r.Status == models.StatusActive && r.ExpiresAt.Before(now)) ||
			r.Status == models.StatusExpired
		if due {
			out = append(out, copyRecord(r))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) ListRecordsByOwner(_ context.Context, ownerID string) ([]*models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.FileRecord
	for _, r := range s.records {
		if r.OwnerID == ownerID && r.Status != models.StatusDeleted {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func (s *memStore) GetQuota(_ context.Context, userID string) (*models.QuotaEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[userID]
	if !ok {
		return nil, models.ErrQuotaNotFound
	}
	return copyQuota(q), nil
}

func (s *memStore) EnsureQuota(_ context.Context, userID string, byteCeiling, perFileCeiling int64) (*models.QuotaEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.quotas[userID]; ok {
		return copyQuota(q), nil
	}
	q := &models.QuotaEntry{
		UserID:         userID,
		ByteCeiling:    byteCeiling,
		PerFileCeiling: perFileCeiling,
	}
	s.quotas[userID] = q
	return copyQuota(q), nil
}

func (s *memStore) SetQuotaCeiling(_ context.Context, userID string, byteCeiling int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[userID]
	if !ok {
		return models.ErrQuotaNotFound
	}
	q.ByteCeiling = byteCeiling
	return nil
}

func (s *memStore) ReserveQuota(_ context.Context, userID string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[userID]
	if !ok {
		return models.ErrQuotaNotFound
	}
	if q.BytesConsumed+size > q.ByteCeiling {
		return models.ErrQuotaExceeded
	}
	q.BytesConsumed += size
	q.FileCount++
	return nil
}

func (s *memStore) ReleaseQuota(_ context.Context, userID string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[userID]
	if !ok {
		return models.ErrQuotaNotFound
	}
	q.BytesConsumed -= size
	if q.BytesConsumed < 0 {
		q.BytesConsumed = 0
	}
	if q.FileCount > 0 {
		q.FileCount--
	}
	return nil
}

func (s *memStore) Ping(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

// stubAdapter is a scriptable provider.Adapter.
type stubAdapter struct {
	id     string
	limits provider.Limits

	mu         sync.Mutex
	uploads    int
	deletes    int
	uploadErrs []error
	deleteErr  error

	deleteStarted chan struct{}
	deleteBlock   chan struct{}
}

func (a *stubAdapter) ID() string              { return a.id }
func (a *stubAdapter) Limits() provider.Limits { return a.limits }

func (a *stubAdapter) Upload(_ context.Context, content io.Reader, _ int64, _ string) (string, error) {
	io.Copy(io.Discard, content)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads++
	if len(a.uploadErrs) > 0 {
		err := a.uploadErrs[0]
		a.uploadErrs = a.uploadErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("remote-%s-%d", a.id, a.uploads), nil
}

func (a *stubAdapter) Delete(context.Context, string) error {
	if a.deleteStarted != nil {
		a.deleteStarted <- struct{}{}
	}
	if a.deleteBlock != nil {
		<-a.deleteBlock
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes++
	return a.deleteErr
}

func (a *stubAdapter) uploadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uploads
}

func (a *stubAdapter) deleteCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deletes
}

func testConfig() Config {
	return Config{
		MaxFileSize:           1 << 20,
		Retention:             time.Hour,
		ProviderTimeout:       5 * time.Second,
		DefaultByteCeiling:    1 << 20,
		DefaultPerFileCeiling: 1 << 20,
		LockAcquireTimeout:    5 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		Breaker: breaker.Config{
			FailureThreshold: 3,
			Cooldown:         time.Minute,
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, adapters ...provider.Adapter) (*Orchestrator, *memStore) {
	t.Helper()

	registry := provider.NewRegistry()
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			t.Fatalf("registering adapter: %v", err)
		}
	}

	locks := lock.NewMemoryManager(time.Minute)
	t.Cleanup(func() { _ = locks.Close() })

	st := newMemStore()
	return New(st, locks, registry, cfg), st
}

func uploadReq(user, content string) UploadRequest {
	return UploadRequest{
		Content: strings.NewReader(content),
		UserID:  user,
		Purpose: "assistants",
	}
}

func TestUploadSuccess(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, st := newTestOrchestrator(t, testConfig(), adapter)

	result, err := o.Upload(context.Background(), uploadReq("alice", "hello world"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if result.Deduplicated {
		t.Error("first upload must not be deduplicated")
	}

	r := result.Record
	if r.ID == "" {
		t.Error("expected record ID")
	}
	if r.ProviderID != "openai" {
		t.Errorf("expected provider openai, got %s", r.ProviderID)
	}
	if r.RemoteID == "" {
		t.Error("expected remote ID")
	}
	if r.SizeBytes != 11 {
		t.Errorf("expected size 11, got %d", r.SizeBytes)
	}
	if r.Status != models.StatusActive {
		t.Errorf("expected active status, got %s", r.Status)
	}
	if !r.ExpiresAt.After(time.Now()) {
		t.Error("expected expiry in the future")
	}

	quota, err := st.GetQuota(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetQuota failed: %v", err)
	}
	if quota.BytesConsumed != 11 {
		t.Errorf("expected 11 bytes consumed, got %d", quota.BytesConsumed)
	}
}

func TestUploadValidation(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, _ := newTestOrchestrator(t, testConfig(), adapter)
	ctx := context.Background()

	tests := []struct {
		name string
		req  UploadRequest
	}{
		{"nil content", UploadRequest{UserID: "alice", Purpose: "assistants"}},
		{"empty content", uploadReq("alice", "")},
		{"missing user", UploadRequest{Content: strings.NewReader("x"), Purpose: "assistants"}},
		{"missing purpose", UploadRequest{Content: strings.NewReader("x"), UserID: "alice"}},
		{
			"declared size mismatch",
			UploadRequest{Content: strings.NewReader("abc"), Size: 99, UserID: "alice", Purpose: "assistants"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Upload(ctx, tt.req)
			if !ferrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	if adapter.uploadCount() != 0 {
		t.Errorf("validation failures must not reach the provider, got %d calls", adapter.uploadCount())
	}
}

func TestUploadOversizeRejectedBeforeIO(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, _ := newTestOrchestrator(t, testConfig(), adapter)

	req := UploadRequest{
		Content: strings.NewReader("x"),
		Size:    2 << 20,
		UserID:  "alice",
		Purpose: "assistants",
	}
	_, err := o.Upload(context.Background(), req)
	if !ferrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUploadDedup(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, st := newTestOrchestrator(t, testConfig(), adapter)
	ctx := context.Background()

	first, err := o.Upload(ctx, uploadReq("alice", "same bytes"))
	if err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	second, err := o.Upload(ctx, uploadReq("bob", "same bytes"))
	if err != nil {
		t.Fatalf("second upload failed: %v", err)
	}

	if !second.Deduplicated {
		t.Error("expected second upload to be deduplicated")
	}
	if second.Record.ID != first.Record.ID {
		t.Errorf("expected same record, got %s and %s", first.Record.ID, second.Record.ID)
	}
	if adapter.uploadCount() != 1 {
		t.Errorf("expected one provider call, got %d", adapter.uploadCount())
	}

	stored, err := st.GetRecord(ctx, first.Record.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if stored.RefCount != 2 {
		t.Errorf("expected refcount 2, got %d", stored.RefCount)
	}

	// Dedup hits charge no quota for the second user.
	if quota, err := st.GetQuota(ctx, "bob"); err == nil && quota.BytesConsumed != 0 {
		t.Errorf("dedup hit must not charge quota, got %d", quota.BytesConsumed)
	}
}

func TestUploadSingleFlight(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, st := newTestOrchestrator(t, testConfig(), adapter)

	const uploaders = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recordID string
		dedups   int
	)

	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			result, err := o.Upload(context.Background(),
				uploadReq(fmt.Sprintf("user-%d", i), "contended content"))
			if err != nil {
				t.Errorf("concurrent upload failed: %v", err)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if recordID == "" {
				recordID = result.Record.ID
			} else if recordID != result.Record.ID {
				t.Errorf("expected one record, got %s and %s", recordID, result.Record.ID)
			}
			if result.Deduplicated {
				dedups++
			}
		}(i)
	}
	wg.Wait()

	if adapter.uploadCount() != 1 {
		t.Fatalf("expected exactly one provider call, got %d", adapter.uploadCount())
	}
	if dedups != uploaders-1 {
		t.Errorf("expected %d dedup hits, got %d", uploaders-1, dedups)
	}

	stored, err := st.GetRecord(context.Background(), recordID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if stored.RefCount != uploaders {
		t.Errorf("expected refcount %d, got %d", uploaders, stored.RefCount)
	}
}

func TestUploadWaitsForInFlightDelete(t *testing.T) {
	adapter := &stubAdapter{
		id:            "openai",
		deleteStarted: make(chan struct{}, 1),
		deleteBlock:   make(chan struct{}),
	}
	o, st := newTestOrchestrator(t, testConfig(), adapter)
	ctx := context.Background()

	first, err := o.Upload(ctx, uploadReq("alice", "contended bytes"))
	if err != nil {
		t.Fatal(err)
	}

	// Park a final delete inside the provider call. It holds the
	// fingerprint lock and has already re-read refcount 1.
	deleteDone := make(chan error, 1)
	go func() { deleteDone <- o.Delete(ctx, first.Record.ID, "requested") }()
	<-adapter.deleteStarted

	uploadDone := make(chan *UploadResult, 1)
	go func() {
		result, err := o.Upload(ctx, uploadReq("bob", "contended bytes"))
		if err != nil {
			t.Errorf("concurrent upload failed: %v", err)
			uploadDone <- nil
			return
		}
		uploadDone <- result
	}()

	// The upload must serialize behind the lock, not answer from the
	// record the delete is about to finalize.
	select {
	case result := <-uploadDone:
		t.Fatalf("upload finished while the delete held the lock: %+v", result)
	case <-time.After(50 * time.Millisecond):
	}

	close(adapter.deleteBlock)
	if err := <-deleteDone; err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	result := <-uploadDone
	if result == nil {
		t.Fatal("upload produced no result")
	}
	if result.Deduplicated {
		t.Error("upload must not dedup against a deleted record")
	}
	if result.Record.ID == first.Record.ID {
		t.Error("expected a fresh record, not the deleted one")
	}
	if adapter.uploadCount() != 2 {
		t.Errorf("expected a second provider upload, got %d", adapter.uploadCount())
	}

	stored, err := st.GetRecord(ctx, result.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusActive || stored.RefCount != 1 {
		t.Errorf("expected fresh active record with refcount 1, got %s/%d", stored.Status, stored.RefCount)
	}
}

func TestExpiryDeleteFailureLeavesRecordExpired(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, st := newTestOrchestrator(t, testConfig(), adapter)
	ctx := context.Background()

	result, err := o.Upload(ctx, uploadReq("alice", "goes stale"))
	if err != nil {
		t.Fatal(err)
	}

	adapter.deleteErr = ferrors.NewProviderTransientError("openai", errors.New("503"))
	if err := o.Delete(ctx, result.Record.ID, ReasonExpired); err == nil {
		t.Fatal("expected expiry delete to fail")
	}

	// The failed reclaim left the record out of active status, so dedup
	// no longer resolves to its doomed remote file.
	stored, err := st.GetRecord(ctx, result.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusExpired {
		t.Errorf("expected expired status, got %s", stored.Status)
	}

	adapter.mu.Lock()
	adapter.deleteErr = nil
	adapter.mu.Unlock()
	again, err := o.Upload(ctx, uploadReq("bob", "goes stale"))
	if err != nil {
		t.Fatal(err)
	}
	if again.Deduplicated || again.Record.ID == result.Record.ID {
		t.Error("expected a fresh upload, not a dedup hit on the expired record")
	}
	if adapter.uploadCount() != 2 {
		t.Errorf("expected a second provider upload, got %d", adapter.uploadCount())
	}
}

func TestUploadQuotaSequence(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, st := newTestOrchestrator(t, testConfig(), adapter)
	ctx := context.Background()

	// Alice has 95 of 100 bytes consumed.
	if _, err := st.EnsureQuota(ctx, "alice", 100, 1<<20); err != nil {
		t.Fatal(err)
	}
	if err := st.ReserveQuota(ctx, "alice", 95); err != nil {
		t.Fatal(err)
	}

	// A 10-byte upload exceeds the ceiling and leaves no side effects.
	payload := "ten bytes!"
	_, err := o.Upload(ctx, uploadReq("alice", payload))
	if !ferrors.IsQuotaExceeded(err) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if adapter.uploadCount() != 0 {
		t.Errorf("quota failure must not reach the provider, got %d calls", adapter.uploadCount())
	}

	// Raising the ceiling lets the same upload through.
	if err := o.SetQuotaCeiling(ctx, "alice", 200); err != nil {
		t.Fatalf("SetQuotaCeiling failed: %v", err)
	}
	result, err := o.Upload(ctx, uploadReq("alice", payload))
	if err != nil {
		t.Fatalf("upload after raise failed: %v", err)
	}

	quota, err := st.GetQuota(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if quota.BytesConsumed != 105 {
		t.Errorf("expected 105 bytes consumed, got %d", quota.BytesConsumed)
	}

	// Re-uploading the same content dedups: same record, unchanged usage.
	again, err := o.Upload(ctx, uploadReq("alice", payload))
	if err != nil {
		t.Fatalf("re-upload failed: %v", err)
	}
	if !again.Deduplicated || again.Record.ID != result.Record.ID {
		t.Error("expected dedup hit with the same record")
	}
	quota, _ = st.GetQuota(ctx, "alice")
	if quota.BytesConsumed != 105 {
		t.Errorf("expected usage unchanged at 105, got %d", quota.BytesConsumed)
	}
}

func TestUploadRetriesTransientErrors(t *testing.T) {
	adapter := &stubAdapter{
		id: "openai",
		uploadErrs: []error{
			ferrors.NewProviderTransientError("openai", errors.New("503")),
			ferrors.NewProviderTransientError("openai", errors.New("503")),
		},
	}
	o, _ := newTestOrchestrator(t, testConfig(), adapter)

	result, err := o.Upload(context.Background(), uploadReq("alice", "retry me"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if result.Record.RemoteID == "" {
		t.Error("expected remote ID after retries")
	}
	if adapter.uploadCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", adapter.uploadCount())
	}
}

func TestUploadDoesNotRetryTerminalErrors(t *testing.T) {
	adapter := &stubAdapter{
		id:         "openai",
		uploadErrs: []error{ferrors.NewProviderRejectedError("openai", errors.New("401"))},
	}
	o, _ := newTestOrchestrator(t, testConfig(), adapter)

	_, err := o.Upload(context.Background(), uploadReq("alice", "reject me"))
	if !ferrors.IsCode(err, ferrors.ErrProviderRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if adapter.uploadCount() != 1 {
		t.Errorf("expected a single attempt, got %d", adapter.uploadCount())
	}
}

func TestUploadExhaustedRetriesSurfaceAsUnavailable(t *testing.T) {
	transient := ferrors.NewProviderTransientError("openai", errors.New("503"))
	adapter := &stubAdapter{
		id:         "openai",
		uploadErrs: []error{transient, transient, transient},
	}
	o, _ := newTestOrchestrator(t, testConfig(), adapter)

	_, err := o.Upload(context.Background(), uploadReq("alice", "doomed"))
	if !ferrors.IsProviderUnavailable(err) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if adapter.uploadCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", adapter.uploadCount())
	}
}

func TestUploadRollsBackRemoteOnCommitFailure(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, st := newTestOrchestrator(t, testConfig(), adapter)
	st.commitErr = errors.New("store offline")

	_, err := o.Upload(context.Background(), uploadReq("alice", "orphan"))
	if !ferrors.IsCode(err, ferrors.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if adapter.deleteCount() != 1 {
		t.Errorf("expected remote rollback delete, got %d", adapter.deleteCount())
	}
}

func TestUploadCircuitOpenSkipsProvider(t *testing.T) {
	transient := ferrors.NewProviderTransientError("openai", errors.New("503"))
	adapter := &stubAdapter{
		id: "openai",
		uploadErrs: []error{
			transient, transient, transient, // first upload trips the breaker
		},
	}
	o, _ := newTestOrchestrator(t, testConfig(), adapter)
	ctx := context.Background()

	if _, err := o.Upload(ctx, uploadReq("alice", "trips it")); err == nil {
		t.Fatal("expected first upload to fail")
	}

	// With the only provider's circuit open, auto resolution has nowhere
	// to go and the provider must not be touched.
	before := adapter.uploadCount()
	_, err := o.Upload(ctx, uploadReq("alice", "fails fast"))
	if !ferrors.IsProviderUnavailable(err) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if adapter.uploadCount() != before {
		t.Errorf("open circuit must not reach the provider")
	}
}

func TestDeleteReferenceCounting(t *testing.T) {
	adapter := &stubAdapter{id: "openai"}
	o, st := newTestOrchestrator(t, testConfig(), adapter)
	ctx := context.Background()

	first, err := o.Upload(ctx, uploadReq("alice", "shared"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Upload(ctx, uploadReq("bob", "shared")); err != nil {
		t.Fatal(err)
	}

	// First delete only drops a reference.
	if err := o.Delete(ctx, first.Record.ID, "requested"); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	if adapter.deleteCount() != 0 {
		t.Errorf("shared record delete must not call the provider")
	}
	stored, _ := st.GetRecord(ctx, first.Record.ID)
	if stored.Status != models.StatusActive || stored.RefCount != 1 {
		t.Errorf("expected active record with refcount 1, got %s/%d", stored.Status, stored.RefCount)
	}

	// Last delete removes the remote file and releases quota.
	if err := o.Delete(ctx, first.Record.ID, "requested"); err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if adapter.deleteCount() != 1 {
		t.Errorf("expected one provider delete, got %d", adapter.deleteCount())
	}
	stored, _ = st.GetRecord(ctx, first.Record.ID)
	if stored.Status != models.StatusDeleted {
		t.Errorf("expected deleted status, got %s", stored.Status)
	}
	quota, _ := st.GetQuota(ctx, "alice")
	if quota.BytesConsumed != 0 {
		t.Errorf("expected quota released, got %d", quota.BytesConsumed)
	}

	// A deleted record reads as gone.
	if err := o.Delete(ctx, first.Record.ID, "requested"); !ferrors.IsNotFound(err) {
		t.Fatalf("expected not found on deleted record, got %v", err)
	}
}

func TestDeleteUnknownRecord(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(), &stubAdapter{id: "openai"})

	err := o.Delete(context.Background(), "nope", "requested")
	if !ferrors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTouchAccess(t *testing.T) {
	o, _ := newTestOrchestrator(t, testConfig(), &stubAdapter{id: "openai"})
	ctx := context.Background()

	result, err := o.Upload(ctx, uploadReq("alice", "touch me"))
	if err != nil {
		t.Fatal(err)
	}

	before := result.Record.AccessedAt
	time.Sleep(5 * time.Millisecond)

	touched, err := o.TouchAccess(ctx, result.Record.ID)
	if err != nil {
		t.Fatalf("TouchAccess failed: %v", err)
	}
	if !touched.AccessedAt.After(before) {
		t.Error("expected accessed-at to move forward")
	}
}

func TestExplicitProviderSelection(t *testing.T) {
	first := &stubAdapter{id: "openai"}
	second := &stubAdapter{id: "s3"}
	o, _ := newTestOrchestrator(t, testConfig(), first, second)

	req := uploadReq("alice", "pick s3")
	req.Provider = "s3"
	result, err := o.Upload(context.Background(), req)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if result.Record.ProviderID != "s3" {
		t.Errorf("expected s3, got %s", result.Record.ProviderID)
	}
	if first.uploadCount() != 0 {
		t.Error("explicit selection must not touch other providers")
	}
}
