package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/http/middleware"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// memDocuments is a tenant-filtered in-memory document store.
type memDocuments struct {
	docs map[uuid.UUID]*domain.Document
}

func (m *memDocuments) Create(_ context.Context, d *domain.Document) error {
	m.docs[d.ID] = d
	return nil
}

func (m *memDocuments) Get(_ context.Context, scope domain.Scope, id uuid.UUID) (*domain.Document, error) {
	d, ok := m.docs[id]
	if !ok || !scope.CanAccessTenant(d.TenantID) {
		return nil, domain.ErrDocumentNotFound
	}
	return d, nil
}

func (m *memDocuments) List(_ context.Context, scope domain.Scope, ownerID *uuid.UUID, _ domain.Page) ([]*domain.Document, int, error) {
	var out []*domain.Document
	for _, d := range m.docs {
		if scope.CanAccessTenant(d.TenantID) && (ownerID == nil || d.UserID == *ownerID) {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func (m *memDocuments) MarkUploaded(_ context.Context, _ domain.Scope, id uuid.UUID, size int64) error {
	m.docs[id].Status = domain.DocumentUploaded
	m.docs[id].SizeBytes = size
	return nil
}

func (m *memDocuments) Delete(_ context.Context, _ domain.Scope, id uuid.UUID) error {
	delete(m.docs, id)
	return nil
}

// memObjects records presigned keys and pretends every put succeeded.
type memObjects struct {
	uploaded map[string]int64
	deleted  []string
}

func (m *memObjects) PresignPut(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://objects.test/put/" + key, nil
}

func (m *memObjects) PresignGet(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://objects.test/get/" + key, nil
}

func (m *memObjects) Head(_ context.Context, key string) (int64, error) {
	size, ok := m.uploaded[key]
	if !ok {
		return 0, domain.ErrDocumentNotUploaded
	}
	return size, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	return nil
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func router(h *Handler, scope domain.Scope) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithScope(req.Context(), scope)))
		})
	})
	r.Get("/v1/documents", h.List)
	r.Post("/v1/documents", h.RequestUpload)
	r.Post("/v1/documents/{id}/confirm", h.Confirm)
	r.Get("/v1/documents/{id}/download", h.Download)
	r.Delete("/v1/documents/{id}", h.Delete)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func TestDocumentLifecycle(t *testing.T) {
	tenantID := uuid.New()
	store := &memDocuments{docs: map[uuid.UUID]*domain.Document{}}
	objects := &memObjects{uploaded: map[string]int64{}}
	svc := service.NewDocumentService(service.DocumentConfig{}, store, objects, quiet)
	client := domain.Scope{UserID: uuid.New(), TenantID: &tenantID, Role: domain.RoleUser}
	srv := router(NewHandler(quiet, svc), client)

	rec := do(srv, http.MethodPost, "/v1/documents", `{"file_name":"passport.pdf","content_type":"application/pdf","size_bytes":2048,"category":"Identity"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body)
	}
	var created struct {
		Data UploadResponse `json:"data"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&created)
	doc := created.Data.Document
	if created.Data.UploadURL == "" || created.Data.ExpiresAt.IsZero() || doc.Status != domain.DocumentPending || doc.Category != "identity" {
		t.Fatalf("ticket = %+v", created.Data)
	}
	path := "/v1/documents/" + doc.ID.String()

	if rec := do(srv, http.MethodGet, path+"/download", ""); rec.Code != http.StatusConflict {
		t.Errorf("download before upload = %d, want 409", rec.Code)
	}
	if rec := do(srv, http.MethodPost, path+"/confirm", ""); rec.Code != http.StatusConflict {
		t.Errorf("confirm before upload = %d, want 409", rec.Code)
	}

	objects.uploaded[store.docs[doc.ID].ObjectKey] = 2000
	rec = do(srv, http.MethodPost, path+"/confirm", "")
	var confirmed struct {
		Data DocumentView `json:"data"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&confirmed)
	if rec.Code != http.StatusOK || confirmed.Data.Status != domain.DocumentUploaded || confirmed.Data.SizeBytes != 2000 {
		t.Errorf("confirm = %d %+v", rec.Code, confirmed.Data)
	}

	rec = do(srv, http.MethodGet, path+"/download", "")
	var dl struct {
		Data DownloadResponse `json:"data"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&dl)
	if rec.Code != http.StatusOK || dl.Data.URL == "" {
		t.Errorf("download = %d %+v", rec.Code, dl.Data)
	}

	if rec := do(srv, http.MethodDelete, path, ""); rec.Code != http.StatusNoContent || len(objects.deleted) != 1 {
		t.Errorf("delete = %d, deleted objects = %v", rec.Code, objects.deleted)
	}
}

func TestRequestUpload_Rejected(t *testing.T) {
	tenantID := uuid.New()
	client := domain.Scope{UserID: uuid.New(), TenantID: &tenantID, Role: domain.RoleUser}
	store := &memDocuments{docs: map[uuid.UUID]*domain.Document{}}

	tests := []struct {
		name    string
		storage service.ObjectStorage
		body    string
		status  int
	}{
		{"unsupported type", &memObjects{}, `{"file_name":"run.exe","content_type":"application/x-msdownload","size_bytes":10}`, http.StatusBadRequest},
		{"too large", &memObjects{}, `{"file_name":"scan.pdf","content_type":"application/pdf","size_bytes":104857600}`, http.StatusBadRequest},
		{"missing size", &memObjects{}, `{"file_name":"scan.pdf","content_type":"application/pdf"}`, http.StatusBadRequest},
		{"storage not configured", nil, `{"file_name":"scan.pdf","content_type":"application/pdf","size_bytes":10}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := service.NewDocumentService(service.DocumentConfig{}, store, tt.storage, quiet)
			rec := do(router(NewHandler(quiet, svc), client), http.MethodPost, "/v1/documents", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestList_OwnerFilter(t *testing.T) {
	tenantID, otherTenant := uuid.New(), uuid.New()
	alice, bob := uuid.New(), uuid.New()
	store := &memDocuments{docs: map[uuid.UUID]*domain.Document{}}
	for _, d := range []*domain.Document{
		{ID: uuid.New(), TenantID: tenantID, UserID: alice},
		{ID: uuid.New(), TenantID: tenantID, UserID: alice},
		{ID: uuid.New(), TenantID: tenantID, UserID: bob},
		{ID: uuid.New(), TenantID: otherTenant, UserID: uuid.New()},
	} {
		store.docs[d.ID] = d
	}
	svc := service.NewDocumentService(service.DocumentConfig{}, store, &memObjects{}, quiet)

	count := func(scope domain.Scope, query string) (int, int) {
		rec := do(router(NewHandler(quiet, svc), scope), http.MethodGet, "/v1/documents"+query, "")
		var body struct {
			Data common.ListView[DocumentView] `json:"data"`
		}
		_ = json.NewDecoder(rec.Body).Decode(&body)
		return rec.Code, body.Data.Total
	}

	admin := domain.Scope{UserID: uuid.New(), TenantID: &tenantID, Role: domain.RoleAdmin}
	if code, total := count(admin, ""); code != http.StatusOK || total != 3 {
		t.Errorf("admin list = %d, total %d", code, total)
	}
	if code, total := count(admin, "?owner_id="+alice.String()); code != http.StatusOK || total != 2 {
		t.Errorf("admin owner filter = %d, total %d", code, total)
	}
	if code, _ := count(admin, "?owner_id=nope"); code != http.StatusBadRequest {
		t.Errorf("bad owner_id = %d", code)
	}

	user := domain.Scope{UserID: bob, TenantID: &tenantID, Role: domain.RoleUser}
	if code, total := count(user, ""); code != http.StatusOK || total != 1 {
		t.Errorf("user list = %d, total %d", code, total)
	}
	if code, _ := count(user, "?owner_id="+alice.String()); code != http.StatusForbidden {
		t.Errorf("user listing another owner = %d, want 403", code)
	}
}
