package documents

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// Service is the part of service.DocumentService the handler uses.
type Service interface {
	RequestUpload(ctx context.Context, scope domain.Scope, req service.UploadRequest) (*service.UploadTicket, error)
	ConfirmUpload(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Document, error)
	List(ctx context.Context, scope domain.Scope, ownerID *uuid.UUID, page domain.Page) (*domain.List[*domain.Document], error)
	DownloadURL(ctx context.Context, scope domain.Scope, id uuid.UUID) (string, time.Time, error)
	Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error
}

type Handler struct {
	logger    *slog.Logger
	documents Service
}

func NewHandler(logger *slog.Logger, documents Service) *Handler {
	return &Handler{logger: logger, documents: documents}
}

type DocumentView struct {
	ID          uuid.UUID             `json:"id"`
	UserID      uuid.UUID             `json:"user_id"`
	Category    string                `json:"category"`
	FileName    string                `json:"file_name"`
	ContentType string                `json:"content_type"`
	SizeBytes   int64                 `json:"size_bytes"`
	Status      domain.DocumentStatus `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

func newDocumentView(d *domain.Document) DocumentView {
	return DocumentView{
		ID:          d.ID,
		UserID:      d.UserID,
		Category:    d.Category,
		FileName:    d.FileName,
		ContentType: d.ContentType,
		SizeBytes:   d.SizeBytes,
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type UploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Category    string `json:"category"`
}

type UploadResponse struct {
	Document  DocumentView `json:"document"`
	UploadURL string       `json:"upload_url"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type DownloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// List handles GET /v1/documents. Admins may pass owner_id to see a
// client's documents.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var owner *uuid.UUID
	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid owner_id")
			return
		}
		owner = &id
	}

	list, err := h.documents.List(r.Context(), scope, owner, httputil.ParsePage(r))
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.MapList(list, newDocumentView))
}

// RequestUpload handles POST /v1/documents
func (h *Handler) RequestUpload(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req UploadRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	ticket, err := h.documents.RequestUpload(r.Context(), scope, service.UploadRequest{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		Category:    req.Category,
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, UploadResponse{
		Document:  newDocumentView(ticket.Document),
		UploadURL: ticket.UploadURL,
		ExpiresAt: ticket.ExpiresAt,
	})
}

// Confirm handles POST /v1/documents/{id}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.target(w, r)
	if !ok {
		return
	}
	doc, err := h.documents.ConfirmUpload(r.Context(), scope, id)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newDocumentView(doc))
}

// Download handles GET /v1/documents/{id}/download
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.target(w, r)
	if !ok {
		return
	}
	url, expiresAt, err := h.documents.DownloadURL(r.Context(), scope, id)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, DownloadResponse{URL: url, ExpiresAt: expiresAt})
}

// Delete handles DELETE /v1/documents/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.documents.Delete(r.Context(), scope, id); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (domain.Scope, uuid.UUID, bool) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return scope, uuid.Nil, false
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return scope, uuid.Nil, false
	}
	return scope, id, true
}
