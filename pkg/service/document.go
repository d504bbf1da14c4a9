package service

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const (
	DefaultMaxDocumentSize = 25 << 20
	DefaultPresignTTL      = 15 * time.Minute
)

// DefaultDocumentTypes are the content types accepted for upload.
var DefaultDocumentTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/heic",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// ObjectStorage stores document bytes. Clients upload and download directly
// through presigned URLs.
type ObjectStorage interface {
	PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key, fileName string, ttl time.Duration) (string, error)
	// Head returns the stored size, or ErrDocumentNotUploaded if the object
	// does not exist.
	Head(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// DocumentStore persists document metadata.
type DocumentStore interface {
	Create(ctx context.Context, d *domain.Document) error
	Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Document, error)
	List(ctx context.Context, scope domain.Scope, ownerID *uuid.UUID, page domain.Page) ([]*domain.Document, int, error)
	MarkUploaded(ctx context.Context, scope domain.Scope, id uuid.UUID, size int64) error
	Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error
}

// DocumentConfig limits uploads.
type DocumentConfig struct {
	MaxSizeBytes int64
	AllowedTypes []string
	PresignTTL   time.Duration
}

// DocumentService manages case documents.
type DocumentService struct {
	config    DocumentConfig
	allowed   map[string]bool
	documents DocumentStore
	storage   ObjectStorage
	logger    *slog.Logger
	now       func() time.Time
}

// NewDocumentService creates a document service. A nil storage makes every
// operation that touches objects fail with ErrStorageUnavailable.
func NewDocumentService(cfg DocumentConfig, documents DocumentStore, storage ObjectStorage, logger *slog.Logger) *DocumentService {
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = DefaultMaxDocumentSize
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = DefaultDocumentTypes
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(t)] = true
	}
	return &DocumentService{
		config:    cfg,
		allowed:   allowed,
		documents: documents,
		storage:   storage,
		logger:    logger,
		now:       time.Now,
	}
}

// UploadRequest describes a file the caller is about to upload.
type UploadRequest struct {
	FileName    string
	ContentType string
	SizeBytes   int64
	Category    string
}

// UploadTicket is a pending document with the URL to PUT its bytes to.
type UploadTicket struct {
	Document  *domain.Document
	UploadURL string
	ExpiresAt time.Time
}

// RequestUpload validates the file and creates a pending document.
func (s *DocumentService) RequestUpload(ctx context.Context, scope domain.Scope, req UploadRequest) (*UploadTicket, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	if s.storage == nil {
		return nil, domain.ErrStorageUnavailable
	}

	fileName := path.Base(strings.ReplaceAll(strings.TrimSpace(req.FileName), "\\", "/"))
	if fileName == "" || fileName == "." || fileName == "/" || len(fileName) > 255 {
		return nil, domain.Validation("invalid file name")
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if !s.allowed[contentType] {
		return nil, domain.ErrUnsupportedFileType
	}
	if req.SizeBytes <= 0 {
		return nil, domain.Validation("file size is required")
	}
	if req.SizeBytes > s.config.MaxSizeBytes {
		return nil, domain.ErrFileTooLarge
	}
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		category = "general"
	}
	if len(category) > 50 {
		return nil, domain.Validation("category is too long")
	}

	now := s.now()
	doc := &domain.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		UserID:      scope.UserID,
		Category:    category,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   req.SizeBytes,
		Status:      domain.DocumentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc.ObjectKey = domain.DocumentObjectKey(tenantID, scope.UserID, doc.ID, fileName)

	url, err := s.storage.PresignPut(ctx, doc.ObjectKey, contentType, req.SizeBytes, s.config.PresignTTL)
	if err != nil {
		return nil, err
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		return nil, err
	}
	return &UploadTicket{Document: doc, UploadURL: url, ExpiresAt: now.Add(s.config.PresignTTL)}, nil
}

// ConfirmUpload checks the object exists and marks the document uploaded.
func (s *DocumentService) ConfirmUpload(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Document, error) {
	if s.storage == nil {
		return nil, domain.ErrStorageUnavailable
	}
	doc, err := s.get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == domain.DocumentUploaded {
		return doc, nil
	}

	size, err := s.storage.Head(ctx, doc.ObjectKey)
	if err != nil {
		return nil, err
	}
	if size > s.config.MaxSizeBytes {
		if err := s.storage.Delete(ctx, doc.ObjectKey); err != nil {
			s.logger.Warn("failed to delete oversized upload", "document_id", doc.ID, "error", err)
		}
		return nil, domain.ErrFileTooLarge
	}
	if err := s.documents.MarkUploaded(ctx, scope, id, size); err != nil {
		return nil, err
	}
	doc.Status = domain.DocumentUploaded
	doc.SizeBytes = size
	doc.UpdatedAt = s.now()
	return doc, nil
}

// List returns the caller's documents. Admins see the whole tenant unless
// ownerID narrows it.
func (s *DocumentService) List(ctx context.Context, scope domain.Scope, ownerID *uuid.UUID, page domain.Page) (*domain.List[*domain.Document], error) {
	if !scope.Role.IsAdmin() {
		if ownerID != nil && *ownerID != scope.UserID {
			return nil, domain.ErrInsufficientRole
		}
		ownerID = &scope.UserID
	}
	page = page.Normalize()
	docs, total, err := s.documents.List(ctx, scope, ownerID, page)
	if err != nil {
		return nil, err
	}
	return listOf(docs, total, page), nil
}

// DownloadURL returns a presigned GET URL for an uploaded document.
func (s *DocumentService) DownloadURL(ctx context.Context, scope domain.Scope, id uuid.UUID) (string, time.Time, error) {
	if s.storage == nil {
		return "", time.Time{}, domain.ErrStorageUnavailable
	}
	doc, err := s.get(ctx, scope, id)
	if err != nil {
		return "", time.Time{}, err
	}
	if doc.Status != domain.DocumentUploaded {
		return "", time.Time{}, domain.ErrDocumentNotUploaded
	}
	url, err := s.storage.PresignGet(ctx, doc.ObjectKey, doc.FileName, s.config.PresignTTL)
	if err != nil {
		return "", time.Time{}, err
	}
	return url, s.now().Add(s.config.PresignTTL), nil
}

// Delete removes a document and its object.
func (s *DocumentService) Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	doc, err := s.get(ctx, scope, id)
	if err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, scope, id); err != nil {
		return err
	}
	if s.storage != nil {
		if err := s.storage.Delete(ctx, doc.ObjectKey); err != nil && !errors.Is(err, domain.ErrDocumentNotUploaded) {
			s.logger.Warn("failed to delete document object", "document_id", id, "key", doc.ObjectKey, "error", err)
		}
	}
	return nil
}

// get loads a document the caller may see. Non-admins only see their own.
func (s *DocumentService) get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Document, error) {
	doc, err := s.documents.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if !scope.Role.IsAdmin() && doc.UserID != scope.UserID {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}
