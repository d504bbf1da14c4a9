package domain

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks the upload lifecycle.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentUploaded DocumentStatus = "uploaded"
)

// Document is a file attached to a user's immigration case.
type Document struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	UserID      uuid.UUID
	Category    string
	FileName    string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	Status      DocumentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentObjectKey builds the storage key for a document.
func DocumentObjectKey(tenantID, userID, docID uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("tenants/%s/users/%s/%s%s", tenantID, userID, docID, ext)
}
