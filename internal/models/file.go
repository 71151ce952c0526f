package models

import (
	"time"
)

// FileInfo describes an uploaded blob. The bytes live on disk under the
// uploads directory; the store keeps only metadata.
type FileInfo struct {
	ID          string    `json:"file_id"`
	UserID      string    `json:"user_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
