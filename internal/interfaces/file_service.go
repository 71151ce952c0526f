package interfaces

import (
	"io"

	"github.com/ternarybob/tessera/internal/models"
)

// FileService owns uploaded blobs and per-job result directories.
// Blobs live on disk under the uploads directory; results under
// <uploads>/results/<job_id>.
type FileService interface {
	// SaveUpload streams the upload to disk and registers metadata
	SaveUpload(userID, filename, contentType string, r io.Reader) (*models.FileInfo, error)

	// GetInfo returns file metadata, or models.ErrNotFound
	GetInfo(fileID string) (*models.FileInfo, error)

	// OwnedBy reports whether the file exists and belongs to the user
	OwnedBy(fileID, userID string) bool

	// DiskPath resolves a file ID to its on-disk path
	DiskPath(fileID string) (string, error)

	// JobDir returns the result directory for a job, creating it if missing
	JobDir(jobID string) (string, error)

	// ResultsDir returns the root of all job result directories
	ResultsDir() string
}
