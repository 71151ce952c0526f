package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

const copyChunkSize = 1024 * 1024

// fileMeta is the stored metadata for one uploaded blob
type fileMeta struct {
	userID      string
	diskPath    string
	filename    string
	contentType string
	createdAt   time.Time
}

// Service owns uploaded blobs and per-job result directories. Blob
// bytes stream straight to disk; only the metadata map is guarded by
// the mutex.
type Service struct {
	mu         sync.RWMutex
	files      map[string]fileMeta
	uploadsDir string
	resultsDir string
	logger     arbor.ILogger
}

// NewService creates the file service and its on-disk directories
func NewService(uploadsDir string, logger arbor.ILogger) (*Service, error) {
	resultsDir := filepath.Join(uploadsDir, "results")
	for _, dir := range []string{uploadsDir, resultsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Service{
		files:      make(map[string]fileMeta),
		uploadsDir: uploadsDir,
		resultsDir: resultsDir,
		logger:     logger,
	}, nil
}

// SaveUpload streams the upload to disk in 1 MiB chunks, then registers
// metadata. The write happens outside the lock; only the map update
// needs it.
func (s *Service) SaveUpload(userID, filename, contentType string, r io.Reader) (*models.FileInfo, error) {
	fileID := common.NewFileID()
	ext := filepath.Ext(filename)
	diskPath := filepath.Join(s.uploadsDir, fileID+ext)

	f, err := os.Create(diskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(f, r, buf); err != nil {
		os.Remove(diskPath)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}

	now := time.Now()
	if filename == "" {
		filename = filepath.Base(diskPath)
	}

	s.mu.Lock()
	s.files[fileID] = fileMeta{
		userID:      userID,
		diskPath:    diskPath,
		filename:    filename,
		contentType: contentType,
		createdAt:   now,
	}
	s.mu.Unlock()

	s.logger.Debug().
		Str("file_id", fileID).
		Str("user_id", userID).
		Str("filename", filename).
		Msg("Upload saved")

	return &models.FileInfo{
		ID:          fileID,
		UserID:      userID,
		Filename:    filename,
		ContentType: contentType,
		CreatedAt:   now,
	}, nil
}

func (s *Service) GetInfo(fileID string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, models.ErrNotFound)
	}
	return &models.FileInfo{
		ID:          fileID,
		UserID:      meta.userID,
		Filename:    meta.filename,
		ContentType: meta.contentType,
		CreatedAt:   meta.createdAt,
	}, nil
}

func (s *Service) OwnedBy(fileID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.files[fileID]
	return ok && meta.userID == userID
}

func (s *Service) DiskPath(fileID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.files[fileID]
	if !ok {
		return "", fmt.Errorf("file %s: %w", fileID, models.ErrNotFound)
	}
	return meta.diskPath, nil
}

// JobDir returns the result directory for a job, creating it if missing
func (s *Service) JobDir(jobID string) (string, error) {
	dir := filepath.Join(s.resultsDir, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return dir, nil
}

// ResultsDir returns the root of all job result directories
func (s *Service) ResultsDir() string {
	return s.resultsDir
}

var _ interfaces.FileService = (*Service)(nil)
