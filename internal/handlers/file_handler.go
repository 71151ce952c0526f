package handlers

import (
	"mime/multipart"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
)

// FileHandler handles upload and file metadata requests
type FileHandler struct {
	files  interfaces.FileService
	logger arbor.ILogger
}

// NewFileHandler creates a new file handler
func NewFileHandler(files interfaces.FileService, logger arbor.ILogger) *FileHandler {
	return &FileHandler{
		files:  files,
		logger: logger,
	}
}

// UploadHandler accepts a multipart upload and registers the blob
// POST /files/
func (h *FileHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	part, err := firstFilePart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart file field is required")
		return
	}
	defer part.Close()

	info, err := h.files.SaveUpload(userID, part.FileName(), part.Header.Get("Content-Type"), part)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to save upload")
		writeError(w, http.StatusInternalServerError, "Failed to save upload")
		return
	}

	h.logger.Info().
		Str("file_id", info.ID).
		Str("user_id", userID).
		Str("filename", info.Filename).
		Msg("File uploaded")

	writeJSON(w, http.StatusOK, map[string]interface{}{"file": info})
}

// GetFileHandler returns file metadata
// GET /files/{file_id}
func (h *FileHandler) GetFileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	fileID := pathSegment(r, 1)
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "File ID is required")
		return
	}

	if !h.files.OwnedBy(fileID, userID) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	info, err := h.files.GetInfo(fileID)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// firstFilePart streams to the first file part in the multipart body
// without buffering the whole upload in memory
func firstFilePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}
