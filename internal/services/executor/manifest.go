package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/tessera/internal/models"
)

// TileCoord is the per-tile entry recorded in the manifest
type TileCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Manifest is the JSON artifact written at successful terminal
// transition. It indexes every mask artifact and the preview.
type Manifest struct {
	JobID      string         `json:"job_id"`
	JobType    models.JobType `json:"job_type"`
	SourceFile string         `json:"source_file"`
	Tiles      []TileCoord    `json:"tiles"`
	Artifacts  []string       `json:"artifacts"`
	Preview    string         `json:"preview,omitempty"`
	TileSize   int            `json:"tile_size"`
	Overlap    int            `json:"overlap"`
	Note       string         `json:"note,omitempty"`
}

// ErrorArtifact is written for failed jobs; its existence is part of
// the FAILED contract.
type ErrorArtifact struct {
	Error string `json:"error"`
}

// WriteManifest serialises the manifest into the job directory and
// returns its path
func WriteManifest(jobDir string, m *Manifest) (string, error) {
	path := filepath.Join(jobDir, "manifest.json")
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

// ReadManifest loads a manifest back from disk; the preview and
// artifacts endpoints use it to resolve artifact paths.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
