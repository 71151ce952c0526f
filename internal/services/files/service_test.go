package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/models"
)

func TestSaveUploadWritesBlobToDisk(t *testing.T) {
	s, err := NewService(t.TempDir(), common.GetLogger())
	require.NoError(t, err)

	info, err := s.SaveUpload("u1", "slide.png", "image/png", strings.NewReader("png bytes"))
	require.NoError(t, err)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, "slide.png", info.Filename)
	assert.Equal(t, "image/png", info.ContentType)

	path, err := s.DiskPath(info.ID)
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))
}

func TestGetInfoAndOwnership(t *testing.T) {
	s, err := NewService(t.TempDir(), common.GetLogger())
	require.NoError(t, err)

	info, err := s.SaveUpload("u1", "slide.png", "image/png", strings.NewReader("x"))
	require.NoError(t, err)

	got, err := s.GetInfo(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	assert.True(t, s.OwnedBy(info.ID, "u1"))
	assert.False(t, s.OwnedBy(info.ID, "u2"))

	_, err = s.GetInfo("file_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.DiskPath("file_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJobDirIsCreatedUnderResults(t *testing.T) {
	s, err := NewService(t.TempDir(), common.GetLogger())
	require.NoError(t, err)

	dir, err := s.JobDir("job_1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.ResultsDir(), "job_1"), dir)

	stat, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())

	// Idempotent for repeated calls
	again, err := s.JobDir("job_1")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}
