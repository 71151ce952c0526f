package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"github.com/ternarybob/tessera/internal/services/files"
	"github.com/ternarybob/tessera/internal/storage/memory"
)

type executorFixture struct {
	jobs     interfaces.JobStore
	files    *files.Service
	executor *Service
}

func newExecutorFixture(t *testing.T, cfg *common.ExecutorConfig) *executorFixture {
	t.Helper()
	logger := common.GetLogger()

	fileService, err := files.NewService(t.TempDir(), logger)
	require.NoError(t, err)

	pool := NewPool(cfg.ComputeWorkers, logger)
	pool.Start()
	t.Cleanup(pool.Shutdown)

	jobs := memory.NewJobStore(logger)
	return &executorFixture{
		jobs:     jobs,
		files:    fileService,
		executor: NewService(jobs, fileService, pool, cfg, logger),
	}
}

// uploadTestImage registers a synthetic bimodal PNG of the given size
func (f *executorFixture) uploadTestImage(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(30)
			if x >= w/2 {
				v = 220
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	info, err := f.files.SaveUpload("u1", "slide.png", "image/png", &buf)
	require.NoError(t, err)
	return info.ID
}

func TestRunProcessesAllTiles(t *testing.T) {
	cfg := &common.ExecutorConfig{TileSize: 1024, TileOverlap: 64, ComputeWorkers: 2, RealKernels: true}
	f := newExecutorFixture(t, cfg)
	fileID := f.uploadTestImage(t, 2048, 1024)

	job, err := f.jobs.Create("wf_1", "", "u1", fileID, models.JobTypeSegmentCells)
	require.NoError(t, err)

	require.NoError(t, f.executor.Run(job.ID))

	got, err := f.jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSucceeded, got.State)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, 6, got.TilesProcessed)
	assert.Equal(t, 6, got.TilesTotal)
	require.NotEmpty(t, got.ResultPath)

	manifest, err := ReadManifest(got.ResultPath)
	require.NoError(t, err)
	assert.Equal(t, job.ID, manifest.JobID)
	assert.Equal(t, models.JobTypeSegmentCells, manifest.JobType)
	assert.Equal(t, []TileCoord{{0, 0}, {960, 0}, {1920, 0}, {0, 960}, {960, 960}, {1920, 960}}, manifest.Tiles)
	assert.Equal(t, 1024, manifest.TileSize)
	assert.Equal(t, 64, manifest.Overlap)
	assert.Empty(t, manifest.Note)

	// Mask artifacts and the preview composite exist on disk
	require.Len(t, manifest.Artifacts, 6)
	for _, artifact := range manifest.Artifacts {
		_, err := os.Stat(artifact)
		assert.NoError(t, err, "missing artifact %s", artifact)
	}
	require.NotEmpty(t, manifest.Preview)
	_, err = os.Stat(manifest.Preview)
	assert.NoError(t, err)
}

func TestRunTissueMaskProducesPreview(t *testing.T) {
	cfg := &common.ExecutorConfig{TileSize: 256, TileOverlap: 0, ComputeWorkers: 2, RealKernels: true}
	f := newExecutorFixture(t, cfg)
	fileID := f.uploadTestImage(t, 512, 256)

	job, err := f.jobs.Create("wf_1", "", "u1", fileID, models.JobTypeTissueMask)
	require.NoError(t, err)

	require.NoError(t, f.executor.Run(job.ID))

	got, err := f.jobs.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStateSucceeded, got.State)

	manifest, err := ReadManifest(got.ResultPath)
	require.NoError(t, err)

	pf, err := os.Open(manifest.Preview)
	require.NoError(t, err)
	defer pf.Close()
	preview, err := png.Decode(pf)
	require.NoError(t, err)
	assert.Equal(t, 512, preview.Bounds().Dx())
	assert.Equal(t, 256, preview.Bounds().Dy())
}

func TestRunMissingFileFailsWithErrorArtifact(t *testing.T) {
	cfg := &common.ExecutorConfig{TileSize: 1024, TileOverlap: 64, ComputeWorkers: 2, RealKernels: true}
	f := newExecutorFixture(t, cfg)

	job, err := f.jobs.Create("wf_1", "", "u1", "file_missing", models.JobTypeSegmentCells)
	require.NoError(t, err)

	require.NoError(t, f.executor.Run(job.ID))

	got, err := f.jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotEmpty(t, got.ResultPath)
	assert.Equal(t, "error.json", filepath.Base(got.ResultPath))

	data, err := os.ReadFile(got.ResultPath)
	require.NoError(t, err)
	var artifact ErrorArtifact
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Contains(t, artifact.Error, "source file unavailable")
}

func TestRunCorruptImageFails(t *testing.T) {
	cfg := &common.ExecutorConfig{TileSize: 1024, TileOverlap: 64, ComputeWorkers: 2, RealKernels: true}
	f := newExecutorFixture(t, cfg)

	info, err := f.files.SaveUpload("u1", "junk.png", "image/png", bytes.NewReader([]byte("not a png")))
	require.NoError(t, err)

	job, err := f.jobs.Create("wf_1", "", "u1", info.ID, models.JobTypeSegmentCells)
	require.NoError(t, err)

	require.NoError(t, f.executor.Run(job.ID))

	got, err := f.jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
}

// jobDirFailingFiles simulates an unwritable results tree
type jobDirFailingFiles struct {
	interfaces.FileService
}

func (jobDirFailingFiles) JobDir(string) (string, error) {
	return "", fmt.Errorf("results directory is not writable")
}

func TestRunJobDirFailureStillRecordsErrorArtifact(t *testing.T) {
	logger := common.GetLogger()
	fileService, err := files.NewService(t.TempDir(), logger)
	require.NoError(t, err)

	pool := NewPool(1, logger)
	pool.Start()
	t.Cleanup(pool.Shutdown)

	jobs := memory.NewJobStore(logger)
	cfg := &common.ExecutorConfig{TileSize: 1024, TileOverlap: 64, ComputeWorkers: 1, RealKernels: true}
	svc := NewService(jobs, jobDirFailingFiles{fileService}, pool, cfg, logger)

	job, err := jobs.Create("wf_1", "", "u1", "file_1", models.JobTypeSegmentCells)
	require.NoError(t, err)

	require.NoError(t, svc.Run(job.ID))

	got, err := jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, got.State)
	require.NotEmpty(t, got.ResultPath)
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(got.ResultPath)) })

	data, err := os.ReadFile(got.ResultPath)
	require.NoError(t, err)
	var artifact ErrorArtifact
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Contains(t, artifact.Error, "job directory")
}

func TestRunSimulatedPath(t *testing.T) {
	cfg := &common.ExecutorConfig{TileSize: 1024, TileOverlap: 64, ComputeWorkers: 2, RealKernels: false}
	f := newExecutorFixture(t, cfg)
	fileID := f.uploadTestImage(t, 64, 64)

	job, err := f.jobs.Create("wf_1", "", "u1", fileID, models.JobTypeTissueMask)
	require.NoError(t, err)

	require.NoError(t, f.executor.Run(job.ID))

	got, err := f.jobs.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSucceeded, got.State)
	assert.Equal(t, 12, got.TilesTotal)
	assert.Equal(t, 1.0, got.Progress)

	manifest, err := ReadManifest(got.ResultPath)
	require.NoError(t, err)
	assert.Empty(t, manifest.Artifacts)
	assert.NotEmpty(t, manifest.Note)
}
