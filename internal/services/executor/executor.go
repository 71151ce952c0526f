package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// simulatedTileDelay paces the simulated tile loop
const simulatedTileDelay = 150 * time.Millisecond

// Service runs admitted jobs to a terminal state. Each run decodes the
// source image, walks the tile grid, drives the kernel for every tile
// on the compute pool, publishes per-tile progress, composites the
// preview and writes the manifest.
type Service struct {
	jobs    interfaces.JobStore
	files   interfaces.FileService
	pool    *Pool
	config  *common.ExecutorConfig
	kernels map[models.JobType]Kernel
	logger  arbor.ILogger
}

// NewService creates the executor
func NewService(jobs interfaces.JobStore, files interfaces.FileService, pool *Pool, config *common.ExecutorConfig, logger arbor.ILogger) *Service {
	return &Service{
		jobs:    jobs,
		files:   files,
		pool:    pool,
		config:  config,
		kernels: kernelTable(),
		logger:  logger,
	}
}

// Run executes one job to completion. The job is transitioned to
// RUNNING first; any error after that point lands it in FAILED with an
// error artifact. Run itself returns an error only when the job cannot
// even be loaded.
func (s *Service) Run(jobID string) error {
	if err := s.jobs.UpdateState(jobID, models.JobStateRunning); err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return err
	}

	jobDir, err := s.files.JobDir(jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to allocate job directory")
		// FAILED must still reference an error artifact; fall back to a
		// scratch directory when the results tree is unwritable
		fallback, mkErr := os.MkdirTemp("", "tessera-job-")
		if mkErr != nil {
			return s.jobs.UpdateState(jobID, models.JobStateFailed)
		}
		s.fail(jobID, fallback, fmt.Errorf("failed to allocate job directory: %w", err))
		return nil
	}

	start := time.Now()
	if err := s.process(job, jobDir); err != nil {
		s.fail(jobID, jobDir, err)
		return nil
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("job_type", string(job.Type)).
		Str("duration", time.Since(start).String()).
		Msg("Job succeeded")
	return nil
}

// process covers the phases from source open through manifest write;
// returning an error fails the job
func (s *Service) process(job *models.Job, jobDir string) error {
	srcPath, err := s.files.DiskPath(job.FileID)
	if err != nil {
		return fmt.Errorf("source file unavailable: %w", err)
	}

	if !s.config.RealKernels {
		return s.simulate(job, jobDir, srcPath)
	}

	ctx := context.Background()

	// Decode on the compute pool; large slides take whole seconds
	var src image.Image
	if err := s.pool.Do(ctx, func() error {
		f, err := os.Open(srcPath)
		if err != nil {
			return fmt.Errorf("failed to open source image: %w", err)
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return fmt.Errorf("failed to decode source image: %w", err)
		}
		src = img
		return nil
	}); err != nil {
		return err
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	tiles := EnumerateTiles(width, height, s.config.TileSize, s.config.TileOverlap)
	total := len(tiles)

	kernel, ok := s.kernels[job.Type]
	if !ok {
		return fmt.Errorf("no kernel registered for job type %s", job.Type)
	}

	tileCoords := make([]TileCoord, 0, total)
	var artifacts []string

	for i, tile := range tiles {
		var maskPath string
		if err := s.pool.Do(ctx, func() error {
			mask := s.runKernel(kernel, cropTile(src, tile), job.ID, tile)
			if mask == nil {
				return nil
			}
			path := filepath.Join(jobDir, maskFileName(tile.X, tile.Y))
			if err := writePNG(path, mask); err != nil {
				return err
			}
			maskPath = path
			return nil
		}); err != nil {
			return err
		}

		if maskPath != "" {
			artifacts = append(artifacts, maskPath)
		}
		tileCoords = append(tileCoords, TileCoord{X: tile.X, Y: tile.Y})

		processed := i + 1
		if err := s.jobs.SetProgress(job.ID, float64(processed)/float64(total), processed, total); err != nil {
			return err
		}
	}

	var previewPath string
	if err := s.pool.Do(ctx, func() error {
		p, err := buildPreview(jobDir, width, height, tiles, overlayColor(job.Type))
		if err != nil {
			return err
		}
		previewPath = p
		return nil
	}); err != nil {
		return err
	}

	manifestPath, err := WriteManifest(jobDir, &Manifest{
		JobID:      job.ID,
		JobType:    job.Type,
		SourceFile: srcPath,
		Tiles:      tileCoords,
		Artifacts:  artifacts,
		Preview:    previewPath,
		TileSize:   s.config.TileSize,
		Overlap:    s.config.TileOverlap,
	})
	if err != nil {
		return err
	}

	if err := s.jobs.SetResultPath(job.ID, manifestPath); err != nil {
		return err
	}
	return s.jobs.UpdateState(job.ID, models.JobStateSucceeded)
}

// runKernel invokes the kernel for one tile, falling through to the
// deterministic fallback on error. Per-tile kernel failures never fail
// the job.
func (s *Service) runKernel(kernel Kernel, tile image.Image, jobID string, t Tile) *image.Gray {
	mask, err := kernel(tile)
	if err == nil {
		return mask
	}
	s.logger.Warn().
		Err(err).
		Str("job_id", jobID).
		Int("x", t.X).
		Int("y", t.Y).
		Msg("Tile kernel failed, using fallback")

	mask, err = FallbackKernel(tile)
	if err != nil {
		return nil
	}
	return mask
}

// simulate is the deterministic no-kernel path used when real kernels
// are disabled: a fixed synthetic tile count with a short delay per
// tile, ending in a manifest that records no artifacts.
func (s *Service) simulate(job *models.Job, jobDir, srcPath string) error {
	total := 12
	if job.Type == models.JobTypeSegmentCells {
		total = 20
	}

	for i := 1; i <= total; i++ {
		time.Sleep(simulatedTileDelay)
		if err := s.jobs.SetProgress(job.ID, float64(i)/float64(total), i, total); err != nil {
			return err
		}
	}

	manifestPath, err := WriteManifest(jobDir, &Manifest{
		JobID:      job.ID,
		JobType:    job.Type,
		SourceFile: srcPath,
		Tiles:      []TileCoord{},
		Artifacts:  []string{},
		TileSize:   s.config.TileSize,
		Overlap:    s.config.TileOverlap,
		Note:       "Simulated output. Enable executor.real_kernels to run the tiling path.",
	})
	if err != nil {
		return err
	}
	if err := s.jobs.SetResultPath(job.ID, manifestPath); err != nil {
		return err
	}
	return s.jobs.UpdateState(job.ID, models.JobStateSucceeded)
}

// fail records the error artifact and transitions the job to FAILED.
// The artifact write is best-effort; the state transition always
// happens.
func (s *Service) fail(jobID, jobDir string, cause error) {
	s.logger.Error().Err(cause).Str("job_id", jobID).Msg("Job failed")

	errPath := filepath.Join(jobDir, "error.json")
	data, err := json.Marshal(ErrorArtifact{Error: cause.Error()})
	if err == nil {
		if writeErr := os.WriteFile(errPath, data, 0644); writeErr == nil {
			if err := s.jobs.SetResultPath(jobID, errPath); err != nil {
				s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to record error artifact path")
			}
		}
	}

	if err := s.jobs.UpdateState(jobID, models.JobStateFailed); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job FAILED")
	}
}

// cropTile copies one tile region out of the source image
func cropTile(src image.Image, t Tile) image.Image {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}

	min := src.Bounds().Min
	rect := image.Rect(min.X+t.X, min.Y+t.Y, min.X+t.X+t.W, min.Y+t.Y+t.H)
	if s, ok := src.(subImager); ok {
		return s.SubImage(rect)
	}

	out := image.NewRGBA(image.Rect(0, 0, t.W, t.H))
	stddraw.Draw(out, out.Bounds(), src, rect.Min, stddraw.Src)
	return out
}

// writePNG encodes an image to disk
func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}

var _ interfaces.Executor = (*Service)(nil)
