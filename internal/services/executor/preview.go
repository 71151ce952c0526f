package executor

import (
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
)

// maxPreviewDim bounds the longest edge of the composited preview
const maxPreviewDim = 2048

// buildPreview composites every tile mask into a single translucent
// overlay PNG, scaled so the longest edge is at most maxPreviewDim
// while preserving aspect. Missing masks are skipped.
func buildPreview(jobDir string, width, height int, tiles []Tile, overlay color.NRGBA) (string, error) {
	scale := 1.0
	if longest := max(width, height); longest > maxPreviewDim {
		scale = float64(maxPreviewDim) / float64(longest)
	}
	previewW := max(1, int(float64(width)*scale))
	previewH := max(1, int(float64(height)*scale))

	canvas := image.NewNRGBA(image.Rect(0, 0, previewW, previewH))

	for _, t := range tiles {
		maskPath := filepath.Join(jobDir, maskFileName(t.X, t.Y))
		mask, err := loadGray(maskPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("failed to load mask %s: %w", maskPath, err)
		}

		tw := max(1, int(float64(t.W)*scale))
		th := max(1, int(float64(t.H)*scale))
		resized := image.NewGray(image.Rect(0, 0, tw, th))
		xdraw.ApproxBiLinear.Scale(resized, resized.Bounds(), mask, mask.Bounds(), xdraw.Src, nil)

		dx := int(float64(t.X) * scale)
		dy := int(float64(t.Y) * scale)
		rect := image.Rect(dx, dy, dx+tw, dy+th)
		stddraw.DrawMask(canvas, rect, image.NewUniform(overlay), image.Point{}, resized, image.Point{}, stddraw.Over)
	}

	previewPath := filepath.Join(jobDir, "preview.png")
	f, err := os.Create(previewPath)
	if err != nil {
		return "", fmt.Errorf("failed to create preview: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, canvas); err != nil {
		return "", fmt.Errorf("failed to encode preview: %w", err)
	}
	return previewPath, nil
}

// loadGray decodes a PNG mask as 8-bit luminance
func loadGray(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, err
	}
	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}
	return toGray(img), nil
}

// maskFileName is the on-disk name for a tile mask artifact
func maskFileName(x, y int) string {
	return fmt.Sprintf("mask_%d_%d.png", x, y)
}
