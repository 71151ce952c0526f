package executor

import (
	"fmt"
	"image"
	"image/color"

	"github.com/ternarybob/tessera/internal/models"
)

// Kernel computes a binary mask for one tile. A nil mask with nil
// error means the kernel produced nothing for this tile; per-tile
// kernel errors never fail the job, the caller falls through to the
// fallback kernel instead.
type Kernel func(tile image.Image) (*image.Gray, error)

// kernelTable maps each job type to its tile kernel
func kernelTable() map[models.JobType]Kernel {
	return map[models.JobType]Kernel{
		models.JobTypeSegmentCells: SegmentCellsKernel,
		models.JobTypeTissueMask:   TissueMaskKernel,
	}
}

// overlayColor returns the translucent preview overlay for a job type:
// red for cell segmentation, green for tissue masking.
func overlayColor(jobType models.JobType) color.NRGBA {
	if jobType == models.JobTypeTissueMask {
		return color.NRGBA{G: 255, A: 120}
	}
	return color.NRGBA{R: 255, A: 120}
}

// SegmentCellsKernel marks cell-like foreground by luminance above the
// tile mean. Stands in for model inference; the interface stays the
// same when a real segmentation backend is plugged in.
func SegmentCellsKernel(tile image.Image) (*image.Gray, error) {
	gray := toGray(tile)
	return thresholdMask(gray, meanThreshold(gray)), nil
}

// TissueMaskKernel produces a binary tissue mask via Otsu's threshold
// over the tile luminance histogram.
func TissueMaskKernel(tile image.Image) (*image.Gray, error) {
	gray := toGray(tile)
	t, err := otsuThreshold(gray)
	if err != nil {
		return nil, err
	}
	return thresholdMask(gray, t), nil
}

// FallbackKernel is the deterministic mean-threshold mask used when a
// per-tile kernel invocation errors.
func FallbackKernel(tile image.Image) (*image.Gray, error) {
	gray := toGray(tile)
	return thresholdMask(gray, meanThreshold(gray)), nil
}

// toGray converts a tile to 8-bit luminance
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// meanThreshold returns the mean luminance of the tile
func meanThreshold(gray *image.Gray) uint8 {
	b := gray.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	var sum uint64
	for _, v := range gray.Pix {
		sum += uint64(v)
	}
	return uint8(sum / uint64(n))
}

// otsuThreshold maximises between-class variance over the 256-bin
// luminance histogram
func otsuThreshold(gray *image.Gray) (uint8, error) {
	total := len(gray.Pix)
	if total == 0 {
		return 0, fmt.Errorf("empty tile")
	}

	var hist [256]int
	for _, v := range gray.Pix {
		hist[v]++
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, wB float64
	var best float64
	var threshold uint8
	for i := 0; i < 256; i++ {
		wB += float64(hist[i])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * float64(hist[i])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(i)
		}
	}
	return threshold, nil
}

// thresholdMask builds a binary mask: 255 where luminance > t, else 0
func thresholdMask(gray *image.Gray, t uint8) *image.Gray {
	mask := image.NewGray(gray.Bounds())
	for i, v := range gray.Pix {
		if v > t {
			mask.Pix[i] = 255
		}
	}
	return mask
}
