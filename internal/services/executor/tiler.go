package executor

// Tile is one rectangular region of the source image processed as a
// single compute unit. Tiles may overlap by the configured amount.
type Tile struct {
	X int
	Y int
	W int
	H int
}

// EnumerateTiles produces the deterministic row-major tile grid for an
// image. Rows advance by tileSize-overlap while y < height; columns
// likewise while x < width. Edge tiles are clamped to the image
// bounds.
func EnumerateTiles(width, height, tileSize, overlap int) []Tile {
	step := tileSize - overlap
	var tiles []Tile
	for y := 0; y < height; y += step {
		h := tileSize
		if y+h > height {
			h = height - y
		}
		for x := 0; x < width; x += step {
			w := tileSize
			if x+w > width {
				w = width - x
			}
			tiles = append(tiles, Tile{X: x, Y: y, W: w, H: h})
		}
	}
	return tiles
}
