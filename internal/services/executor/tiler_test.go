package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerateTiles2048x1024(t *testing.T) {
	tiles := EnumerateTiles(2048, 1024, 1024, 64)

	// Step 960 gives columns at 0, 960, 1920 and rows at 0, 960; the
	// third column and second row clamp to the image bounds
	require.Len(t, tiles, 6)
	assert.Equal(t, Tile{X: 0, Y: 0, W: 1024, H: 1024}, tiles[0])
	assert.Equal(t, Tile{X: 960, Y: 0, W: 1024, H: 1024}, tiles[1])
	assert.Equal(t, Tile{X: 1920, Y: 0, W: 128, H: 1024}, tiles[2])
	assert.Equal(t, Tile{X: 0, Y: 960, W: 1024, H: 64}, tiles[3])
	assert.Equal(t, Tile{X: 960, Y: 960, W: 1024, H: 64}, tiles[4])
	assert.Equal(t, Tile{X: 1920, Y: 960, W: 128, H: 64}, tiles[5])
}

func TestEnumerateTilesRowMajorOrder(t *testing.T) {
	tiles := EnumerateTiles(300, 300, 100, 0)

	require.Len(t, tiles, 9)
	// Row-major: all of row 0 before row 1
	assert.Equal(t, 0, tiles[0].Y)
	assert.Equal(t, 0, tiles[1].Y)
	assert.Equal(t, 0, tiles[2].Y)
	assert.Equal(t, 100, tiles[3].Y)
	assert.Equal(t, 0, tiles[3].X)
}

func TestEnumerateTilesSmallerThanTile(t *testing.T) {
	tiles := EnumerateTiles(500, 300, 1024, 64)

	require.Len(t, tiles, 1)
	assert.Equal(t, Tile{X: 0, Y: 0, W: 500, H: 300}, tiles[0])
}

func TestEnumerateTilesEdgeClamping(t *testing.T) {
	tiles := EnumerateTiles(250, 100, 100, 10)

	// Columns at x = 0, 90, 180; rows at y = 0, 90
	require.Len(t, tiles, 6)
	assert.Equal(t, Tile{X: 180, Y: 0, W: 70, H: 100}, tiles[2])
	assert.Equal(t, Tile{X: 0, Y: 90, W: 100, H: 10}, tiles[3])
	assert.Equal(t, Tile{X: 180, Y: 90, W: 70, H: 10}, tiles[5])
}

func TestEnumerateTilesDeterministic(t *testing.T) {
	a := EnumerateTiles(2048, 1024, 1024, 64)
	b := EnumerateTiles(2048, 1024, 1024, 64)
	assert.Equal(t, a, b)
}
