package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name           string
		width, height  int
		maxSize        int
		expectedWidth  int
		expectedHeight int
	}{
		{"within bounds", 800, 600, 1024, 800, 600},
		{"exactly at bound", 1024, 1024, 1024, 1024, 1024},
		{"landscape", 4000, 3000, 1000, 1000, 750},
		{"portrait", 3000, 4000, 1000, 750, 1000},
		{"square", 2048, 2048, 1024, 1024, 1024},
		{"extreme aspect keeps one pixel", 10000, 5, 100, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitWithin(tt.width, tt.height, tt.maxSize)
			assert.Equal(t, tt.expectedWidth, w)
			assert.Equal(t, tt.expectedHeight, h)
		})
	}
}

func TestPrepare_DownscalesLargeImage(t *testing.T) {
	data := encodePNG(t, 200, 100)

	prepared, err := Prepare(data, 50)
	require.NoError(t, err)

	assert.Equal(t, 50, prepared.Width)
	assert.Equal(t, 25, prepared.Height)
	assert.Equal(t, "png", prepared.Format)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(prepared.Data))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 25, cfg.Height)
}

func TestPrepare_KeepsSmallImage(t *testing.T) {
	data := encodePNG(t, 40, 30)

	prepared, err := Prepare(data, 1024)
	require.NoError(t, err)

	assert.Equal(t, 40, prepared.Width)
	assert.Equal(t, 30, prepared.Height)

	// Re-encoded as JPEG for a consistent upload format.
	_, format, err := image.DecodeConfig(bytes.NewReader(prepared.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestPrepare_Errors(t *testing.T) {
	_, err := Prepare([]byte("not an image"), 1024)
	require.Error(t, err)

	_, err = Prepare(encodePNG(t, 10, 10), 0)
	require.Error(t, err)
}
