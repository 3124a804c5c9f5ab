// Package imaging decodes input images and scales them down before they are
// sent to the face embedding server.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Quality is the JPEG quality used for re-encoding.
const Quality = 85

// Prepared is an image ready for face detection.
type Prepared struct {
	Data   []byte // JPEG
	Width  int
	Height int
	Format string // format of the source image
}

// Prepare decodes data and resizes it to fit within maxSize (width or height)
// while keeping aspect ratio. The result is always JPEG encoded.
func Prepare(data []byte, maxSize int) (*Prepared, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("invalid max size %d", maxSize)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	newWidth, newHeight := FitWithin(bounds.Dx(), bounds.Dy(), maxSize)

	out := img
	if newWidth != bounds.Dx() || newHeight != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Prepared{
		Data:   buf.Bytes(),
		Width:  newWidth,
		Height: newHeight,
		Format: format,
	}, nil
}

// FitWithin returns the dimensions of a width x height image scaled down so
// that neither side exceeds maxSize. Images already within bounds are unchanged.
func FitWithin(width, height, maxSize int) (int, int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		return maxSize, max(1, int(float64(height)*float64(maxSize)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxSize)/float64(height))), maxSize
}
