package storage

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Thumbnail downscales an image to fit within maxWidth x maxHeight,
// preserving aspect ratio, and encodes the result as JPEG.
func Thumbnail(data []byte, maxWidth, maxHeight, jpegQuality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	resized := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
