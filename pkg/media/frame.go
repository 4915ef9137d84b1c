// Package media holds the frame codec and the server-side video
// catalog. A video is a directory with a meta.json manifest, a
// thumb.jpg thumbnail and a frames/ directory of JPEG images in
// lexical display order.
package media

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
)

const jpegQuality = 80

// Decode converts JPEG bytes into an image.
func Decode(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	return img, nil
}

// Encode converts an image into JPEG bytes.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return buf.Bytes(), nil
}
