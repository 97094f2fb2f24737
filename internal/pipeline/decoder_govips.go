//go:build govips && cgo

package pipeline

import (
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsDecoder struct{}

func (govipsDecoder) Decode(data []byte) (image.Image, string, error) {
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	defer ref.Close()

	// PNG export keeps the alpha band so normalization still sees it.
	img, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("convert vips image: %w", err)
	}
	return img, sourceFormat(data), nil
}

func sourceFormat(data []byte) string {
	switch vips.DetermineImageType(data) {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypePNG:
		return "png"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypeTIFF:
		return "tiff"
	default:
		return "unknown"
	}
}
