package pipeline

import (
	"image"
	"image/color"
)

// Normalize converts images carrying alpha or a palette to opaque RGB.
// Straight color channels are kept and alpha is dropped. RGBA-family images
// whose every pixel is already opaque, and any other color model, are
// returned unchanged. The second result reports whether a conversion
// happened.
func Normalize(img image.Image) (image.Image, bool) {
	switch src := img.(type) {
	case *image.Paletted, *image.Alpha, *image.Alpha16:
		return flattenRGB(img), true
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.NYCbCrA:
		if src.(interface{ Opaque() bool }).Opaque() {
			return img, false
		}
		return flattenRGB(img), true
	default:
		return img, false
	}
}

func flattenRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			i := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}
