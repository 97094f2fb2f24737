package pipeline

import "image"

type Decoder interface {
	Decode(data []byte) (img image.Image, format string, err error)
}
