package media

import (
	"bytes"
	"fmt"
	"image"
	"slices"

	// Registered decoders for accepted upload formats.
	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp"
)

const (
	defaultMaxDimension = 1024
	defaultMaxBytes     = 5 << 20
	defaultQuality      = 82
)

var acceptedExtensions = []string{"jpg", "png", "gif", "webp"}

// Processor validates and normalises uploaded images.
type Processor struct {
	MaxDimension int
	MaxBytes     int64
	Quality      int
}

// Image is a processed upload.
type Image struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Process sniffs the type of data, downsizes it so that neither side exceeds
// MaxDimension, and re-encodes it as JPEG.
func (p Processor) Process(data []byte) (Image, error) {
	maxBytes := p.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if int64(len(data)) > maxBytes {
		return Image{}, fmt.Errorf("%d bytes: %w", len(data), ErrTooLarge)
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !slices.Contains(acceptedExtensions, kind.Extension) {
		return Image{}, ErrUnsupportedType
	}

	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, fmt.Errorf("decode %s: %v: %w", kind.Extension, err, ErrUnsupportedType)
	}

	maxDim := p.MaxDimension
	if maxDim <= 0 {
		maxDim = defaultMaxDimension
	}
	img := src
	if b := src.Bounds(); b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(src, maxDim, maxDim, imaging.Lanczos)
	}

	quality := p.Quality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flatten(img), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Image{}, fmt.Errorf("encode jpeg: %w", err)
	}
	b := img.Bounds()
	return Image{Data: buf.Bytes(), ContentType: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

// flatten composites transparent images on white so JPEG output does not
// turn transparent areas black.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), image.White.C)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
