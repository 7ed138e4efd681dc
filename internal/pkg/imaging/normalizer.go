package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ErrNotImage is returned for payloads that cannot be decoded as an image.
var ErrNotImage = errors.New("payload is not a supported image")

// Config for upload normalization
type Config struct {
	MaxDimension int // Longest side after downscale (default 2560)
	Quality      int // JPEG quality 1-100 (default 85)
}

// DefaultConfig returns default normalization config
func DefaultConfig() Config {
	return Config{
		MaxDimension: 2560,
		Quality:      85,
	}
}

// Image is a normalized upload.
type Image struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
}

// Normalizer applies EXIF orientation and downscales oversized photos so the
// similarity scorer always sees upright images.
type Normalizer struct {
	config Config
}

// NewNormalizer creates image normalizer
func NewNormalizer(config Config) *Normalizer {
	def := DefaultConfig()
	if config.MaxDimension <= 0 {
		config.MaxDimension = def.MaxDimension
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = def.Quality
	}
	return &Normalizer{config: config}
}

// Normalize decodes data and returns the upload-ready image.
// GIFs are passed through untouched to keep animation.
func (n *Normalizer) Normalize(data []byte) (*Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	if format == "gif" {
		return &Image{Data: data, ContentType: "image/gif", Ext: ".gif", Width: cfg.Width, Height: cfg.Height}, nil
	}
	if format != "jpeg" && format != "png" {
		return nil, fmt.Errorf("%w: format %s", ErrNotImage, format)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	bounds := img.Bounds()
	resized := bounds.Dx() > n.config.MaxDimension || bounds.Dy() > n.config.MaxDimension
	if resized {
		img = imaging.Fit(img, n.config.MaxDimension, n.config.MaxDimension, imaging.Lanczos)
	}

	// PNG carries no orientation tag; re-encode only when the size changed.
	if format == "png" && !resized {
		return &Image{Data: data, ContentType: "image/png", Ext: ".png", Width: cfg.Width, Height: cfg.Height}, nil
	}

	var buf bytes.Buffer
	out := &Image{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	if format == "png" {
		err = imaging.Encode(&buf, img, imaging.PNG)
		out.ContentType, out.Ext = "image/png", ".png"
	} else {
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.config.Quality))
		out.ContentType, out.Ext = "image/jpeg", ".jpg"
	}
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	out.Data = buf.Bytes()
	return out, nil
}
