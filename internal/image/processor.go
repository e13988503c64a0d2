// Package image sanitises uploaded panoramas before they are stored.
package image

import (
	"errors"
	"fmt"
	"io"

	"github.com/h2non/bimg"
)

// ErrEmptyImage is returned when the input has no bytes.
var ErrEmptyImage = errors.New("empty image")

// ProcessorConfig holds configuration for panorama processing.
type ProcessorConfig struct {
	// Quality for JPEG encoding (1-100, default: 85)
	Quality int
	// StripMetadata removes all EXIF/metadata (default: true)
	StripMetadata bool
	// MaxWidth limits panorama width (0 = no limit). Height follows the
	// aspect ratio.
	MaxWidth int
}

// DefaultConfig returns defaults suited to equirectangular panoramas.
func DefaultConfig() ProcessorConfig {
	return ProcessorConfig{
		Quality:       85,
		StripMetadata: true,
		MaxWidth:      8192,
	}
}

// Result is a processed panorama.
type Result struct {
	Data        []byte
	Width       int
	Height      int
	ContentType string
}

// Equirectangular reports whether the panorama has the 2:1 shape a sky
// sphere expects.
func (r Result) Equirectangular() bool {
	return r.Height > 0 && r.Width == 2*r.Height
}

// Processor strips metadata from panoramas and re-encodes them as JPEG.
type Processor struct {
	config ProcessorConfig
}

// NewProcessor creates a new image processor with the given config.
func NewProcessor(config ProcessorConfig) *Processor {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = DefaultConfig().Quality
	}
	return &Processor{config: config}
}

// Process reads an image and returns it re-encoded as JPEG without EXIF
// data (camera, GPS, timestamps), downscaled to MaxWidth if wider.
func (p *Processor) Process(r io.Reader) (*Result, error) {
	input, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input image: %w", err)
	}
	if len(input) == 0 {
		return nil, ErrEmptyImage
	}

	img := bimg.NewImage(input)
	metadata, err := img.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to read image metadata: %w", err)
	}

	options := bimg.Options{
		Type:          bimg.JPEG,
		Quality:       p.config.Quality,
		StripMetadata: p.config.StripMetadata,
	}
	if p.config.MaxWidth > 0 && metadata.Size.Width > p.config.MaxWidth {
		options.Width = p.config.MaxWidth
	}

	output, err := img.Process(options)
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}

	size, err := bimg.NewImage(output).Size()
	if err != nil {
		return nil, fmt.Errorf("failed to read processed image size: %w", err)
	}

	return &Result{
		Data:        output,
		Width:       size.Width,
		Height:      size.Height,
		ContentType: "image/jpeg",
	}, nil
}

// VerifyNoEXIF checks if the image has EXIF metadata.
// Returns true if no EXIF data is present, false otherwise.
func VerifyNoEXIF(imageBytes []byte) (bool, error) {
	img := bimg.NewImage(imageBytes)
	metadata, err := img.Metadata()
	if err != nil {
		return false, fmt.Errorf("failed to read image metadata: %w", err)
	}

	exif := metadata.EXIF
	hasEXIF := exif.Make != "" || exif.Model != "" ||
		exif.GPSLatitude != "" || exif.GPSLongitude != "" ||
		exif.DateTimeOriginal != "" || exif.Software != ""

	return !hasEXIF, nil
}
