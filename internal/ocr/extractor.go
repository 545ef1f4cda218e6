// Package ocr extracts an account balance reading from a cropped screenshot
// region via optical character recognition.
package ocr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	_ "image/jpeg"

	"trading-assistant/internal/logging"
)

// ErrInvalidRegion is returned when the crop rectangle is degenerate or does
// not lie within the image bounds. This is a caller error, rejected before
// the recognition engine is invoked.
var ErrInvalidRegion = errors.New("region is empty or outside image bounds")

// Region is a crop rectangle in source-image pixel space
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the region to an image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Validate checks that the region has positive extent and fits inside bounds
func (r Region) Validate(bounds image.Rectangle) error {
	if r.Width <= 0 || r.Height <= 0 {
		return ErrInvalidRegion
	}
	if !r.Rect().In(bounds) {
		return ErrInvalidRegion
	}
	return nil
}

// Balance is an optional non-negative balance reading. Valid is false when
// recognition produced no parsable digits.
type Balance struct {
	Value float64
	Valid bool
}

// Recognizer is the external recognition engine: a PNG-encoded image in, raw
// recognized text out. Implementations must be configured for compact
// single-block numeric readouts.
type Recognizer interface {
	Recognize(pngData []byte) (string, error)
}

// Extractor crops a balance readout region, preprocesses it, and runs it
// through the recognition engine. Stateless and safe for concurrent use.
type Extractor struct {
	rec Recognizer
	log *logging.Logger
}

// NewExtractor creates an extractor backed by the given recognition engine
func NewExtractor(rec Recognizer) *Extractor {
	return &Extractor{
		rec: rec,
		log: logging.WithComponent("ocr"),
	}
}

// Extract reads the balance from the given region of the image. A single
// recognition attempt is made; callers decide whether to retry on a later
// frame. Recognition failures and unparsable text yield an absent Balance.
// The only error case is an invalid region.
func (e *Extractor) Extract(img image.Image, region Region) (Balance, error) {
	if err := region.Validate(img.Bounds()); err != nil {
		return Balance{}, err
	}

	grey := cropGreyscale(img, region.Rect())

	var buf bytes.Buffer
	if err := png.Encode(&buf, grey); err != nil {
		e.log.Error("failed to encode crop", "error", err)
		return Balance{}, nil
	}

	text, err := e.rec.Recognize(buf.Bytes())
	if err != nil {
		e.log.Debug("recognition failed", "error", err)
		return Balance{}, nil
	}

	cleaned := filterNumeric(text)
	if cleaned == "" {
		return Balance{}, nil
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || value < 0 {
		e.log.Debug("recognized text did not parse", "text", cleaned)
		return Balance{}, nil
	}

	return Balance{Value: value, Valid: true}, nil
}

// cropGreyscale crops the image to rect and converts it to a single grey
// channel; the recognition engine performs noticeably better on greyscale.
func cropGreyscale(img image.Image, rect image.Rectangle) *image.Gray {
	grey := image.NewGray(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(grey, grey.Bounds(), img, rect.Min, draw.Src)
	return grey
}

// filterNumeric keeps digit characters and the first decimal separator,
// preserving their original order; everything else is discarded.
func filterNumeric(text string) string {
	var b strings.Builder
	seenDot := false
	for _, c := range text {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.' && !seenDot:
			b.WriteRune(c)
			seenDot = true
		}
	}
	return b.String()
}

// DecodeImagePayload decodes a base64 image payload as sent by dashboard
// clients. A "data:image/png;base64," style prefix is tolerated.
func DecodeImagePayload(payload string) (image.Image, error) {
	if idx := strings.Index(payload, ","); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image data: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unable to decode image: %w", err)
	}

	return img, nil
}
