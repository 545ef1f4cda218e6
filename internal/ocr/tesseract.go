package ocr

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig holds recognition engine configuration
type TesseractConfig struct {
	TessdataPrefix string // Empty uses the system default
	Language       string // e.g. "eng"
	Whitelist      string // Characters the engine may emit
}

// TesseractRecognizer runs recognition through a local tesseract install in
// single-block page segmentation mode, which suits a compact numeric readout.
// A fresh client is created per call; gosseract clients are not safe for
// concurrent use.
type TesseractRecognizer struct {
	cfg TesseractConfig
}

// NewTesseractRecognizer creates a tesseract-backed recognizer
func NewTesseractRecognizer(cfg TesseractConfig) *TesseractRecognizer {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &TesseractRecognizer{cfg: cfg}
}

// Recognize runs a single recognition pass over the PNG image
func (t *TesseractRecognizer) Recognize(pngData []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if t.cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.cfg.TessdataPrefix); err != nil {
			return "", fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(t.cfg.Language); err != nil {
		return "", fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if t.cfg.Whitelist != "" {
		if err := client.SetWhitelist(t.cfg.Whitelist); err != nil {
			return "", fmt.Errorf("failed to set whitelist: %w", err)
		}
	}

	if err := client.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognition failed: %w", err)
	}

	return text, nil
}
