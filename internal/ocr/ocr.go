// Package ocr turns uploaded documents into plain text for the LLM extractor.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
)

// Extractor extracts text content from a document.
type Extractor interface {
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
