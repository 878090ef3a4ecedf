// Package extract turns uploaded documents into field forests using a remote
// extraction backend.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/ocr"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
	"github.com/Victorpalkin/gcp-po-processing-demo/pkg/anthropic"
)

// Extraction is the result of processing one document.
type Extraction struct {
	Fields     model.Forest `json:"fields"`
	Confidence float64      `json:"confidence"`
	RawText    string       `json:"raw_text"`
}

// Processor is an extraction model that documents can be sent to.
type Processor struct {
	ID             string `json:"id"`
	DisplayName    string `json:"display_name"`
	State          string `json:"state"`
	Type           string `json:"type"`
	DefaultVersion string `json:"default_version,omitempty"`
}

// SchemaField describes one field a processor extracts.
type SchemaField struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	ValueType   string `json:"value_type"`
	Occurrence  string `json:"occurrence"`
	Description string `json:"description"`
	Parent      string `json:"parent,omitempty"`
}

// ProcessorSchema is a processor together with its field definitions.
type ProcessorSchema struct {
	Processor
	Fields []SchemaField `json:"fields"`
}

// Extractor is the remote extraction service.
type Extractor interface {
	Process(ctx context.Context, processorID string, data []byte, mimeType string) (*Extraction, error)
	ListProcessors(ctx context.Context) ([]Processor, error)
	DescribeProcessor(ctx context.Context, processorID string) (*ProcessorSchema, error)
	DeleteProcessor(ctx context.Context, processorID string) error
}

// ErrUnknownProcessor is wrapped by Error when a processor id does not exist.
var ErrUnknownProcessor = eris.New("unknown processor")

// Error is returned by extractors for any failed remote operation.
// StatusCode is the HTTP equivalent of the remote status, zero when none.
type Error struct {
	Op         string
	Processor  string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Processor != "" {
		return fmt.Sprintf("extract: %s %s: %v", e.Op, e.Processor, e.Err)
	}
	return fmt.Sprintf("extract: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var mimeTypes = map[string]string{
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"webp": "image/webp",
}

// MimeType maps a filename extension to the MIME type sent to extractors.
func MimeType(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

// NewExtractor builds the extractor selected by extractor.driver.
func NewExtractor(ctx context.Context, cfg *config.Config) (Extractor, error) {
	switch cfg.Extractor.Driver {
	case "", "documentai":
		retry := resilience.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
		return NewDocumentAI(ctx, cfg.DocumentAI, retry)
	case "llm":
		procs, err := LoadProcessors(cfg.LLM.ProcessorsFile)
		if err != nil {
			return nil, err
		}
		reader, err := ocr.NewExtractor(cfg.OCR)
		if err != nil {
			return nil, eris.Wrap(err, "extract: ocr")
		}
		client := anthropic.NewClient(cfg.Anthropic.Key)
		return NewLLMExtractor(procs, reader, client, cfg.LLM.Model, cfg.LLM.MaxTokens)
	default:
		return nil, eris.Errorf("extract: unknown driver %q", cfg.Extractor.Driver)
	}
}
