package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
)

func TestMimeType(t *testing.T) {
	tests := map[string]string{
		"po.pdf":       "application/pdf",
		"SCAN.PDF":     "application/pdf",
		"page.png":     "image/png",
		"photo.jpg":    "image/jpeg",
		"photo.jpeg":   "image/jpeg",
		"fax.tif":      "image/tiff",
		"fax.tiff":     "image/tiff",
		"anim.gif":     "image/gif",
		"old.bmp":      "image/bmp",
		"new.webp":     "image/webp",
		"notes.txt":    "application/octet-stream",
		"no-extension": "application/octet-stream",
	}
	for name, want := range tests {
		assert.Equal(t, want, MimeType(name), name)
	}
}

func TestError(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Op: "process", Processor: "abc", Err: cause}
	assert.Equal(t, "extract: process abc: boom", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "extract: list processors: boom", (&Error{Op: "list processors", Err: cause}).Error())
}

func TestNewExtractor_UnknownDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Extractor.Driver = "textract"
	_, err := NewExtractor(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "textract"`)
}

func TestNewExtractor_LLMMissingProcessors(t *testing.T) {
	cfg := &config.Config{}
	cfg.Extractor.Driver = "llm"
	cfg.LLM.ProcessorsFile = "/nonexistent/processors.yaml"
	_, err := NewExtractor(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read processors")
}
