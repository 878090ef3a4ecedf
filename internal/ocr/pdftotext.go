package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText writes data to a temp file and runs pdftotext -layout on it.
// Only PDFs are supported.
func (p *PdfToText) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	if mimeType != "application/pdf" {
		return "", eris.Errorf("ocr: pdftotext cannot read %s", mimeType)
	}

	f, err := os.CreateTemp("", "po-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp file")
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck
		return "", eris.Wrap(err, "ocr: write temp file")
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrap(err, "ocr: close temp file")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", f.Name(), "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed: %s", stderr.String())
	}
	return stdout.String(), nil
}
