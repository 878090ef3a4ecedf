// Package blob stores uploaded source documents.
package blob

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
)

// DefaultSignedURLTTL is used when a caller passes a zero TTL.
const DefaultSignedURLTTL = 60 * time.Minute

// ErrNotFound is returned when a URI names no stored object.
var ErrNotFound = eris.New("blob not found")

// Store keeps original documents and hands out time-limited links to them.
type Store interface {
	// Put stores data under a fresh dated key and returns its URI.
	Put(ctx context.Context, data []byte, filename, mimeType string) (string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
	SignedURL(ctx context.Context, uri string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, uri string) error
}

// ObjectKey builds uploads/YYYY/MM/DD/<8 hex>_<filename>. The filename is
// reduced to its base name and NFC-normalized.
func ObjectKey(now time.Time, filename string) string {
	return objectKey(now, filename, uuid.NewString())
}

func objectKey(now time.Time, filename, id string) string {
	name := norm.NFC.String(strings.TrimSpace(filename))
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	prefix := strings.ReplaceAll(id, "-", "")
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "uploads/" + now.UTC().Format("2006/01/02") + "/" + prefix + "_" + name
}

// NewStore builds the store selected by blob.driver.
func NewStore(ctx context.Context, cfg config.BlobConfig, retry resilience.RetryConfig) (Store, error) {
	switch cfg.Driver {
	case "", "fs":
		return NewFSStore(cfg.Dir)
	case "gcs":
		return NewGCSStore(ctx, cfg, retry)
	default:
		return nil, eris.Errorf("blob: unknown driver %q", cfg.Driver)
	}
}
