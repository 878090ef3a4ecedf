package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/gcp"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
)

const maxV4Expiry = 7 * 24 * time.Hour

// ParseURI splits gs://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", eris.Errorf("blob: invalid GCS URI %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", eris.Errorf("blob: invalid GCS URI %q", uri)
	}
	return bucket, key, nil
}

// bucket is the part of a Cloud Storage bucket the store uses.
type bucket interface {
	Name() string
	Write(ctx context.Context, key, contentType string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	SignedURL(key string, expires time.Time) (string, error)
}

// sdkBucket adapts a storage.BucketHandle.
type sdkBucket struct {
	name   string
	handle *storage.BucketHandle
}

func (b *sdkBucket) Name() string { return b.name }

func (b *sdkBucket) Write(ctx context.Context, key, contentType string, data []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.handle.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b *sdkBucket) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := b.handle.Object(key).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close() //nolint:errcheck
	return io.ReadAll(r)
}

func (b *sdkBucket) Delete(ctx context.Context, key string) error {
	return b.handle.Object(key).Delete(ctx)
}

// SignedURL signs with the service-account key from the client credentials,
// or through the IAM signBlob API when running on Google Cloud.
func (b *sdkBucket) SignedURL(key string, expires time.Time) (string, error) {
	return b.handle.SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
}

// GCSStore keeps documents in a Cloud Storage bucket.
type GCSStore struct {
	bucket bucket
	client io.Closer
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewGCSStore authenticates with the credentials file, or Application
// Default Credentials without one.
func NewGCSStore(ctx context.Context, cfg config.BlobConfig, retry resilience.RetryConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("blob: blob.bucket is required for gcs")
	}
	opts, err := gcp.ClientOptions(ctx, cfg.CredentialsFile, "")
	if err != nil {
		return nil, eris.Wrap(err, "blob: gcs auth")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "blob: gcs client")
	}
	// Retries go through the resilience loop only.
	handle := client.Bucket(cfg.Bucket).Retryer(storage.WithPolicy(storage.RetryNever))

	s := newGCSStore(&sdkBucket{name: cfg.Bucket, handle: handle}, retry)
	s.client = client
	return s, nil
}

func newGCSStore(b bucket, retry resilience.RetryConfig) *GCSStore {
	return &GCSStore{bucket: b, retry: retry, now: time.Now}
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	key := ObjectKey(s.now(), filename)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	err := s.do(ctx, "upload", func(ctx context.Context) error {
		return s.bucket.Write(ctx, key, mimeType, data)
	})
	if err != nil {
		return "", err
	}
	return "gs://" + s.bucket.Name() + "/" + key, nil
}

func (s *GCSStore) Get(ctx context.Context, uri string) ([]byte, error) {
	key, err := s.key(uri)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.do(ctx, "download", func(ctx context.Context) error {
		var err error
		data, err = s.bucket.Read(ctx, key)
		return err
	})
	return data, err
}

func (s *GCSStore) Delete(ctx context.Context, uri string) error {
	key, err := s.key(uri)
	if err != nil {
		return err
	}
	return s.do(ctx, "delete", func(ctx context.Context) error {
		return s.bucket.Delete(ctx, key)
	})
}

// SignedURL returns a V4 signed GET URL valid for ttl (default 60 minutes,
// at most 7 days).
func (s *GCSStore) SignedURL(_ context.Context, uri string, ttl time.Duration) (string, error) {
	key, err := s.key(uri)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	if ttl > maxV4Expiry {
		ttl = maxV4Expiry
	}
	u, err := s.bucket.SignedURL(key, s.now().Add(ttl))
	if err != nil {
		return "", eris.Wrap(err, "blob: sign URL")
	}
	return u, nil
}

// key checks that uri names an object in this store's bucket.
func (s *GCSStore) key(uri string) (string, error) {
	b, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if b != s.bucket.Name() {
		return "", eris.Errorf("blob: %s is not in bucket %s", uri, s.bucket.Name())
	}
	return key, nil
}

func (s *GCSStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	retry := s.retry
	retry.OnRetry = resilience.RetryLogger("gcs", op)

	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, storage.ErrObjectNotExist), gcp.IsNotFound(err):
			return eris.Wrapf(ErrNotFound, "blob: gcs %s", op)
		default:
			return gcp.Classify(eris.Wrapf(err, "blob: gcs %s", op))
		}
	})
}
