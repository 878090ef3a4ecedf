// Package pipeline runs documents through extraction, review and hand-off to
// the ERP sink, persisting every step in the record store.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/blob"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/extract"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/lifecycle"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/metrics"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/review"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/sink"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/store"
)

// Service wires the collaborators of the extraction workflow.
type Service struct {
	extractor extract.Extractor
	blobs     blob.Store
	store     store.Store
	sink      sink.Sink
	metrics   *metrics.Metrics

	now func() time.Time
}

// New creates a Service. m may be nil.
func New(ext extract.Extractor, blobs blob.Store, st store.Store, sk sink.Sink, m *metrics.Metrics) *Service {
	return &Service{
		extractor: ext,
		blobs:     blobs,
		store:     st,
		sink:      sk,
		metrics:   m,
		now:       time.Now,
	}
}

// SendOptions controls a send.
type SendOptions struct {
	// Force allows a SENT record to be sent again.
	Force bool
	// ExpectedVersion is the version the caller last read. Zero uses the
	// version loaded by the send itself.
	ExpectedVersion int64
}

// SendResult is the outcome of a successful send.
type SendResult struct {
	DocumentID string        `json:"document_id"`
	Status     string        `json:"status"`
	Message    string        `json:"message,omitempty"`
	Record     *model.Record `json:"record"`
}

// Record loads one record.
func (s *Service) Record(ctx context.Context, id string) (*model.Record, error) {
	return s.store.Get(ctx, id)
}

// Table renders a record for editing.
func (s *Service) Table(ctx context.Context, id string) (review.Table, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return review.Table{}, err
	}
	return review.NewSession(rec).Table(), nil
}

// Review reconciles edits into the record and stores the result as
// REVIEWED. expectedVersion zero means the version read here.
func (s *Service) Review(ctx context.Context, id string, edits review.Edits, expectedVersion int64) (*model.Record, error) {
	rec, err := s.load(ctx, id, expectedVersion)
	if err != nil {
		return nil, err
	}

	session := review.NewSession(rec)
	session.Apply(edits)
	reviewed, err := session.Reconcile()
	if err != nil {
		return nil, err
	}

	upd, err := lifecycle.Review(rec, reviewed, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, id, upd, session.Version()); err != nil {
		return nil, err
	}
	s.metrics.ReviewSaved()

	upd.Apply(rec)
	rec.Version++
	zap.L().Info("pipeline: review saved",
		zap.String("record_id", id),
		zap.Int("edited_fields", len(edits.Flat)+len(edits.Grouped)),
		zap.Int64("version", rec.Version),
	)
	return rec, nil
}

// Send reconciles edits, forwards the result to the sink and, only when
// the sink accepts it, marks the record SENT in one update. A sink error is
// returned unchanged and nothing is written.
func (s *Service) Send(ctx context.Context, id string, edits review.Edits, opts SendOptions) (*SendResult, error) {
	rec, err := s.load(ctx, id, opts.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	session := review.NewSession(rec)
	session.Apply(edits)
	reviewed, err := session.Reconcile()
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckSend(rec, opts.Force); err != nil {
		return nil, err
	}

	receipt, err := s.sink.Send(ctx, reviewed, rec.Filename)
	s.metrics.SendResult(err)
	if err != nil {
		zap.L().Warn("pipeline: send failed", zap.String("record_id", id), zap.Error(err))
		return nil, err
	}

	upd, err := lifecycle.Send(rec, reviewed, s.now(), opts.Force)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, id, upd, session.Version()); err != nil {
		zap.L().Error("pipeline: sink accepted record but store update failed",
			zap.String("record_id", id),
			zap.String("document_id", receipt.DocumentID),
			zap.Error(err),
		)
		return nil, eris.Wrapf(err, "pipeline: record %s sent as %s", id, receipt.DocumentID)
	}

	upd.Apply(rec)
	rec.Version++
	zap.L().Info("pipeline: record sent",
		zap.String("record_id", id),
		zap.String("document_id", receipt.DocumentID),
		zap.Bool("forced", opts.Force),
	)
	return &SendResult{
		DocumentID: receipt.DocumentID,
		Status:     receipt.Status,
		Message:    receipt.Message,
		Record:     rec,
	}, nil
}

// DocumentURL returns a time-limited link to the original upload. A
// non-positive ttl uses blob.DefaultSignedURLTTL.
func (s *Service) DocumentURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.BlobURI == "" {
		return "", eris.Errorf("pipeline: record %s has no stored document", id)
	}
	if ttl <= 0 {
		ttl = blob.DefaultSignedURLTTL
	}
	return s.blobs.SignedURL(ctx, rec.BlobURI, ttl)
}

// Records queries record history.
func (s *Service) Records(ctx context.Context, filter store.Filter) ([]model.Record, error) {
	return s.store.Query(ctx, filter)
}

// Count counts records matching filter, ignoring its limit and offset.
func (s *Service) Count(ctx context.Context, filter store.Filter) (int, error) {
	return s.store.Count(ctx, filter)
}

// Stats returns dashboard counts.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	return s.store.Stats(ctx)
}

// Processors lists the extraction processors documents can be sent to.
func (s *Service) Processors(ctx context.Context) ([]extract.Processor, error) {
	return s.extractor.ListProcessors(ctx)
}

// Processor describes one processor and its fields.
func (s *Service) Processor(ctx context.Context, id string) (*extract.ProcessorSchema, error) {
	return s.extractor.DescribeProcessor(ctx, id)
}

// DeleteProcessor removes a processor. Records that reference it keep
// their stored extraction.
func (s *Service) DeleteProcessor(ctx context.Context, id string) error {
	if err := s.extractor.DeleteProcessor(ctx, id); err != nil {
		return err
	}
	zap.L().Info("pipeline: processor deleted", zap.String("processor", id))
	return nil
}

func (s *Service) load(ctx context.Context, id string, expectedVersion int64) (*model.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion > 0 && rec.Version != expectedVersion {
		return nil, eris.Wrapf(store.ErrConflict, "record %s: expected version %d, found %d", id, expectedVersion, rec.Version)
	}
	return rec, nil
}

// Ping checks the record store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
