package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/extract"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// Document is one uploaded file.
type Document struct {
	Filename string
	Data     []byte
	// MimeType is derived from the filename when empty.
	MimeType string
}

// Result is the outcome of processing one document of a batch.
type Result struct {
	Filename   string       `json:"filename"`
	RecordID   string       `json:"record_id,omitempty"`
	Status     model.Status `json:"status"`
	Confidence float64      `json:"confidence"`
	Fields     model.Forest `json:"fields"`
	Error      string       `json:"error,omitempty"`
}

// ProcessBatch uploads, extracts and stores each document in order. A
// failed document yields an ERROR result and nothing is persisted for it;
// the batch continues with the next document.
func (s *Service) ProcessBatch(ctx context.Context, processorID, displayName string, docs []Document) []Result {
	if displayName == "" {
		displayName = processorID
	}
	log := zap.L().With(zap.String("processor", processorID))

	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		rec, err := s.processOne(ctx, processorID, displayName, doc)
		if err != nil {
			log.Warn("pipeline: document failed", zap.String("filename", doc.Filename), zap.Error(err))
			s.metrics.DocumentProcessed(string(model.StatusError))
			results = append(results, Result{
				Filename: doc.Filename,
				Status:   model.StatusError,
				Error:    err.Error(),
			})
			continue
		}

		log.Info("pipeline: document extracted",
			zap.String("filename", doc.Filename),
			zap.String("record_id", rec.ID),
			zap.Float64("confidence", rec.Confidence),
			zap.Int("fields", rec.ExtractedData.Len()),
		)
		s.metrics.DocumentProcessed(string(model.StatusExtracted))
		results = append(results, Result{
			Filename:   doc.Filename,
			RecordID:   rec.ID,
			Status:     rec.Status,
			Confidence: rec.Confidence,
			Fields:     rec.ExtractedData,
		})
	}
	return results
}

func (s *Service) processOne(ctx context.Context, processorID, displayName string, doc Document) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: batch canceled")
	}
	if len(doc.Data) == 0 {
		return nil, eris.Errorf("pipeline: %s is empty", doc.Filename)
	}
	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = extract.MimeType(doc.Filename)
	}

	uri, err := s.blobs.Put(ctx, doc.Data, doc.Filename, mimeType)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: store upload")
	}

	start := time.Now()
	ext, err := s.extractor.Process(ctx, processorID, doc.Data, mimeType)
	s.metrics.ObserveExtraction(time.Since(start))
	if err != nil {
		s.discard(ctx, uri)
		return nil, err
	}

	rec := &model.Record{
		Filename:             doc.Filename,
		BlobURI:              uri,
		ExtractorID:          processorID,
		ExtractorDisplayName: displayName,
		Status:               model.StatusExtracted,
		ExtractedData:        ext.Fields,
		Confidence:           ext.Confidence,
		CreatedAt:            s.now().UTC(),
	}
	if _, err := s.store.Insert(ctx, rec); err != nil {
		s.discard(ctx, uri)
		return nil, err
	}
	return rec, nil
}

// discard removes an upload whose record was never created.
func (s *Service) discard(ctx context.Context, uri string) {
	if err := s.blobs.Delete(ctx, uri); err != nil {
		zap.L().Warn("pipeline: failed to remove orphaned upload", zap.String("uri", uri), zap.Error(err))
	}
}
