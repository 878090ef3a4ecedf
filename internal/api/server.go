// Package api exposes the extraction workflow over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/extract"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/metrics"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/pipeline"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/review"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/store"
)

// maxUploadBytes bounds one multipart upload request.
const maxUploadBytes = 64 << 20

// Service is the workflow the API drives. *pipeline.Service implements it.
type Service interface {
	ProcessBatch(ctx context.Context, processorID, displayName string, docs []pipeline.Document) []pipeline.Result
	Record(ctx context.Context, id string) (*model.Record, error)
	Table(ctx context.Context, id string) (review.Table, error)
	Review(ctx context.Context, id string, edits review.Edits, expectedVersion int64) (*model.Record, error)
	Send(ctx context.Context, id string, edits review.Edits, opts pipeline.SendOptions) (*pipeline.SendResult, error)
	DocumentURL(ctx context.Context, id string, ttl time.Duration) (string, error)
	Records(ctx context.Context, filter store.Filter) ([]model.Record, error)
	Count(ctx context.Context, filter store.Filter) (int, error)
	Stats(ctx context.Context) (*model.Stats, error)
	Processors(ctx context.Context) ([]extract.Processor, error)
	Processor(ctx context.Context, id string) (*extract.ProcessorSchema, error)
	DeleteProcessor(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers.
type Server struct {
	svc Service
}

// NewRouter builds the chi router for svc. corsOrigins empty allows any
// origin.
func NewRouter(svc Service, corsOrigins []string) http.Handler {
	s := &Server{svc: svc}
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/processors", s.listProcessors)
		r.Get("/processors/*", s.describeProcessor)
		r.Delete("/processors/*", s.deleteProcessor)
		r.Post("/documents", s.uploadDocuments)
		r.Get("/records", s.listRecords)
		r.Get("/records/{id}", s.getRecord)
		r.Get("/records/{id}/table", s.getTable)
		r.Post("/records/{id}/review", s.reviewRecord)
		r.Post("/records/{id}/send", s.sendRecord)
		r.Get("/records/{id}/document", s.documentRedirect)
		r.Get("/stats", s.stats)
		r.Get("/export.xlsx", s.exportXLSX)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
