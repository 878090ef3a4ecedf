package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/blob"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/db"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/extract"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/metrics"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/pipeline"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/sink"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/store"
)

// appEnv holds the initialized collaborators and the Service built on them.
type appEnv struct {
	Store   store.Store
	Service *pipeline.Service
	closers []io.Closer
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for _, c := range e.closers {
		_ = c.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// closeIfCloser closes SDK-backed collaborators on early returns.
func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "po.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the record store. Callers close it.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initService sets up the store, blob store, extractor and sink for the
// given config mode ("process" or "serve"). Callers should defer env.Close().
func initService(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	retry := resilience.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
	blobs, err := blob.NewStore(ctx, cfg.Blob, retry)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init blob store")
	}

	ext, err := extract.NewExtractor(ctx, cfg)
	if err != nil {
		closeIfCloser(blobs)
		_ = st.Close()
		return nil, eris.Wrap(err, "init extractor")
	}

	sk, err := sink.New(cfg)
	if err != nil {
		closeIfCloser(ext)
		closeIfCloser(blobs)
		_ = st.Close()
		return nil, eris.Wrap(err, "init sink")
	}

	zap.L().Debug("service initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("blob", cfg.Blob.Driver),
		zap.String("extractor", cfg.Extractor.Driver),
		zap.String("sink", cfg.Sink.Driver),
	)

	env := &appEnv{
		Store:   st,
		Service: pipeline.New(ext, blobs, st, sk, metrics.New()),
	}
	for _, v := range []any{ext, blobs} {
		if c, ok := v.(io.Closer); ok {
			env.closers = append(env.closers, c)
		}
	}
	return env, nil
}
