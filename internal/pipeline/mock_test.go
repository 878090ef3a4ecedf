package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/extract"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/sink"
)

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Process(ctx context.Context, processorID string, data []byte, mimeType string) (*extract.Extraction, error) {
	args := m.Called(ctx, processorID, data, mimeType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extract.Extraction), args.Error(1)
}

func (m *mockExtractor) ListProcessors(ctx context.Context) ([]extract.Processor, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]extract.Processor), args.Error(1)
}

func (m *mockExtractor) DescribeProcessor(ctx context.Context, processorID string) (*extract.ProcessorSchema, error) {
	args := m.Called(ctx, processorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extract.ProcessorSchema), args.Error(1)
}

func (m *mockExtractor) DeleteProcessor(ctx context.Context, processorID string) error {
	args := m.Called(ctx, processorID)
	return args.Error(0)
}

// --- Blob Store Mock ---

type mockBlobs struct {
	mock.Mock
}

func (m *mockBlobs) Put(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	args := m.Called(ctx, data, filename, mimeType)
	return args.String(0), args.Error(1)
}

func (m *mockBlobs) Get(ctx context.Context, uri string) ([]byte, error) {
	args := m.Called(ctx, uri)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockBlobs) SignedURL(ctx context.Context, uri string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, uri, ttl)
	return args.String(0), args.Error(1)
}

func (m *mockBlobs) Delete(ctx context.Context, uri string) error {
	args := m.Called(ctx, uri)
	return args.Error(0)
}

// --- Sink Mock ---

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Send(ctx context.Context, forest model.Forest, filename string) (*sink.Receipt, error) {
	args := m.Called(ctx, forest, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sink.Receipt), args.Error(1)
}
