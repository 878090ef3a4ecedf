package extract

import (
	"context"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
)

// fakeProcessorService records calls and replays queued errors before
// answering from its fields.
type fakeProcessorService struct {
	doc        *documentaipb.Document
	processors []*documentaipb.Processor
	version    *documentaipb.ProcessorVersion
	versionErr error
	errs       []error

	calls   []string
	got     struct{ name, mimeType string; data []byte }
	deleted []string
	closed  bool
}

func (f *fakeProcessorService) next(call string) error {
	f.calls = append(f.calls, call)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeProcessorService) Process(_ context.Context, name string, data []byte, mimeType string) (*documentaipb.Document, error) {
	if err := f.next("process " + name); err != nil {
		return nil, err
	}
	f.got.name, f.got.data, f.got.mimeType = name, data, mimeType
	return f.doc, nil
}

func (f *fakeProcessorService) ListProcessors(_ context.Context, parent string) ([]*documentaipb.Processor, error) {
	if err := f.next("list " + parent); err != nil {
		return nil, err
	}
	return f.processors, nil
}

func (f *fakeProcessorService) GetProcessor(_ context.Context, name string) (*documentaipb.Processor, error) {
	if err := f.next("get " + name); err != nil {
		return nil, err
	}
	for _, p := range f.processors {
		if p.GetName() == name {
			return p, nil
		}
	}
	return nil, status.Error(codes.NotFound, "processor not found")
}

func (f *fakeProcessorService) GetProcessorVersion(_ context.Context, name string) (*documentaipb.ProcessorVersion, error) {
	f.calls = append(f.calls, "version "+name)
	return f.version, f.versionErr
}

func (f *fakeProcessorService) DeleteProcessor(_ context.Context, name string) error {
	if err := f.next("delete " + name); err != nil {
		return err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeProcessorService) Close() error {
	f.closed = true
	return nil
}

func newTestDocumentAI(svc *fakeProcessorService) *DocumentAI {
	retry := resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return newDocumentAI(svc, config.DocumentAIConfig{ProjectID: "proj", Location: "eu"}, retry)
}

func testDocument() *documentaipb.Document {
	return &documentaipb.Document{
		Text: "PO 4500012345\nWidget 2 x 10.00",
		Entities: []*documentaipb.Document_Entity{
			{Type: "po_number", MentionText: "4500012345", Confidence: 0.9},
			{Type: "po_date", NormalizedValue: &documentaipb.Document_Entity_NormalizedValue{Text: "2026-01-05"}, Confidence: 0.7},
			{Type: "lines", Confidence: 0.8, Properties: []*documentaipb.Document_Entity{
				{Type: "description", MentionText: "Widget", Confidence: 0.6},
				{Type: "quantity", MentionText: "2", Confidence: 0.8},
			}},
			{Type: "lines", Confidence: 0.85, Properties: []*documentaipb.Document_Entity{
				{Type: "description", MentionText: "Gadget", Confidence: 1.0},
			}},
		},
	}
}

func customProcessor(id, display string, state documentaipb.Processor_State) *documentaipb.Processor {
	return &documentaipb.Processor{
		Name:        "projects/proj/locations/eu/processors/" + id,
		Type:        customExtractionType,
		DisplayName: display,
		State:       state,
	}
}

func TestDocumentAI_Process(t *testing.T) {
	svc := &fakeProcessorService{doc: testDocument()}
	d := newTestDocumentAI(svc)

	ext, err := d.Process(context.Background(), "abc", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "projects/proj/locations/eu/processors/abc", svc.got.name)
	assert.Equal(t, "application/pdf", svc.got.mimeType)
	assert.Equal(t, "%PDF", string(svc.got.data))

	assert.Equal(t, []string{"po_number", "po_date", "lines"}, ext.Fields.Names())

	po, _ := ext.Fields.Get("po_number")
	assert.False(t, po.Repeated)
	assert.Equal(t, "4500012345", po.Node().Value)
	assert.Equal(t, "po_number", po.Node().Type)
	assert.InDelta(t, 0.9, po.Node().Confidence, 1e-6)

	date, _ := ext.Fields.Get("po_date")
	assert.Equal(t, "2026-01-05", date.Node().Value)

	lines, _ := ext.Fields.Get("lines")
	require.True(t, lines.Repeated)
	require.Len(t, lines.Nodes, 2)
	assert.Equal(t, "Widget", lines.Nodes[0].Properties[0].Value)
	assert.Equal(t, "quantity", lines.Nodes[0].Properties[1].Name)

	// leaves: 0.9, 0.7, 0.6, 0.8, 1.0
	assert.InDelta(t, 0.8, ext.Confidence, 1e-6)
	assert.Contains(t, ext.RawText, "PO 4500012345")
}

func TestDocumentAI_Process_FullResourceName(t *testing.T) {
	svc := &fakeProcessorService{doc: &documentaipb.Document{}}
	d := newTestDocumentAI(svc)

	ext, err := d.Process(context.Background(), "projects/other/locations/us/processors/xyz", nil, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "projects/other/locations/us/processors/xyz", svc.got.name)
	assert.Zero(t, ext.Fields.Len())
	assert.Zero(t, ext.Confidence)
}

func TestDocumentAI_Process_RetriesTransient(t *testing.T) {
	svc := &fakeProcessorService{
		doc:  testDocument(),
		errs: []error{status.Error(codes.Unavailable, "backend unavailable")},
	}
	d := newTestDocumentAI(svc)

	_, err := d.Process(context.Background(), "abc", []byte("x"), "application/pdf")
	require.NoError(t, err)
	assert.Len(t, svc.calls, 2)
}

func TestDocumentAI_Process_PermanentError(t *testing.T) {
	svc := &fakeProcessorService{
		errs: []error{status.Error(codes.InvalidArgument, "Unsupported input file format.")},
	}
	d := newTestDocumentAI(svc)

	_, err := d.Process(context.Background(), "abc", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Len(t, svc.calls, 1)

	var extErr *Error
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "process", extErr.Op)
	assert.Equal(t, "projects/proj/locations/eu/processors/abc", extErr.Processor)
	assert.Equal(t, http.StatusBadRequest, extErr.StatusCode)
	assert.Contains(t, err.Error(), "Unsupported input file format")
}

func TestDocumentAI_ListProcessors(t *testing.T) {
	ocr := customProcessor("ocr", "OCR", documentaipb.Processor_ENABLED)
	ocr.Type = "OCR_PROCESSOR"
	svc := &fakeProcessorService{processors: []*documentaipb.Processor{
		customProcessor("a", "PO", documentaipb.Processor_ENABLED),
		ocr,
		customProcessor("b", "Invoice", documentaipb.Processor_DISABLED),
	}}
	d := newTestDocumentAI(svc)

	procs, err := d.ListProcessors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"list projects/proj/locations/eu"}, svc.calls)
	require.Len(t, procs, 2)
	assert.Equal(t, Processor{
		ID:          "projects/proj/locations/eu/processors/a",
		DisplayName: "PO",
		State:       "ENABLED",
		Type:        customExtractionType,
	}, procs[0])
	assert.Equal(t, "DISABLED", procs[1].State)
}

func TestDocumentAI_DescribeProcessor(t *testing.T) {
	p := customProcessor("a", "PO", documentaipb.Processor_ENABLED)
	p.DefaultProcessorVersion = p.Name + "/processorVersions/v1"
	svc := &fakeProcessorService{
		processors: []*documentaipb.Processor{p},
		version: &documentaipb.ProcessorVersion{
			DocumentSchema: &documentaipb.DocumentSchema{
				EntityTypes: []*documentaipb.DocumentSchema_EntityType{
					{
						Name:      "custom_extraction_document_type",
						BaseTypes: []string{"document"},
						Properties: []*documentaipb.DocumentSchema_EntityType_Property{
							{Name: "po_number", ValueType: "string", OccurrenceType: documentaipb.DocumentSchema_EntityType_Property_REQUIRED_ONCE},
							{Name: "lines", ValueType: "lines", OccurrenceType: documentaipb.DocumentSchema_EntityType_Property_OPTIONAL_MULTIPLE},
						},
					},
					{
						Name:       "lines",
						BaseTypes:  []string{"object"},
						Properties: []*documentaipb.DocumentSchema_EntityType_Property{{Name: "quantity"}},
					},
				},
			},
		},
	}
	d := newTestDocumentAI(svc)

	schema, err := d.DescribeProcessor(context.Background(), "a")
	require.NoError(t, err)
	assert.Contains(t, svc.calls, "version "+p.DefaultProcessorVersion)
	assert.Equal(t, p.DefaultProcessorVersion, schema.DefaultVersion)
	require.Len(t, schema.Fields, 3)
	assert.Equal(t, SchemaField{Name: "po_number", DisplayName: "po_number", ValueType: "string", Occurrence: "REQUIRED_ONCE"}, schema.Fields[0])
	assert.Equal(t, "OPTIONAL_MULTIPLE", schema.Fields[1].Occurrence)
	assert.Equal(t, SchemaField{Name: "quantity", DisplayName: "quantity", ValueType: "string", Occurrence: "OPTIONAL_ONCE", Parent: "lines"}, schema.Fields[2])
}

func TestDocumentAI_DescribeProcessor_SchemaMissing(t *testing.T) {
	p := customProcessor("a", "PO", documentaipb.Processor_ENABLED)
	p.DefaultProcessorVersion = p.Name + "/processorVersions/v1"
	svc := &fakeProcessorService{
		processors: []*documentaipb.Processor{p},
		versionErr: status.Error(codes.PermissionDenied, "no access"),
	}
	d := newTestDocumentAI(svc)

	schema, err := d.DescribeProcessor(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "PO", schema.DisplayName)
	assert.Empty(t, schema.Fields)
}

func TestDocumentAI_DescribeProcessor_NotFound(t *testing.T) {
	d := newTestDocumentAI(&fakeProcessorService{})

	_, err := d.DescribeProcessor(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownProcessor)
	var extErr *Error
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, http.StatusNotFound, extErr.StatusCode)
}

func TestDocumentAI_DeleteProcessor(t *testing.T) {
	svc := &fakeProcessorService{
		errs: []error{status.Error(codes.ResourceExhausted, "quota")},
	}
	d := newTestDocumentAI(svc)

	require.NoError(t, d.DeleteProcessor(context.Background(), "a"))
	assert.Equal(t, []string{"projects/proj/locations/eu/processors/a"}, svc.deleted)
	assert.Len(t, svc.calls, 2)
}

func TestDocumentAI_DeleteProcessor_Errors(t *testing.T) {
	svc := &fakeProcessorService{errs: []error{status.Error(codes.NotFound, "no such processor")}}
	d := newTestDocumentAI(svc)

	err := d.DeleteProcessor(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrUnknownProcessor)
	assert.Empty(t, svc.deleted)

	svc = &fakeProcessorService{errs: []error{status.Error(codes.FailedPrecondition, "processor is in use")}}
	d = newTestDocumentAI(svc)
	err = d.DeleteProcessor(context.Background(), "busy")
	var extErr *Error
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "delete processor", extErr.Op)
	assert.Len(t, svc.calls, 1)
}

func TestDocumentAI_Close(t *testing.T) {
	svc := &fakeProcessorService{}
	require.NoError(t, newTestDocumentAI(svc).Close())
	assert.True(t, svc.closed)
}

func TestNewDocumentAI_RequiresProject(t *testing.T) {
	_, err := NewDocumentAI(context.Background(), config.DocumentAIConfig{}, resilience.DefaultRetryConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id is required")
}
