package extract

import (
	"context"
	"errors"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/gcp"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
)

const customExtractionType = "CUSTOM_EXTRACTION_PROCESSOR"

// processorService is the part of the Document AI processor service used
// by DocumentAI.
type processorService interface {
	Process(ctx context.Context, name string, data []byte, mimeType string) (*documentaipb.Document, error)
	ListProcessors(ctx context.Context, parent string) ([]*documentaipb.Processor, error)
	GetProcessor(ctx context.Context, name string) (*documentaipb.Processor, error)
	GetProcessorVersion(ctx context.Context, name string) (*documentaipb.ProcessorVersion, error)
	DeleteProcessor(ctx context.Context, name string) error
	Close() error
}

// gapicService adapts the generated DocumentProcessorClient.
type gapicService struct {
	client *documentai.DocumentProcessorClient
}

func (g *gapicService) Process(ctx context.Context, name string, data []byte, mimeType string) (*documentaipb.Document, error) {
	resp, err := g.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.GetDocument(), nil
}

func (g *gapicService) ListProcessors(ctx context.Context, parent string) ([]*documentaipb.Processor, error) {
	var out []*documentaipb.Processor
	it := g.client.ListProcessors(ctx, &documentaipb.ListProcessorsRequest{Parent: parent})
	for {
		p, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
}

func (g *gapicService) GetProcessor(ctx context.Context, name string) (*documentaipb.Processor, error) {
	return g.client.GetProcessor(ctx, &documentaipb.GetProcessorRequest{Name: name})
}

func (g *gapicService) GetProcessorVersion(ctx context.Context, name string) (*documentaipb.ProcessorVersion, error) {
	return g.client.GetProcessorVersion(ctx, &documentaipb.GetProcessorVersionRequest{Name: name})
}

// DeleteProcessor starts the long-running delete and waits for it.
func (g *gapicService) DeleteProcessor(ctx context.Context, name string) error {
	op, err := g.client.DeleteProcessor(ctx, &documentaipb.DeleteProcessorRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (g *gapicService) Close() error {
	return g.client.Close()
}

// DocumentAI extracts documents with Google Document AI processors.
type DocumentAI struct {
	svc      processorService
	project  string
	location string
	retry    resilience.RetryConfig
}

// NewDocumentAI connects to the regional Document AI endpoint.
func NewDocumentAI(ctx context.Context, cfg config.DocumentAIConfig, retry resilience.RetryConfig) (*DocumentAI, error) {
	if cfg.ProjectID == "" {
		return nil, eris.New("extract: documentai.project_id is required")
	}
	location := locationOrDefault(cfg.Location)
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = location + "-documentai.googleapis.com:443"
	}
	opts, err := gcp.ClientOptions(ctx, cfg.CredentialsFile, endpoint)
	if err != nil {
		return nil, eris.Wrap(err, "extract: documentai auth")
	}
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "extract: documentai client")
	}
	return newDocumentAI(&gapicService{client: client}, cfg, retry), nil
}

func newDocumentAI(svc processorService, cfg config.DocumentAIConfig, retry resilience.RetryConfig) *DocumentAI {
	return &DocumentAI{
		svc:      svc,
		project:  cfg.ProjectID,
		location: locationOrDefault(cfg.Location),
		retry:    retry,
	}
}

func locationOrDefault(location string) string {
	if location == "" {
		return "us"
	}
	return location
}

// Close releases the gRPC connection.
func (d *DocumentAI) Close() error {
	return d.svc.Close()
}

func (d *DocumentAI) parent() string {
	return "projects/" + d.project + "/locations/" + d.location
}

// resourceName accepts either a full processor resource name or a bare id.
func (d *DocumentAI) resourceName(processorID string) string {
	if strings.HasPrefix(processorID, "projects/") {
		return processorID
	}
	return d.parent() + "/processors/" + processorID
}

// Process sends the document inline and converts the returned entities.
func (d *DocumentAI) Process(ctx context.Context, processorID string, data []byte, mimeType string) (*Extraction, error) {
	name := d.resourceName(processorID)
	doc, err := call(ctx, d, "process", name, func(ctx context.Context) (*documentaipb.Document, error) {
		return d.svc.Process(ctx, name, data, mimeType)
	})
	if err != nil {
		return nil, err
	}

	fields := entitiesToForest(doc.GetEntities())
	return &Extraction{
		Fields:     fields,
		Confidence: fields.MeanLeafConfidence(),
		RawText:    doc.GetText(),
	}, nil
}

// ListProcessors returns the custom extraction processors of the project.
func (d *DocumentAI) ListProcessors(ctx context.Context) ([]Processor, error) {
	procs, err := call(ctx, d, "list processors", "", func(ctx context.Context) ([]*documentaipb.Processor, error) {
		return d.svc.ListProcessors(ctx, d.parent())
	})
	if err != nil {
		return nil, err
	}
	var out []Processor
	for _, p := range procs {
		if p.GetType() == customExtractionType {
			out = append(out, toProcessor(p))
		}
	}
	return out, nil
}

// DescribeProcessor fetches the processor and the document schema of its
// default version. A missing schema yields a processor without fields.
func (d *DocumentAI) DescribeProcessor(ctx context.Context, processorID string) (*ProcessorSchema, error) {
	name := d.resourceName(processorID)
	p, err := call(ctx, d, "get processor", name, func(ctx context.Context) (*documentaipb.Processor, error) {
		return d.svc.GetProcessor(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	out := &ProcessorSchema{Processor: toProcessor(p), Fields: []SchemaField{}}
	if p.GetDefaultProcessorVersion() == "" {
		return out, nil
	}

	version, err := call(ctx, d, "get schema", name, func(ctx context.Context) (*documentaipb.ProcessorVersion, error) {
		return d.svc.GetProcessorVersion(ctx, p.GetDefaultProcessorVersion())
	})
	if err != nil {
		zap.L().Warn("documentai: processor schema unavailable",
			zap.String("processor", name),
			zap.Error(err),
		)
		return out, nil
	}
	out.Fields = schemaFromDocument(version.GetDocumentSchema())
	return out, nil
}

// DeleteProcessor deletes the processor and waits for the operation to
// finish.
func (d *DocumentAI) DeleteProcessor(ctx context.Context, processorID string) error {
	name := d.resourceName(processorID)
	_, err := call(ctx, d, "delete processor", name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.svc.DeleteProcessor(ctx, name)
	})
	if err == nil {
		zap.L().Info("documentai: processor deleted", zap.String("processor", name))
	}
	return err
}

// call runs fn with retries on transient failures and wraps the final error.
// NOT_FOUND wraps ErrUnknownProcessor.
func call[T any](ctx context.Context, d *DocumentAI, op, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := d.retry
	retry.OnRetry = resilience.RetryLogger("documentai", op)

	val, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		val, err := fn(ctx)
		return val, gcp.Classify(err)
	})
	if err != nil {
		cause := err
		if gcp.IsNotFound(err) {
			cause = eris.Wrap(ErrUnknownProcessor, err.Error())
		}
		return val, &Error{Op: op, Processor: name, StatusCode: gcp.HTTPStatus(err), Err: cause}
	}
	return val, nil
}

func toProcessor(p *documentaipb.Processor) Processor {
	return Processor{
		ID:             p.GetName(),
		DisplayName:    p.GetDisplayName(),
		State:          p.GetState().String(),
		Type:           p.GetType(),
		DefaultVersion: p.GetDefaultProcessorVersion(),
	}
}

// schemaFromDocument lists the properties of every entity type. Properties
// of the root document type have no parent.
func schemaFromDocument(schema *documentaipb.DocumentSchema) []SchemaField {
	fields := []SchemaField{}
	for _, et := range schema.GetEntityTypes() {
		root := false
		for _, bt := range et.GetBaseTypes() {
			if bt == "document" {
				root = true
			}
		}
		for _, prop := range et.GetProperties() {
			f := SchemaField{
				Name:        prop.GetName(),
				DisplayName: prop.GetName(),
				ValueType:   prop.GetValueType(),
				Occurrence:  prop.GetOccurrenceType().String(),
			}
			if f.ValueType == "" {
				f.ValueType = "string"
			}
			if prop.GetOccurrenceType() == documentaipb.DocumentSchema_EntityType_Property_OCCURRENCE_TYPE_UNSPECIFIED {
				f.Occurrence = "OPTIONAL_ONCE"
			}
			if !root {
				f.Parent = et.GetName()
			}
			fields = append(fields, f)
		}
	}
	return fields
}

// entitiesToForest converts top-level entities. Entity types seen more than
// once become a list in first-seen order.
func entitiesToForest(entities []*documentaipb.Document_Entity) model.Forest {
	var order []string
	byType := make(map[string][]model.Field)
	for _, e := range entities {
		if _, ok := byType[e.GetType()]; !ok {
			order = append(order, e.GetType())
		}
		byType[e.GetType()] = append(byType[e.GetType()], entityToField(e))
	}

	var f model.Forest
	for _, name := range order {
		nodes := byType[name]
		if len(nodes) == 1 {
			f.Set(name, model.Single(nodes[0]))
		} else {
			f.Set(name, model.List(nodes...))
		}
	}
	return f
}

func entityToField(e *documentaipb.Document_Entity) model.Field {
	value := e.GetMentionText()
	if value == "" {
		value = e.GetNormalizedValue().GetText()
	}
	f := model.Field{
		Name:       e.GetType(),
		Value:      value,
		Confidence: float64(e.GetConfidence()),
		Type:       e.GetType(),
	}
	for _, p := range e.GetProperties() {
		f.Properties = append(f.Properties, entityToField(p))
	}
	return f
}
