package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/ocr"
	"github.com/Victorpalkin/gcp-po-processing-demo/pkg/anthropic"
)

const (
	llmProcessorType  = "LLM_EXTRACTION"
	llmProcessorState = "ENABLED"
)

type llmProcessor struct {
	def    ProcessorDef
	schema *jsonschema.Schema
	prompt string
}

// LLMExtractor reads document text with OCR and asks Claude to fill the
// processor's fields.
type LLMExtractor struct {
	processors map[string]*llmProcessor
	order      []string
	ocr        ocr.Extractor
	client     anthropic.Client
	model      string
	maxTokens  int64
}

// NewLLMExtractor compiles the output schema of every processor.
func NewLLMExtractor(defs []ProcessorDef, reader ocr.Extractor, client anthropic.Client, model string, maxTokens int64) (*LLMExtractor, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	e := &LLMExtractor{
		processors: make(map[string]*llmProcessor, len(defs)),
		ocr:        reader,
		client:     client,
		model:      model,
		maxTokens:  maxTokens,
	}
	for _, def := range defs {
		schemaMap := outputSchema(def)
		schema, err := compileSchema(schemaMap)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: processor %s", def.ID)
		}
		prompt, err := systemPrompt(def, schemaMap)
		if err != nil {
			return nil, err
		}
		e.processors[def.ID] = &llmProcessor{def: def, schema: schema, prompt: prompt}
		e.order = append(e.order, def.ID)
	}
	return e, nil
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, eris.Wrap(err, "marshal schema")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, eris.Wrap(err, "add schema")
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, eris.Wrap(err, "compile schema")
	}
	return schema, nil
}

func systemPrompt(def ProcessorDef, schemaMap map[string]any) (string, error) {
	schemaJSON, err := json.MarshalIndent(schemaMap, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "extract: marshal prompt schema")
	}

	var sb strings.Builder
	sb.WriteString("You extract structured data from business documents")
	if def.Description != "" {
		sb.WriteString(" (")
		sb.WriteString(def.Description)
		sb.WriteString(")")
	}
	sb.WriteString(".\n\nFields:\n")
	writeFieldList(&sb, def.Fields, "")
	sb.WriteString("\nReply with a single JSON object and nothing else. Give every field you find as ")
	sb.WriteString(`{"value": "...", "confidence": 0.0-1.0}, with sub-fields in "properties" as a list of `)
	sb.WriteString(`{"name", "value", "confidence"} objects. Repeated fields are arrays. Omit fields that are not in the document.`)
	sb.WriteString("\n\nJSON schema:\n")
	sb.Write(schemaJSON)
	return sb.String(), nil
}

func writeFieldList(sb *strings.Builder, fields []FieldDef, indent string) {
	for _, f := range fields {
		sb.WriteString(indent)
		sb.WriteString("- ")
		sb.WriteString(f.Name)
		if f.Repeated {
			sb.WriteString(" (repeated)")
		}
		if f.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(f.Description)
		}
		sb.WriteString("\n")
		writeFieldList(sb, f.Properties, indent+"  ")
	}
}

// Process runs OCR, prompts the model and validates its answer.
func (e *LLMExtractor) Process(ctx context.Context, processorID string, data []byte, mimeType string) (*Extraction, error) {
	p, ok := e.processors[processorID]
	if !ok {
		return nil, &Error{Op: "process", Processor: processorID, Err: ErrUnknownProcessor}
	}

	text, err := e.ocr.ExtractText(ctx, data, mimeType)
	if err != nil {
		return nil, &Error{Op: "ocr", Processor: processorID, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Op: "ocr", Processor: processorID, Err: eris.New("no text found in document")}
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    p.prompt,
		Prompt:    "Document text:\n\n" + text,
	})
	if err != nil {
		return nil, &Error{Op: "process", Processor: processorID, Err: err}
	}
	resp.Usage.Log(e.model, "extract")

	fields, err := p.decode(resp.Text)
	if err != nil {
		zap.L().Warn("llm: invalid extraction output",
			zap.String("processor", processorID),
			zap.String("stop_reason", resp.StopReason),
			zap.Error(err),
		)
		return nil, &Error{Op: "process", Processor: processorID, Err: err}
	}

	return &Extraction{
		Fields:     fields,
		Confidence: fields.MeanLeafConfidence(),
		RawText:    text,
	}, nil
}

// decode validates the model output and converts it into a forest in
// definition order.
func (p *llmProcessor) decode(text string) (model.Forest, error) {
	raw := jsonObject(text)
	if raw == "" {
		return model.Forest{}, eris.New("no JSON object in model output")
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return model.Forest{}, eris.Wrap(err, "unmarshal model output")
	}
	if err := p.schema.Validate(v); err != nil {
		return model.Forest{}, eris.Wrap(err, "model output does not match schema")
	}

	var got model.Forest
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		return model.Forest{}, err
	}

	var out model.Forest
	for _, def := range p.def.Fields {
		entry, ok := got.Get(def.Name)
		if !ok {
			continue
		}
		nodes := make([]model.Field, len(entry.Nodes))
		for i, n := range entry.Nodes {
			nodes[i] = nameNode(n, def)
		}
		if def.Repeated {
			out.Set(def.Name, model.List(nodes...))
		} else {
			out.Set(def.Name, model.Single(nodes[0]))
		}
	}
	return out, nil
}

// nameNode sets the name and type the model may have left out.
func nameNode(n model.Field, def FieldDef) model.Field {
	n.Name = def.Name
	n.Type = def.Name
	for i, child := range n.Properties {
		for _, cd := range def.Properties {
			if cd.Name == child.Name {
				n.Properties[i] = nameNode(child, cd)
				break
			}
		}
	}
	return n
}

// jsonObject returns the outermost {...} span of s, dropping code fences or
// prose around it.
func jsonObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// ListProcessors returns the configured processors in file order.
func (e *LLMExtractor) ListProcessors(_ context.Context) ([]Processor, error) {
	out := make([]Processor, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.processors[id].info())
	}
	return out, nil
}

// DescribeProcessor returns a processor with its field definitions.
func (e *LLMExtractor) DescribeProcessor(_ context.Context, processorID string) (*ProcessorSchema, error) {
	p, ok := e.processors[processorID]
	if !ok {
		return nil, &Error{Op: "get processor", Processor: processorID, Err: ErrUnknownProcessor}
	}
	return &ProcessorSchema{Processor: p.info(), Fields: schemaFields(p.def.Fields, "")}, nil
}

// ErrReadOnlyProcessors is wrapped by Error when deleting a processor that
// comes from the processors file.
var ErrReadOnlyProcessors = eris.New("processors are defined in the processors file and cannot be deleted")

// DeleteProcessor always fails: LLM processors are edited in the processors
// file, not through the API.
func (e *LLMExtractor) DeleteProcessor(_ context.Context, processorID string) error {
	if _, ok := e.processors[processorID]; !ok {
		return &Error{Op: "delete processor", Processor: processorID, Err: ErrUnknownProcessor}
	}
	return &Error{Op: "delete processor", Processor: processorID, Err: ErrReadOnlyProcessors}
}

func (p *llmProcessor) info() Processor {
	name := p.def.DisplayName
	if name == "" {
		name = p.def.ID
	}
	return Processor{ID: p.def.ID, DisplayName: name, State: llmProcessorState, Type: llmProcessorType}
}
