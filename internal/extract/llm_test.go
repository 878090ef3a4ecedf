package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Victorpalkin/gcp-po-processing-demo/pkg/anthropic"
)

const testProcessors = `
processors:
  - id: purchase-order
    display_name: Purchase Order
    description: supplier purchase orders
    fields:
      - name: po_number
        description: Purchase order number
      - name: vendor
        properties:
          - name: name
          - name: vat_id
      - name: lines
        repeated: true
        properties:
          - name: description
          - name: quantity
            type: number
`

type fakeOCR struct {
	text string
	err  error
}

func (f fakeOCR) ExtractText(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type fakeClaude struct {
	reply string
	err   error
	got   anthropic.MessageRequest
}

func (f *fakeClaude) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{Text: f.reply, StopReason: "end_turn"}, nil
}

func newTestLLM(t *testing.T, ocrText string, claude *fakeClaude) *LLMExtractor {
	t.Helper()
	defs, err := ParseProcessors([]byte(testProcessors))
	require.NoError(t, err)
	e, err := NewLLMExtractor(defs, fakeOCR{text: ocrText}, claude, "claude-sonnet-4-5-20250929", 0)
	require.NoError(t, err)
	return e
}

func TestLLMExtractor_Process(t *testing.T) {
	claude := &fakeClaude{reply: "```json\n" + `{
	  "lines": [
	    {"value": "", "confidence": 0.5, "properties": [{"name": "description", "value": "Widget", "confidence": 0.9}]},
	    {"value": "", "properties": [{"name": "quantity", "value": "3", "confidence": 0.7}]}
	  ],
	  "po_number": {"value": "4500012345", "confidence": 0.8},
	  "vendor": {"value": "ACME", "confidence": 0.6, "properties": [{"name": "name", "value": "ACME GmbH", "confidence": 0.6}]}
	}` + "\n```"}
	e := newTestLLM(t, "PURCHASE ORDER 4500012345", claude)

	ext, err := e.Process(context.Background(), "purchase-order", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)

	// Definition order, not model order.
	assert.Equal(t, []string{"po_number", "vendor", "lines"}, ext.Fields.Names())

	po, _ := ext.Fields.Get("po_number")
	assert.Equal(t, "po_number", po.Node().Name)
	assert.Equal(t, "po_number", po.Node().Type)
	assert.Equal(t, "4500012345", po.Node().Value)

	vendor, _ := ext.Fields.Get("vendor")
	require.Len(t, vendor.Node().Properties, 1)
	assert.Equal(t, "name", vendor.Node().Properties[0].Type)

	lines, _ := ext.Fields.Get("lines")
	require.True(t, lines.Repeated)
	assert.Len(t, lines.Nodes, 2)

	// leaves: 0.8, 0.6, 0.9, 0.7
	assert.InDelta(t, 0.75, ext.Confidence, 1e-9)
	assert.Equal(t, "PURCHASE ORDER 4500012345", ext.RawText)

	assert.Equal(t, "claude-sonnet-4-5-20250929", claude.got.Model)
	assert.Equal(t, int64(4096), claude.got.MaxTokens)
	assert.Contains(t, claude.got.System, "- lines (repeated)")
	assert.Contains(t, claude.got.System, "  - vat_id")
	assert.Contains(t, claude.got.Prompt, "PURCHASE ORDER 4500012345")
}

func TestLLMExtractor_Process_SingleLineItemStaysList(t *testing.T) {
	claude := &fakeClaude{reply: `{"lines": [{"value": "one"}]}`}
	e := newTestLLM(t, "text", claude)

	ext, err := e.Process(context.Background(), "purchase-order", nil, "image/png")
	require.NoError(t, err)
	lines, _ := ext.Fields.Get("lines")
	assert.True(t, lines.Repeated)
	assert.Len(t, lines.Nodes, 1)
}

func TestLLMExtractor_Process_Errors(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		ocr     fakeOCR
		claude  *fakeClaude
		wantOp  string
		wantErr string
	}{
		{name: "unknown processor", id: "invoice", ocr: fakeOCR{text: "x"}, claude: &fakeClaude{},
			wantOp: "process", wantErr: "unknown processor"},
		{name: "ocr failure", id: "purchase-order", ocr: fakeOCR{err: errors.New("pdftotext failed")}, claude: &fakeClaude{},
			wantOp: "ocr", wantErr: "pdftotext failed"},
		{name: "empty text", id: "purchase-order", ocr: fakeOCR{text: "  \n"}, claude: &fakeClaude{},
			wantOp: "ocr", wantErr: "no text found"},
		{name: "api failure", id: "purchase-order", ocr: fakeOCR{text: "x"}, claude: &fakeClaude{err: errors.New("overloaded")},
			wantOp: "process", wantErr: "overloaded"},
		{name: "no json", id: "purchase-order", ocr: fakeOCR{text: "x"}, claude: &fakeClaude{reply: "I cannot read this."},
			wantOp: "process", wantErr: "no JSON object"},
		{name: "unknown field", id: "purchase-order", ocr: fakeOCR{text: "x"}, claude: &fakeClaude{reply: `{"total": {"value": "1"}}`},
			wantOp: "process", wantErr: "does not match schema"},
		{name: "list for single field", id: "purchase-order", ocr: fakeOCR{text: "x"}, claude: &fakeClaude{reply: `{"po_number": [{"value": "1"}]}`},
			wantOp: "process", wantErr: "does not match schema"},
		{name: "confidence out of range", id: "purchase-order", ocr: fakeOCR{text: "x"}, claude: &fakeClaude{reply: `{"po_number": {"value": "1", "confidence": 7}}`},
			wantOp: "process", wantErr: "does not match schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := ParseProcessors([]byte(testProcessors))
			require.NoError(t, err)
			e, err := NewLLMExtractor(defs, tt.ocr, tt.claude, "m", 100)
			require.NoError(t, err)

			_, err = e.Process(context.Background(), tt.id, []byte("x"), "application/pdf")
			require.Error(t, err)
			var extErr *Error
			require.ErrorAs(t, err, &extErr)
			assert.Equal(t, tt.wantOp, extErr.Op)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLLMExtractor_Processors(t *testing.T) {
	e := newTestLLM(t, "", &fakeClaude{})

	procs, err := e.ListProcessors(context.Background())
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, Processor{ID: "purchase-order", DisplayName: "Purchase Order", State: "ENABLED", Type: "LLM_EXTRACTION"}, procs[0])

	schema, err := e.DescribeProcessor(context.Background(), "purchase-order")
	require.NoError(t, err)
	names := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"po_number", "vendor", "name", "vat_id", "lines", "description", "quantity"}, names)
	assert.Equal(t, "OPTIONAL_MULTIPLE", schema.Fields[4].Occurrence)
	assert.Equal(t, "lines", schema.Fields[6].Parent)
	assert.Equal(t, "number", schema.Fields[6].ValueType)

	_, err = e.DescribeProcessor(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownProcessor)
}

func TestLLMExtractor_DeleteProcessor(t *testing.T) {
	e := newTestLLM(t, "", &fakeClaude{})

	err := e.DeleteProcessor(context.Background(), "purchase-order")
	var extErr *Error
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "delete processor", extErr.Op)
	assert.ErrorIs(t, err, ErrReadOnlyProcessors)

	procs, err := e.ListProcessors(context.Background())
	require.NoError(t, err)
	assert.Len(t, procs, 1)

	assert.ErrorIs(t, e.DeleteProcessor(context.Background(), "missing"), ErrUnknownProcessor)
}

func TestParseProcessors_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", `processors: []`, "no processors"},
		{"no id", "processors:\n  - display_name: x\n    fields: [{name: a}]", "without id"},
		{"duplicate", "processors:\n  - id: a\n    fields: [{name: x}]\n  - id: a\n    fields: [{name: x}]", `duplicate processor "a"`},
		{"no fields", "processors:\n  - id: a", "has no fields"},
		{"repeated field", "processors:\n  - id: a\n    fields: [{name: x}, {name: x}]", `repeats field "x"`},
		{"bad yaml", "processors: [", "parse processors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProcessors([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadProcessors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testProcessors), 0o644))

	defs, err := LoadProcessors(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.True(t, defs[0].Fields[2].Repeated)
}

func TestJSONObject(t *testing.T) {
	assert.Equal(t, `{"a": {"b": 1}}`, jsonObject("Here you go:\n```json\n{\"a\": {\"b\": 1}}\n```"))
	assert.Empty(t, jsonObject("none"))
	assert.Empty(t, jsonObject("} {"))
}
