package sink

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/pkg/salesforce"
)

// SalesforceSink creates a purchase-order header record and its line items.
type SalesforceSink struct {
	client     salesforce.Client
	object     string
	lineObject string
}

// NewSalesforce creates the sink. Line items reference the header through a
// lookup field named after the header object.
func NewSalesforce(client salesforce.Client, object, lineObject string) *SalesforceSink {
	return &SalesforceSink{client: client, object: object, lineObject: lineObject}
}

// Send inserts the header, then all line items in one collection call. When
// the line items fail the header is deleted again.
func (s *SalesforceSink) Send(ctx context.Context, forest model.Forest, filename string) (*Receipt, error) {
	payload := BuildPayload(forest, filename)

	header := map[string]any{"Source_Filename__c": payload.SourceFilename}
	for name, v := range payload.Header {
		flattenInto(header, sfName(name), v)
	}

	headerID, err := s.client.InsertOne(ctx, s.object, header)
	if err != nil {
		return nil, &Error{Driver: "salesforce", Err: err}
	}

	var lines []map[string]any
	for _, group := range sortedKeys(payload.LineItems) {
		for _, item := range payload.LineItems[group] {
			rec := map[string]any{
				s.object:        headerID,
				"Line_Group__c": group,
			}
			for name, v := range item {
				flattenInto(rec, sfName(name), v)
			}
			lines = append(lines, rec)
		}
	}

	results, err := s.client.InsertCollection(ctx, s.lineObject, lines)
	if err == nil {
		if failed := salesforce.FailedResults(results); failed != "" {
			err = eris.Errorf("line items rejected: %s", failed)
		}
	}
	if err != nil {
		s.rollback(ctx, headerID)
		return nil, &Error{Driver: "salesforce", Err: err}
	}

	return &Receipt{
		DocumentID: headerID,
		Status:     StatusCreated,
		Message:    fmt.Sprintf("Salesforce %s %s created with %d line items.", s.object, headerID, len(lines)),
	}, nil
}

func (s *SalesforceSink) rollback(ctx context.Context, headerID string) {
	if err := s.client.DeleteOne(ctx, s.object, headerID); err != nil {
		zap.L().Warn("salesforce sink: could not delete header after failed line items",
			zap.String("object", s.object),
			zap.String("id", headerID),
			zap.Error(err),
		)
	}
}

// flattenInto writes nested maps as prefix_child__c fields.
func flattenInto(dst map[string]any, key string, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		dst[key] = v
		return
	}
	base := strings.TrimSuffix(key, "__c")
	for _, child := range sortedKeys(m) {
		if child == "value" {
			dst[key] = m[child]
			continue
		}
		flattenInto(dst, base+"_"+strings.TrimSuffix(sfName(child), "__c")+"__c", m[child])
	}
}

// sfName turns a field name into a custom field API name.
func sfName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	out := strings.Trim(sb.String(), "_")
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	if out == "" {
		out = "Field"
	}
	return out + "__c"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
