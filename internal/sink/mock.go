package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// Mock simulates the ERP and returns SAP-style document numbers.
type Mock struct {
	latency time.Duration
	newID   func() string
}

// NewMock creates a mock sink that waits latency before answering.
func NewMock(latency time.Duration) *Mock {
	return &Mock{latency: latency, newID: uuid.NewString}
}

func (m *Mock) Send(ctx context.Context, forest model.Forest, filename string) (*Receipt, error) {
	payload := BuildPayload(forest, filename)
	zap.L().Info("mock sap: sending purchase order",
		zap.String("filename", filename),
		zap.Int("header_fields", len(payload.Header)),
		zap.Int("line_groups", len(payload.LineItems)),
	)

	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &Error{Driver: "mock", Err: ctx.Err()}
		case <-timer.C:
		}
	}

	id := strings.ToUpper(strings.ReplaceAll(m.newID(), "-", ""))
	docNumber := "SAP-" + id[:8]
	zap.L().Info("mock sap: created document", zap.String("document_id", docNumber))

	return &Receipt{
		DocumentID: docNumber,
		Status:     StatusCreated,
		Message:    fmt.Sprintf("Mock SAP document %s created for %s.", docNumber, filename),
	}, nil
}
