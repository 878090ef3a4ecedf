package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
)

// poForest is the purchase order used across sink tests.
func poForest() model.Forest {
	var f model.Forest
	f.Set("po_number", model.Single(model.Field{Name: "po_number", Value: "4500012345", Confidence: 0.9}))
	f.Set("vendor", model.Single(model.Field{Name: "vendor", Value: "ACME", Properties: []model.Field{
		{Name: "name", Value: "ACME GmbH"},
		{Name: "address", Properties: []model.Field{{Name: "city", Value: "Berlin"}}},
	}}))
	f.Set("lines", model.List(
		model.Field{Name: "lines", Properties: []model.Field{
			{Name: "description", Value: "Widget"},
			{Name: "quantity", Value: "2"},
		}},
		model.Field{Name: "lines", Value: "free text line"},
	))
	return f
}

func TestBuildPayload(t *testing.T) {
	p := BuildPayload(poForest(), "po.pdf")

	assert.Equal(t, "po.pdf", p.SourceFilename)
	assert.Equal(t, map[string]any{
		"po_number": "4500012345",
		"vendor": map[string]any{
			"value":   "ACME",
			"name":    "ACME GmbH",
			"address": map[string]any{"city": "Berlin"},
		},
	}, p.Header)
	assert.Equal(t, map[string][]map[string]any{
		"lines": {
			{"description": "Widget", "quantity": "2"},
			{"value": "free text line"},
		},
	}, p.LineItems)
}

func TestBuildPayload_Empty(t *testing.T) {
	p := BuildPayload(model.Forest{}, "")
	assert.Empty(t, p.Header)
	assert.Empty(t, p.LineItems)
	assert.NotNil(t, p.Header)
	assert.NotNil(t, p.LineItems)
}

func TestMock_Send(t *testing.T) {
	m := NewMock(0)
	m.newID = func() string { return "0a1b2c3d-4e5f-6789-abcd-ef0123456789" }

	r, err := m.Send(context.Background(), poForest(), "po.pdf")
	require.NoError(t, err)
	assert.Equal(t, "SAP-0A1B2C3D", r.DocumentID)
	assert.Equal(t, StatusCreated, r.Status)
	assert.Contains(t, r.Message, "po.pdf")
}

func TestMock_Send_FormatOfRealIDs(t *testing.T) {
	r, err := NewMock(0).Send(context.Background(), poForest(), "po.pdf")
	require.NoError(t, err)
	assert.Regexp(t, `^SAP-[0-9A-F]{8}$`, r.DocumentID)
}

func TestMock_Send_LatencyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMock(time.Hour).Send(ctx, poForest(), "po.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNone_Send(t *testing.T) {
	_, err := None{}.Send(context.Background(), poForest(), "po.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotImplemented)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Permanent)
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "sink http: status 400: bad", (&Error{Driver: "http", StatusCode: 400, Err: errors.New("bad")}).Error())
	assert.Equal(t, "sink mock: x", (&Error{Driver: "mock", Err: errors.New("x")}).Error())
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		want    any
		wantErr string
	}{
		{name: "default", mutate: func(*config.Config) {}, want: &Mock{}},
		{name: "none", mutate: func(c *config.Config) { c.Sink.Driver = "none" }, want: None{}},
		{name: "http", mutate: func(c *config.Config) { c.Sink.Driver = "http"; c.Sink.URL = "http://erp.local/po" }, want: &HTTPSink{}},
		{name: "http without url", mutate: func(c *config.Config) { c.Sink.Driver = "http" }, wantErr: "sink.url is required"},
		{name: "salesforce without key", mutate: func(c *config.Config) {
			c.Sink.Driver = "salesforce"
			c.Salesforce.KeyPath = "/nonexistent/key.pem"
		}, wantErr: "read salesforce JWT private key"},
		{name: "unknown", mutate: func(c *config.Config) { c.Sink.Driver = "sap" }, wantErr: `unknown driver "sap"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			tt.mutate(cfg)
			s, err := New(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}
}
