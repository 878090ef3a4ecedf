// Package sink forwards approved purchase orders to the downstream ERP.
package sink

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/config"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
	"github.com/Victorpalkin/gcp-po-processing-demo/pkg/salesforce"
)

// StatusCreated is the receipt status of a created ERP document.
const StatusCreated = "CREATED"

// Receipt acknowledges a created ERP document.
type Receipt struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// Sink sends a reviewed forest to the ERP.
type Sink interface {
	Send(ctx context.Context, forest model.Forest, filename string) (*Receipt, error)
}

// ErrNotImplemented is returned by the unconfigured sink.
var ErrNotImplemented = eris.New("live ERP integration is not configured")

// Error is returned for every failed send. Permanent errors will fail the
// same way when repeated.
type Error struct {
	Driver     string
	Permanent  bool
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("sink %s: status %d: %v", e.Driver, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sink %s: %v", e.Driver, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds the sink selected by sink.driver.
func New(cfg *config.Config) (Sink, error) {
	switch cfg.Sink.Driver {
	case "", "mock":
		return NewMock(time.Duration(cfg.Sink.MockLatencyMillis) * time.Millisecond), nil
	case "none":
		return None{}, nil
	case "http":
		if cfg.Sink.URL == "" {
			return nil, eris.New("sink: sink.url is required for the http driver")
		}
		return NewHTTP(HTTPConfig{
			URL:     cfg.Sink.URL,
			APIKey:  cfg.Sink.APIKey,
			Timeout: time.Duration(cfg.Sink.TimeoutSecs) * time.Second,
			Rate:    cfg.Sink.RateLimit,
			Breaker: resilience.CircuitBreakerFromSettings(cfg.Sink.FailureThreshold, cfg.Sink.ResetTimeoutSecs),
		}), nil
	case "salesforce":
		sf := cfg.Salesforce
		pem, err := os.ReadFile(sf.KeyPath)
		if err != nil {
			return nil, eris.Wrap(err, "sink: read salesforce JWT private key")
		}
		client, err := salesforce.Connect(sf.LoginURL, sf.Username, sf.ClientID, pem, salesforce.WithRateLimit(sf.RateLimit))
		if err != nil {
			return nil, eris.Wrap(err, "sink: salesforce")
		}
		return NewSalesforce(client, sf.Object, sf.LineObject), nil
	default:
		return nil, eris.Errorf("sink: unknown driver %q", cfg.Sink.Driver)
	}
}

// None rejects every send.
type None struct{}

func (None) Send(context.Context, model.Forest, string) (*Receipt, error) {
	return nil, &Error{Driver: "none", Permanent: true, Err: ErrNotImplemented}
}
