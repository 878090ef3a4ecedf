package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
)

// HTTPConfig configures an HTTPSink.
type HTTPConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Rate    float64
	Breaker resilience.CircuitBreakerConfig
}

// HTTPSink posts the payload as JSON to an ERP endpoint.
type HTTPSink struct {
	client  *http.Client
	url     string
	apiKey  string
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

type httpSinkResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// NewHTTP creates the sink. Sends are not retried; only transient failures
// count towards opening the circuit.
func NewHTTP(cfg HTTPConfig) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	breaker := cfg.Breaker
	breaker.ShouldTrip = func(err error) bool {
		var se *Error
		return !errors.As(err, &se) || !se.Permanent
	}
	breaker.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("http sink: circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	s := &HTTPSink{
		client:  &http.Client{Timeout: cfg.Timeout},
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		breaker: resilience.NewCircuitBreaker(breaker),
	}
	if cfg.Rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(int(cfg.Rate), 1))
	}
	return s
}

func (s *HTTPSink) Send(ctx context.Context, forest model.Forest, filename string) (*Receipt, error) {
	body, err := json.Marshal(BuildPayload(forest, filename))
	if err != nil {
		return nil, &Error{Driver: "http", Permanent: true, Err: eris.Wrap(err, "marshal payload")}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &Error{Driver: "http", Err: eris.Wrap(err, "rate limit")}
		}
	}

	receipt, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*Receipt, error) {
		return s.post(ctx, body)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &Error{Driver: "http", Err: err}
	}
	return receipt, err
}

func (s *HTTPSink) post(ctx context.Context, body []byte) (*Receipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Driver: "http", Permanent: true, Err: eris.Wrap(err, "create request")}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &Error{Driver: "http", Err: eris.Wrap(err, "post")}
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Driver: "http", StatusCode: resp.StatusCode, Err: eris.Wrap(err, "read response")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Driver:     "http",
			Permanent:  resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests,
			StatusCode: resp.StatusCode,
			Err:        eris.New(strings.TrimSpace(string(respBody))),
		}
	}

	var out httpSinkResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Driver: "http", Permanent: true, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "decode response")}
	}
	if out.DocumentID == "" {
		return nil, &Error{Driver: "http", Permanent: true, StatusCode: resp.StatusCode, Err: eris.New("response has no document_id")}
	}
	if out.Status == "" {
		out.Status = StatusCreated
	}
	return &Receipt{DocumentID: out.DocumentID, Status: out.Status, Message: out.Message}, nil
}
