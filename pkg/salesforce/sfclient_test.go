package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSFClient creates an sfClient backed by an httptest server.
func newTestSFClient(t *testing.T, handler http.Handler, opts ...ClientOption) (Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)

	sf, err := gosf.Init(gosf.Creds{
		AccessToken: "test-token",
		Domain:      ts.URL,
	},
		gosf.WithValidateAuthentication(false),
		gosf.WithRoundTripper(http.DefaultTransport),
	)
	require.NoError(t, err)
	require.NotNil(t, sf)

	return NewClient(sf, opts...), ts
}

func TestSFClient_InsertOne(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			assert.Contains(t, r.URL.Path, "/sobjects/Purchase_Order__c")
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "4500012345", body["po_number"])
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "a01new",
				"success": true,
				"errors":  []any{},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	id, err := client.InsertOne(context.Background(), "Purchase_Order__c", map[string]any{
		"po_number": "4500012345",
	})
	require.NoError(t, err)
	assert.Equal(t, "a01new", id)
}

func TestSFClient_InsertOne_Failure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "",
				"success": false,
				"errors":  []map[string]any{{"message": "required field missing"}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	_, err := client.InsertOne(context.Background(), "Purchase_Order__c", map[string]any{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insert Purchase_Order__c failed")
}

func TestSFClient_InsertCollection(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			assert.Contains(t, r.URL.Path, "/composite/sobjects")
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "a02x1", "success": true, "errors": []any{}},
				{"id": "", "success": false, "errors": []map[string]any{{"message": "bad quantity"}}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	results, err := client.InsertCollection(context.Background(), "Purchase_Order_Line__c", []map[string]any{
		{"description": "Widget"},
		{"description": "Gadget"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, "a02x1", results[0].ID)
	assert.Equal(t, "record 1: bad quantity", FailedResults(results))
}

func TestSFClient_InsertCollection_Empty(t *testing.T) {
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	results, err := client.InsertCollection(context.Background(), "Purchase_Order_Line__c", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSFClient_DeleteOne(t *testing.T) {
	var method, path string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	require.NoError(t, client.DeleteOne(context.Background(), "Purchase_Order__c", "a01x"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Contains(t, path, "/sobjects/Purchase_Order__c/a01x")
}

func TestSFClient_RateLimitHonoursContext(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "x", "success": true})
	})
	client, ts := newTestSFClient(t, handler, WithRateLimit(0.001))
	defer ts.Close()

	// The first call consumes the burst.
	_, err := client.InsertOne(context.Background(), "Purchase_Order__c", map[string]any{"a": 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.InsertOne(ctx, "Purchase_Order__c", map[string]any{"a": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: rate limit")
}

func TestFailedResults_AllOK(t *testing.T) {
	assert.Empty(t, FailedResults([]CollectionResult{{ID: "1", Success: true}}))
}
