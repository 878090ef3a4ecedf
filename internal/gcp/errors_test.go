package gcp

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 0},
		{"googleapi", &googleapi.Error{Code: http.StatusForbidden}, http.StatusForbidden},
		{"wrapped googleapi", eris.Wrap(&googleapi.Error{Code: http.StatusServiceUnavailable}, "upload"), http.StatusServiceUnavailable},
		{"grpc not found", status.Error(codes.NotFound, "no processor"), http.StatusNotFound},
		{"grpc exhausted", status.Error(codes.ResourceExhausted, "quota"), http.StatusTooManyRequests},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad mime"), http.StatusBadRequest},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(status.Error(codes.NotFound, "x")))
	assert.True(t, IsNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, IsNotFound(status.Error(codes.Internal, "x")))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))
	assert.True(t, resilience.IsTransient(Classify(status.Error(codes.Unavailable, "down"))))
	assert.True(t, resilience.IsTransient(Classify(&googleapi.Error{Code: http.StatusTooManyRequests})))
	assert.False(t, resilience.IsTransient(Classify(status.Error(codes.InvalidArgument, "bad"))))
	assert.False(t, resilience.IsTransient(Classify(&googleapi.Error{Code: http.StatusForbidden})))

	plain := errors.New("boom")
	assert.Same(t, plain, Classify(plain))
}
