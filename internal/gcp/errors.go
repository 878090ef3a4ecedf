package gcp

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/resilience"
)

// HTTPStatus returns the HTTP status of a Google API error. gRPC codes are
// mapped to their HTTP equivalent. Zero means the error carries no status.
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return httpFromCode(s.Code())
	}
	return 0
}

// IsNotFound reports whether err is a 404 or NOT_FOUND from a Google API.
func IsNotFound(err error) bool {
	return HTTPStatus(err) == http.StatusNotFound
}

// Classify marks retryable Google API errors as transient for the
// resilience retry loop. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if code := HTTPStatus(err); code != 0 {
		return resilience.ClassifyStatus(err, code)
	}
	return err
}

func httpFromCode(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
