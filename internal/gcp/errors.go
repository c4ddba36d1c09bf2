package gcp

import (
	"context"
	"errors"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

// ClassifyEngineError wraps a model call failure as retryable or permanent.
// Throttling, unavailability and timeouts retry; malformed requests and
// permission problems do not.
func ClassifyEngineError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrExtractionPermanent) || errors.Is(err, models.ErrExtractionRetryable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.Retryable(err)
	}
	if permanentCode(grpcCode(err)) {
		return models.Permanent(err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return models.Retryable(err)
		case gerr.Code >= 400:
			return models.Permanent(err)
		}
	}
	return models.Retryable(err)
}

// IsNotFound reports whether err is a NotFound from a gRPC or HTTP API.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if grpcCode(err) == codes.NotFound {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// IsPreconditionFailed reports whether a conditional write was rejected.
func IsPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return true
	}
	code := grpcCode(err)
	return code == codes.FailedPrecondition || code == codes.AlreadyExists
}

func grpcCode(err error) codes.Code {
	var aerr *apierror.APIError
	if errors.As(err, &aerr) && aerr.GRPCStatus() != nil {
		return aerr.GRPCStatus().Code()
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}

func permanentCode(code codes.Code) bool {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied,
		codes.Unauthenticated, codes.NotFound, codes.OutOfRange, codes.Unimplemented:
		return true
	}
	return false
}
