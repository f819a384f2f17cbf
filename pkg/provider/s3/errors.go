package s3

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// classifyError maps an S3 call failure onto the error taxonomy.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFoundError(err) {
		return ferrors.NewNotFoundError("remote object", err.Error())
	}
	if isRetryableError(err) {
		return ferrors.NewProviderTransientError(ProviderID, err)
	}
	return ferrors.NewProviderRejectedError(ProviderID, err)
}

// isRetryableError returns true if the error is transient and the operation
// should be retried.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		// Throttling
		case "Throttling", "ThrottlingException", "RequestThrottled", "SlowDown",
			"ProvisionedThroughputExceededException":
			return true
		// Server errors
		case "InternalError", "ServiceUnavailable", "ServiceException",
			"InternalServiceException", "RequestTimeout":
			return true
		// Auth and request shape problems
		case "NoSuchKey", "NotFound", "NoSuchBucket", "AccessDenied", "Forbidden",
			"InvalidRequest", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"EntityTooLarge":
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "500")
}

// isNotFoundError returns true if the error indicates a missing object.
func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}

	return strings.Contains(err.Error(), "StatusCode: 404")
}
