package llm

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/researchgenie/ai-service/internal/domain"
)

// maxErrorBodyLen caps the provider error body carried in an error message.
const maxErrorBodyLen = 512

// transportFromStatus maps a non-200 provider response to a transport error.
// The caller supplies the already-extracted provider error message; when it is
// empty the truncated raw body is used instead.
func transportFromStatus(provider string, statusCode int, message string, header http.Header) *domain.TransportError {
	terr := &domain.TransportError{
		Service:    provider,
		StatusCode: statusCode,
		Message:    message,
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		terr.Kind = domain.KindRateLimited
		terr.RetryAfter = retryAfterHint(header)
	case statusCode >= 500:
		terr.Kind = domain.KindServerError
	default:
		terr.Kind = domain.KindClientError
	}
	return terr
}

// transportFromRequestError maps a failed HTTP round trip (no response) to a
// transport error. Context deadline expiry classifies as a timeout.
func transportFromRequestError(provider string, err error) *domain.TransportError {
	kind := domain.KindConnectionFailed
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.KindTimeout
	}
	return &domain.TransportError{
		Service: provider,
		Kind:    kind,
		Message: "request failed",
		Cause:   err,
	}
}

// retryAfterHint parses the Retry-After header as delay seconds or HTTP date.
func retryAfterHint(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// truncateErrorBody shortens a provider error body for error messages.
func truncateErrorBody(body []byte) string {
	s := string(body)
	if len(s) > maxErrorBodyLen {
		return s[:maxErrorBodyLen]
	}
	return s
}
