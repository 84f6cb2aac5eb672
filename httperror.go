package inferrecovery

import (
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed response body is kept as the message.
const maxErrorBody = 1024

// ErrorFromResponse converts a non-2xx provider response into a *ProviderError
// wrapping the matching sentinel, so Classify does not depend on the body
// wording. It returns nil for 2xx responses. The body is drained and closed.
func ErrorFromResponse(resp *http.Response, name string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &ProviderError{
		Name:       name,
		StatusCode: resp.StatusCode,
		Message:    msg,
		Err:        statusSentinel(resp.StatusCode),
	}
}

func statusSentinel(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrQuotaExceeded
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrModelUnavailable
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrProviderUnavailable
	}
}
