package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// apiError carries the HTTP status and raw body of a failed provider call.
// The raw body stays in logs and never crosses a component boundary.
type apiError struct {
	provider string
	status   int
	message  string
	body     string
}

func (e *apiError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("%s API error (HTTP %d): %s", e.provider, e.status, e.message)
	}
	return fmt.Sprintf("%s API error: %s", e.provider, e.message)
}

func newAPIError(provider string, status int, message, body string) *apiError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &apiError{provider: provider, status: status, message: message, body: body}
}

// classifyError maps transport and HTTP failures onto the router taxonomy.
// Shared by every adapter so the mapping stays in one place.
func classifyError(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}

	// Timeouts and cancellation are retriable on another attempt.
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	var api *apiError
	if errors.As(err, &api) {
		switch {
		case api.status == http.StatusUnauthorized || api.status == http.StatusForbidden:
			return KindAuth
		case api.status == http.StatusTooManyRequests:
			return KindRateLimit
		case api.status >= 500:
			return KindProviderDown
		case api.status >= 400:
			return KindInvalidRequest
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return KindRateLimit
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "permission"):
		return KindAuth
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "content policy"):
		// Policy rejections repeat identically on every provider.
		return KindInvalidRequest
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return KindProviderDown
	}
	return KindTransient
}
