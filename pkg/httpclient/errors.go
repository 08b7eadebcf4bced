package httpclient

import (
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of an error response body is kept.
const maxErrorBody = 4 << 10

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Upstream   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s responded %d", e.Upstream, e.StatusCode)
	}
	return fmt.Sprintf("%s responded %d: %s", e.Upstream, e.StatusCode, e.Body)
}

// Temporary reports whether retrying later could succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// CheckResponse returns nil for 2xx responses. Otherwise it drains and
// closes the body and returns a *StatusError.
func CheckResponse(resp *http.Response, upstream string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Upstream: upstream, StatusCode: resp.StatusCode, Body: string(body)}
}
