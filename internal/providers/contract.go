package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// StatusError captures an HTTP status code from a provider response.
// Used by adapters to return structured errors that ClassifyError can inspect.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter fills RetryAfterSecs from a Retry-After header value,
// accepting both delta-seconds and HTTP-date forms.
func (e *StatusError) ParseRetryAfter(value string) {
	if value == "" {
		return
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		e.RetryAfterSecs = secs
		return
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			e.RetryAfterSecs = int(d.Seconds())
		}
	}
}
