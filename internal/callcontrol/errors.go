package callcontrol

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderError carries the provider's HTTP status so callers can apply the
// retry taxonomy: 404/422 are "not yet ready" on answer/join and "already
// gone" on hangup; everything else is fatal.
type ProviderError struct {
	Status int
	Op     string
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("callcontrol: %s failed with status %d: %s", e.Op, e.Status, e.Body)
}

// IsNotReady reports whether the error is a provider "not yet registered /
// not yet answered" response.
func IsNotReady(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Status == http.StatusNotFound || pe.Status == http.StatusUnprocessableEntity
}

// IsNotFound reports a plain 404.
func IsNotFound(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Status == http.StatusNotFound
}
