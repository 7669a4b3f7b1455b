package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by any operation invoked before Init.
	ErrNotInitialized = errors.New("not initialized")

	// ErrNotFound is returned for an unknown service id.
	ErrNotFound = errors.New("service not found")
)

// ConfigurationError reports a service document that cannot be turned into a
// running service: unknown type, non-positive sample time or bad settings.
type ConfigurationError struct {
	Kind   Kind
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Kind == "" {
		return "invalid service configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid %q service configuration: %s", string(e.Kind), e.Reason)
}

// RefreshHookError wraps a failure of a service's refresh hook.
type RefreshHookError struct {
	ServiceID string
	Tick      int64
	Err       error
}

func (e *RefreshHookError) Error() string {
	return fmt.Sprintf("refresh service %s at tick %d: %v", e.ServiceID, e.Tick, e.Err)
}

func (e *RefreshHookError) Unwrap() error { return e.Err }

func configErr(kind Kind, format string, args ...any) error {
	return &ConfigurationError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}
