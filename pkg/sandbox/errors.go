package sandbox

import "fmt"

// NotFoundError is returned when a session id does not resolve to a running
// sandbox: either the resource never existed, already expired, or exists but
// is no longer in the running state.
type NotFoundError struct {
	SessionID string
	Reason    string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("sandbox %q %s", e.SessionID, e.Reason)
	}
	return fmt.Sprintf("sandbox %q not found", e.SessionID)
}

// ProvisioningError is returned when the underlying runtime could not start
// a new sandbox resource. It is propagated, not retried; retry policy
// belongs to the caller.
type ProvisioningError struct {
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning sandbox: %v", e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// TransportError is returned when an operation could not reach or complete
// against a resolved, live sandbox.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sandbox transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExtractionError is returned when a sandbox path does not resolve to a
// readable file, or the archive returned for it contained nothing
// extractable.
type ExtractionError struct {
	Path string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("no extractable file at %q", e.Path)
}
