package lagoon

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) by Provider.Fetch and Provider.Delete
// when the provider no longer knows the sandbox id.
var ErrNotFound = errors.New("sandbox not found")

// ErrSessionExists is returned (wrapped) by Provider.CreateSession when the
// named session already exists. Bootstrap treats it as success.
var ErrSessionExists = errors.New("session already exists")

// ProvisionError reports a failed remote create or start. Retrying means
// allocating again, which is the expensive path.
type ProvisionError struct {
	Op        string // "create" or "start"
	SandboxID string // empty for create failures
	Err       error
}

func (e *ProvisionError) Error() string {
	if e.SandboxID == "" {
		return fmt.Sprintf("provision: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provision: %s %s: %v", e.Op, e.SandboxID, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// BootstrapError reports a failure starting the in-sandbox supervisor
// session. The sandbox stays allocated; retrying bootstrap is cheap.
type BootstrapError struct {
	SandboxID string
	Session   string
	Err       error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("bootstrap: session %s in %s: %v", e.Session, e.SandboxID, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// DirectoryError reports a persistence failure. No partial state should be
// assumed durable when one of these surfaces.
type DirectoryError struct {
	Op     string
	UserID string
	Err    error
}

func (e *DirectoryError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("directory: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("directory: %s %s: %v", e.Op, e.UserID, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }
