package lagoon

import "context"

// State is a provider-reported sandbox lifecycle state.
type State string

const (
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateArchived State = "archived"
	// StateUnknown covers error states and anything the provider reports
	// that the manager has no special handling for.
	StateUnknown State = "unknown"
)

// Instance is a provider-reported sandbox. The directory only ever holds an
// instance's ID; the provider owns the instance itself.
type Instance struct {
	ID        string
	State     State
	Previews  map[string]string // port name → public preview URL
	CreatedAt int64             // unix seconds, zero if the provider omits it
}

// PortSpec names an exposed port. The name keys the preview URL in
// [Instance.Previews] and [Handle.Previews].
type PortSpec struct {
	Name   string
	Number int
}

// Resources are the resource limits fixed at sandbox creation.
type Resources struct {
	CPU      int
	MemoryGB int
	DiskGB   int
}

// CreateSpec describes a sandbox to create.
type CreateSpec struct {
	Image     string
	Public    bool
	EnvVars   map[string]string
	Ports     []PortSpec
	Resources Resources
}

// Provider is a remote sandbox backend.
//
// Fetch returns an error wrapping [ErrNotFound] when the provider no longer
// knows the id. CreateSession returns an error wrapping [ErrSessionExists]
// when the named session is already present; callers treat that as success.
type Provider interface {
	Create(ctx context.Context, spec CreateSpec) (Instance, error)
	Fetch(ctx context.Context, sandboxID string) (Instance, error)
	Start(ctx context.Context, sandboxID string) error
	Delete(ctx context.Context, sandboxID string) error

	CreateSession(ctx context.Context, sandboxID, session string) error
	ExecSession(ctx context.Context, sandboxID, session, command string, async bool) error
}

// Record is a directory entry mapping one user to at most one sandbox.
// SandboxID is empty until a remote create has succeeded.
type Record struct {
	UserID       string
	SandboxID    string
	Credential   string
	LastActiveAt int64 // unix seconds
}

// Directory is the persistent user→sandbox mapping. All operations key on
// user id. Upsert is last-writer-wins; there is no concurrency token.
type Directory interface {
	// Get returns the record for userID. The bool is false when no record
	// exists; that is not an error.
	Get(ctx context.Context, userID string) (Record, bool, error)
	// Upsert writes rec unconditionally, replacing any existing record for
	// rec.UserID.
	Upsert(ctx context.Context, rec Record) error
	// Touch refreshes LastActiveAt for userID.
	Touch(ctx context.Context, userID string, now int64) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]Record, error)

	Init(ctx context.Context) error
	Close() error
}

// Handle is what callers receive from [Manager.Resolve]: the coordinates and
// credential needed to reach a ready sandbox. State is the last observed
// provider state; the manager does not wait for "running", so callers
// needing a hard readiness guarantee poll the previews themselves.
type Handle struct {
	SandboxID  string
	State      State
	Previews   map[string]string
	Credential string
}
