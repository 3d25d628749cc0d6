package lagoon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Defaults mirror the browser-use sandbox image this service was built
// around. Override with [WithCreateSpec] and [WithBootstrap].
const (
	DefaultImage            = "adamcohenhillel/kortix-suna:0.0.20"
	DefaultBootstrapSession = "supervisord-session"
	DefaultBootstrapCommand = "exec /usr/bin/supervisord -n -c /etc/supervisor/conf.d/supervisord.conf"

	defaultCallTimeout = 30 * time.Second
)

// DefaultCreateSpec returns the sandbox shape used when no spec is
// configured: the browser-use image with VNC, devtools, and website ports
// exposed. The VNC password env var is filled in per sandbox at create time.
func DefaultCreateSpec() CreateSpec {
	return CreateSpec{
		Image:  DefaultImage,
		Public: true,
		EnvVars: map[string]string{
			"CHROME_PERSISTENT_SESSION": "true",
			"RESOLUTION":                "1024x768x24",
			"RESOLUTION_WIDTH":          "1024",
			"RESOLUTION_HEIGHT":         "768",
			"ANONYMIZED_TELEMETRY":      "false",
			"CHROME_PATH":               "",
			"CHROME_USER_DATA":          "",
			"CHROME_DEBUGGING_PORT":     "9222",
			"CHROME_DEBUGGING_HOST":     "localhost",
			"CHROME_CDP":                "",
		},
		Ports: []PortSpec{
			{Name: "novnc", Number: 6080},
			{Name: "vnc", Number: 5900},
			{Name: "vnc-alt", Number: 5901},
			{Name: "devtools", Number: 9222},
			{Name: "website", Number: 8080},
			{Name: "browser-api", Number: 8002},
		},
		Resources: Resources{CPU: 2, MemoryGB: 4, DiskGB: 5},
	}
}

// credentialEnvVar is the env var the sandbox image reads its VNC password
// from.
const credentialEnvVar = "VNC_PASSWORD"

// Manager is the lifecycle controller: it resolves or creates the sandbox
// for a user, reconciles the remote state against "ready", and keeps the
// directory record fresh.
type Manager struct {
	provider Provider
	dir      Directory

	spec         CreateSpec
	session      string
	bootstrapCmd string
	callTimeout  time.Duration
	now          func() int64
	logger       *slog.Logger

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one in-progress Resolve shared by concurrent callers for the
// same user.
type flight struct {
	done   chan struct{}
	handle Handle
	err    error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a structured logger. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source for LastActiveAt stamps.
func WithClock(now func() int64) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithCreateSpec replaces the default sandbox shape used for new sandboxes.
func WithCreateSpec(spec CreateSpec) ManagerOption {
	return func(m *Manager) { m.spec = spec }
}

// WithCallTimeout bounds every provider and directory call (default 30s).
func WithCallTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.callTimeout = d }
}

// WithBootstrap replaces the supervisor session name and command started
// inside every new or restarted sandbox.
func WithBootstrap(session, command string) ManagerOption {
	return func(m *Manager) {
		m.session = session
		m.bootstrapCmd = command
	}
}

// NewManager creates a Manager. The provider and directory are injected;
// their lifecycle (pool close, client shutdown) belongs to the caller.
func NewManager(provider Provider, dir Directory, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider:     provider,
		dir:          dir,
		spec:         DefaultCreateSpec(),
		session:      DefaultBootstrapSession,
		bootstrapCmd: DefaultBootstrapCommand,
		callTimeout:  defaultCallTimeout,
		now:          NowUnix,
		logger:       nopLogger,
		inflight:     make(map[string]*flight),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Resolve returns a ready sandbox handle for userID, creating or restarting
// the sandbox as needed. Idempotent: repeated calls with no intervening
// provider state change return the same sandbox id.
//
// Concurrent calls for the same user coalesce into one execution, so the
// absent→create path cannot allocate twice within this process. Multi-process
// deployments that need the same guarantee must add a distributed lock; the
// directory's last-writer-wins upsert keeps the race safe either way (the
// losing sandbox goes unreferenced and is eventually reaped).
func (m *Manager) Resolve(ctx context.Context, userID string) (Handle, error) {
	if userID == "" {
		return Handle{}, fmt.Errorf("resolve: empty user id")
	}

	m.mu.Lock()
	if f, ok := m.inflight[userID]; ok {
		m.mu.Unlock()
		select {
		case <-f.done:
			return f.handle, f.err
		case <-ctx.Done():
			return Handle{}, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	m.inflight[userID] = f
	m.mu.Unlock()

	f.handle, f.err = m.resolve(ctx, userID)

	m.mu.Lock()
	delete(m.inflight, userID)
	m.mu.Unlock()
	close(f.done)

	return f.handle, f.err
}

func (m *Manager) resolve(ctx context.Context, userID string) (Handle, error) {
	rec, ok, err := m.getRecord(ctx, userID)
	if err != nil {
		return Handle{}, err
	}

	if ok && rec.SandboxID != "" {
		inst, err := m.fetch(ctx, rec.SandboxID)
		switch {
		case err == nil:
			return m.reuse(ctx, rec, inst)
		case errors.Is(err, ErrNotFound):
			// Directory points at a sandbox the provider no longer knows.
			// Recover locally: replace it.
			m.logger.Warn("recorded sandbox gone, recreating",
				"user_id", userID, "sandbox_id", rec.SandboxID)
		default:
			// Fetch timeouts and transport failures get the same treatment
			// as not-found: fall through to creation. Create/start errors
			// below still surface — only the fetch-by-id path recovers.
			m.logger.Warn("fetching recorded sandbox failed, recreating",
				"user_id", userID, "sandbox_id", rec.SandboxID, "error", err)
		}
	}

	return m.create(ctx, userID)
}

// reuse reconciles an existing sandbox to ready and refreshes the record.
func (m *Manager) reuse(ctx context.Context, rec Record, inst Instance) (Handle, error) {
	if inst.State == StateStopped || inst.State == StateArchived {
		m.logger.Info("starting sandbox",
			"user_id", rec.UserID, "sandbox_id", inst.ID, "state", string(inst.State))

		if err := m.start(ctx, inst.ID); err != nil {
			return Handle{}, &ProvisionError{Op: "start", SandboxID: inst.ID, Err: err}
		}
		// One re-fetch to pick up fresh state and preview URLs. No polling
		// wait: callers needing a hard "running" guarantee poll the handle.
		if fresh, err := m.fetch(ctx, inst.ID); err == nil {
			inst = fresh
		} else {
			m.logger.Warn("re-fetch after start failed", "sandbox_id", inst.ID, "error", err)
		}
		if err := m.bootstrap(ctx, inst.ID); err != nil {
			return Handle{}, err
		}
	}

	if err := m.touch(ctx, rec.UserID); err != nil {
		return Handle{}, err
	}

	m.logger.Debug("sandbox ready",
		"user_id", rec.UserID, "sandbox_id", inst.ID, "state", string(inst.State))
	return Handle{
		SandboxID:  inst.ID,
		State:      inst.State,
		Previews:   inst.Previews,
		Credential: rec.Credential,
	}, nil
}

// create allocates a new sandbox, records it, and bootstraps it.
func (m *Manager) create(ctx context.Context, userID string) (Handle, error) {
	cred := NewCredential()

	spec := m.spec
	spec.EnvVars = make(map[string]string, len(m.spec.EnvVars)+1)
	for k, v := range m.spec.EnvVars {
		spec.EnvVars[k] = v
	}
	spec.EnvVars[credentialEnvVar] = cred

	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	inst, err := m.provider.Create(cctx, spec)
	cancel()
	if err != nil {
		return Handle{}, &ProvisionError{Op: "create", Err: err}
	}

	// Logged before the upsert: a crash between here and the upsert leaves
	// an orphaned remote sandbox, and this line is what operators reconcile
	// from. The reaper also reclaims any such sandbox once its record (if
	// one lands) goes stale.
	m.logger.Info("sandbox created", "user_id", userID, "sandbox_id", inst.ID)

	rec := Record{
		UserID:       userID,
		SandboxID:    inst.ID,
		Credential:   cred,
		LastActiveAt: m.now(),
	}
	if err := m.upsert(ctx, rec); err != nil {
		return Handle{}, err
	}

	// Record first, bootstrap second: a bootstrap failure leaves the
	// allocation recorded so a retry reuses it instead of paying for a new
	// sandbox.
	if err := m.bootstrap(ctx, inst.ID); err != nil {
		return Handle{}, err
	}

	return Handle{
		SandboxID:  inst.ID,
		State:      inst.State,
		Previews:   inst.Previews,
		Credential: cred,
	}, nil
}

// bootstrap starts the supervisor process in a named session. Safe to call
// repeatedly: an existing session means a previous bootstrap already ran.
func (m *Manager) bootstrap(ctx context.Context, sandboxID string) error {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	err := m.provider.CreateSession(cctx, sandboxID, m.session)
	if errors.Is(err, ErrSessionExists) {
		m.logger.Debug("bootstrap session already present", "sandbox_id", sandboxID)
		return nil
	}
	if err != nil {
		return &BootstrapError{SandboxID: sandboxID, Session: m.session, Err: err}
	}

	if err := m.provider.ExecSession(cctx, sandboxID, m.session, m.bootstrapCmd, true); err != nil {
		return &BootstrapError{SandboxID: sandboxID, Session: m.session, Err: err}
	}
	m.logger.Debug("supervisor started", "sandbox_id", sandboxID, "session", m.session)
	return nil
}

// --- bounded collaborator calls ---

func (m *Manager) getRecord(ctx context.Context, userID string) (Record, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	rec, ok, err := m.dir.Get(cctx, userID)
	if err != nil {
		return Record{}, false, &DirectoryError{Op: "get", UserID: userID, Err: err}
	}
	return rec, ok, nil
}

func (m *Manager) upsert(ctx context.Context, rec Record) error {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if err := m.dir.Upsert(cctx, rec); err != nil {
		return &DirectoryError{Op: "upsert", UserID: rec.UserID, Err: err}
	}
	return nil
}

func (m *Manager) touch(ctx context.Context, userID string) error {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if err := m.dir.Touch(cctx, userID, m.now()); err != nil {
		return &DirectoryError{Op: "touch", UserID: userID, Err: err}
	}
	return nil
}

func (m *Manager) fetch(ctx context.Context, sandboxID string) (Instance, error) {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return m.provider.Fetch(cctx, sandboxID)
}

func (m *Manager) start(ctx context.Context, sandboxID string) error {
	cctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	return m.provider.Start(cctx, sandboxID)
}

// nopLogger discards everything. Mirrors the stores' default of staying
// silent unless a logger is injected.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
