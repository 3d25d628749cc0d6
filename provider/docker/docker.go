// Package docker implements lagoon.Provider against a local Docker daemon.
//
// It exists for development and single-host deployments: the same manager
// and directory run unchanged, with containers standing in for remote
// workspaces and host port bindings standing in for public preview URLs.
// Process sessions are tracked in memory, so session idempotence holds per
// provider instance, not across restarts.
package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/nevindra/lagoon"
)

// portNameLabelPrefix stores the port→name mapping on the container so
// Fetch can rebuild preview names without any local state.
const portNameLabelPrefix = "lagoon.port."

// managedLabel marks containers created by this provider.
const managedLabel = "lagoon.managed"

// Provider implements lagoon.Provider on the local Docker daemon.
type Provider struct {
	cli  *client.Client
	host string // host part of preview URLs, default "localhost"

	mu       sync.Mutex
	sessions map[string]bool // "containerID/session"
}

var _ lagoon.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithPreviewHost sets the hostname used in preview URLs (default
// "localhost").
func WithPreviewHost(host string) Option {
	return func(p *Provider) { p.host = host }
}

// New creates a Provider from the environment (DOCKER_HOST etc.), with API
// version negotiation.
func New(opts ...Option) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	p := &Provider{
		cli:      cli,
		host:     "localhost",
		sessions: make(map[string]bool),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Create starts a container matching spec, with every spec port published
// on a dynamically assigned host port. The image is pulled only when the
// daemon doesn't have it.
func (p *Provider) Create(ctx context.Context, spec lagoon.CreateSpec) (lagoon.Instance, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	labels := map[string]string{managedLabel: "true"}
	for _, ps := range spec.Ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", ps.Number))
		exposed[port] = struct{}{}
		// Empty HostPort: the daemon assigns a free one.
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}}
		labels[portNameLabelPrefix+strconv.Itoa(ps.Number)] = ps.Name
	}

	env := make([]string, 0, len(spec.EnvVars))
	for k, v := range spec.EnvVars {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: exposed,
		Labels:       labels,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Resources: container.Resources{
			NanoCPUs: int64(spec.Resources.CPU) * 1e9,
			Memory:   int64(spec.Resources.MemoryGB) << 30,
			// Disk limits need a quota-enabled storage driver; not
			// enforced here.
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if client.IsErrNotFound(err) {
		// Image missing locally: pull once and retry.
		if pullErr := p.pull(ctx, spec.Image); pullErr != nil {
			return lagoon.Instance{}, pullErr
		}
		resp, err = p.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return lagoon.Instance{}, fmt.Errorf("create container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return lagoon.Instance{}, fmt.Errorf("start container: %w", err)
	}

	return p.Fetch(ctx, resp.ID)
}

func (p *Provider) pull(ctx context.Context, img string) error {
	rc, err := p.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", img, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Fetch inspects the container and maps it to a lagoon instance.
func (p *Provider) Fetch(ctx context.Context, sandboxID string) (lagoon.Instance, error) {
	info, err := p.cli.ContainerInspect(ctx, sandboxID)
	if client.IsErrNotFound(err) {
		return lagoon.Instance{}, fmt.Errorf("container %s: %w", sandboxID, lagoon.ErrNotFound)
	}
	if err != nil {
		return lagoon.Instance{}, fmt.Errorf("inspect container: %w", err)
	}

	inst := lagoon.Instance{
		ID:       info.ID,
		State:    mapState(info.State),
		Previews: make(map[string]string),
	}

	if info.NetworkSettings != nil {
		for port, binds := range info.NetworkSettings.Ports {
			if len(binds) == 0 {
				continue
			}
			name := ""
			if info.Config != nil {
				name = info.Config.Labels[portNameLabelPrefix+strconv.Itoa(port.Int())]
			}
			if name == "" {
				name = fmt.Sprintf("port-%d", port.Int())
			}
			inst.Previews[name] = "http://" + p.host + ":" + binds[0].HostPort
		}
	}
	return inst, nil
}

// Start restarts a stopped container.
func (p *Provider) Start(ctx context.Context, sandboxID string) error {
	if err := p.cli.ContainerStart(ctx, sandboxID, container.StartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("container %s: %w", sandboxID, lagoon.ErrNotFound)
		}
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}

// Delete force-removes the container and its anonymous volumes.
func (p *Provider) Delete(ctx context.Context, sandboxID string) error {
	err := p.cli.ContainerRemove(ctx, sandboxID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if client.IsErrNotFound(err) {
		return fmt.Errorf("container %s: %w", sandboxID, lagoon.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	p.mu.Lock()
	for key := range p.sessions {
		if strings.HasPrefix(key, sandboxID+"/") {
			delete(p.sessions, key)
		}
	}
	p.mu.Unlock()
	return nil
}

// CreateSession registers a named session for the container.
func (p *Provider) CreateSession(_ context.Context, sandboxID, session string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := sandboxID + "/" + session
	if p.sessions[key] {
		return fmt.Errorf("session %s: %w", session, lagoon.ErrSessionExists)
	}
	p.sessions[key] = true
	return nil
}

// ExecSession runs command inside the container via docker exec. Async runs
// detached, matching the supervisor bootstrap's fire-and-forget contract.
func (p *Provider) ExecSession(ctx context.Context, sandboxID, session, command string, async bool) error {
	p.mu.Lock()
	known := p.sessions[sandboxID+"/"+session]
	p.mu.Unlock()
	if !known {
		return fmt.Errorf("exec in unknown session %s", session)
	}

	resp, err := p.cli.ContainerExecCreate(ctx, sandboxID, container.ExecOptions{
		Cmd:    []string{"sh", "-lc", command},
		Detach: async,
	})
	if err != nil {
		return fmt.Errorf("exec create: %w", err)
	}
	if err := p.cli.ContainerExecStart(ctx, resp.ID, container.ExecStartOptions{Detach: async}); err != nil {
		return fmt.Errorf("exec start: %w", err)
	}
	return nil
}

// Close releases the daemon connection.
func (p *Provider) Close() error {
	return p.cli.Close()
}

// mapState buckets the daemon's container state. Docker has no archived
// state; exited, created, and paused containers all count as stopped
// (startable).
func mapState(s *container.State) lagoon.State {
	if s == nil {
		return lagoon.StateUnknown
	}
	if s.Running {
		return lagoon.StateRunning
	}
	switch s.Status {
	case "exited", "created", "paused":
		return lagoon.StateStopped
	default:
		return lagoon.StateUnknown
	}
}
