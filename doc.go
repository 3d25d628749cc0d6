// Package lagoon manages the lifecycle of per-user remote sandboxes for an
// agent platform.
//
// Each user gets at most one live sandbox at a time. A sandbox is an isolated
// remote execution environment with exposed network ports (noVNC, VNC, Chrome
// devtools, HTTP) created through a pluggable [Provider]. The durable
// user→sandbox mapping lives in a [Directory]. The [Manager] decides whether
// to reuse, restart, or create a sandbox on each request, and the [Reaper]
// reclaims sandboxes whose users have gone idle.
//
// # Quick Start
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	dir := postgres.New(pool)
//	prov := daytona.New(apiURL, daytona.WithAPIKey(key))
//
//	mgr := lagoon.NewManager(prov, dir,
//		lagoon.WithLogger(logger),
//	)
//
//	handle, err := mgr.Resolve(ctx, userID)
//	// handle.Previews["novnc"], handle.Credential, ...
//
// # Core Interfaces
//
//   - [Provider]: remote sandbox backend (create, fetch, start, delete,
//     process sessions)
//   - [Directory]: persistent user→sandbox record store
//
// # Included Implementations
//
// Providers: provider/daytona (Daytona-style workspace API), provider/docker
// (local Docker daemon, for development).
// Directories: directory/sqlite (local), directory/postgres (hosted).
//
// See cmd/lagoond for a complete wired daemon.
package lagoon
