// Command lagoond is the sandbox lifecycle daemon.
//
// It wires a directory (SQLite or PostgreSQL), a sandbox provider (Daytona
// workspace API, or the local Docker daemon for development), the lifecycle
// manager, and the inactivity reaper, and exposes a thin HTTP surface:
// POST /resolve returns the ready sandbox for a user, GET /health reports
// liveness. Authentication and routing belong to the platform in front of
// this daemon; lagoond only manages sandboxes.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/lagoon"
	"github.com/nevindra/lagoon/directory/postgres"
	"github.com/nevindra/lagoon/directory/sqlite"
	"github.com/nevindra/lagoon/internal/config"
	"github.com/nevindra/lagoon/internal/scheduling"
	"github.com/nevindra/lagoon/observer"
	"github.com/nevindra/lagoon/provider/daytona"
	"github.com/nevindra/lagoon/provider/docker"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := config.Load(os.Getenv("LAGOON_CONFIG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, cleanup, err := openDirectory(ctx, cfg)
	if err != nil {
		logger.Error("opening directory failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := dir.Init(ctx); err != nil {
		logger.Error("directory init failed", "error", err)
		os.Exit(1)
	}

	prov, err := buildProvider(cfg)
	if err != nil {
		logger.Error("building provider failed", "error", err)
		os.Exit(1)
	}

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			logger.Error("observer init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Error("observer shutdown failed", "error", err)
			}
		}()
		prov = observer.WrapProvider(prov, inst)
	}

	spec := lagoon.DefaultCreateSpec()
	if cfg.Sandbox.Image != "" {
		spec.Image = cfg.Sandbox.Image
	}

	mgr := lagoon.NewManager(prov, dir,
		lagoon.WithLogger(logger),
		lagoon.WithCreateSpec(spec),
		lagoon.WithCallTimeout(cfg.CallTimeout()),
	)
	reaper := lagoon.NewReaper(prov, dir, lagoon.WithReaperLogger(logger))

	var res resolver = mgr
	var swp scheduling.Sweeper = reaper
	if inst != nil {
		res = observer.WrapResolver(mgr, inst)
		swp = observer.WrapSweeper(reaper, inst)
	}

	go scheduling.NewLoop(swp, cfg.SweepEvery(), cfg.Retention(), logger).Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		handleResolve(res, w, r)
	})
	mux.HandleFunc("/health", handleHealth)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("stopped")
}

// openDirectory builds the configured directory. The cleanup func closes
// whatever owns the underlying connections.
func openDirectory(ctx context.Context, cfg config.Config) (lagoon.Directory, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	default:
		d := sqlite.New(cfg.Database.Path)
		return d, func() { d.Close() }, nil
	}
}

func buildProvider(cfg config.Config) (lagoon.Provider, error) {
	if cfg.Docker.Enabled {
		opts := []docker.Option{}
		if cfg.Docker.PreviewHost != "" {
			opts = append(opts, docker.WithPreviewHost(cfg.Docker.PreviewHost))
		}
		return docker.New(opts...)
	}
	return daytona.New(cfg.Daytona.APIURL,
		daytona.WithAPIKey(cfg.Daytona.APIKey),
		daytona.WithTarget(cfg.Daytona.Target),
		daytona.WithTimeout(cfg.CallTimeout()),
	), nil
}
