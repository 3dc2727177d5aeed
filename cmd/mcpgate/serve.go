package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucid-mcp/mcpgate/internal/api"
	"github.com/lucid-mcp/mcpgate/internal/audit"
	"github.com/lucid-mcp/mcpgate/internal/chain"
	"github.com/lucid-mcp/mcpgate/internal/config"
	"github.com/lucid-mcp/mcpgate/internal/credential"
	"github.com/lucid-mcp/mcpgate/internal/discovery"
	"github.com/lucid-mcp/mcpgate/internal/metering"
	"github.com/lucid-mcp/mcpgate/internal/registry"
	"github.com/lucid-mcp/mcpgate/internal/router"
	"github.com/lucid-mcp/mcpgate/internal/session"
	"github.com/lucid-mcp/mcpgate/internal/store"
	"github.com/lucid-mcp/mcpgate/internal/store/sqlite"
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cfg, args)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	db, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var policy *api.Policy
	if cfg.ConfigFile != "" {
		if _, err := os.Stat(cfg.ConfigFile); err == nil {
			fileCfg, err := config.LoadFile(cfg.ConfigFile)
			if err != nil {
				return err
			}
			if err := config.Apply(ctx, db, fileCfg); err != nil {
				return err
			}
			policy = api.NewPolicy(fileCfg.Policy.DeniedFeatures)
			logger.Info("loaded config", "file", cfg.ConfigFile)
		}
	}

	reg := registry.New(db)
	builtins := registry.NewBuiltins(registry.NewTimeServer(), registry.NewEchoServer())
	if err := builtins.EnsurePassports(ctx, db); err != nil {
		return err
	}

	creds, err := buildCredentialChain(cfg, db)
	if err != nil {
		return err
	}

	sessions := session.NewStore()
	sessions.StartJanitor(time.Minute, time.Hour)
	defer sessions.Stop()

	pool := router.NewPool(router.NewMCPClient, logger)
	pool.StartSweeper()
	defer pool.Stop()

	rt := router.NewRouter(reg, builtins, creds, sessions, pool, cfg.CallTimeout, logger)

	auditBus := audit.NewBus()
	auditRec := audit.NewRecorder(db, auditBus, logger)
	rt.AddRecorder(auditRec)

	var worker *metering.Worker
	if cfg.MeteringEnabled {
		rt.AddRecorder(metering.NewRecorder(db, cfg.Environment, logger))
		worker = metering.NewWorker(db, buildEmitter(cfg, logger), metering.WorkerOptions{}, logger)
		worker.Start(ctx)
		defer func() { worker.Stop(context.Background()) }()
	}

	srv := api.NewServer(api.ServerDeps{
		Store:       db,
		Registry:    reg,
		Builtins:    builtins,
		Credentials: creds,
		Sessions:    sessions,
		Router:      rt,
		Chains:      chain.NewExecutor(rt),
		Audit:       auditRec,
		AuditBus:    auditBus,
		Policy:      policy,
		Logger:      logger,
	})
	srv.SetDiscoveryIndex(buildDiscoveryIndex(ctx, builtins, db, logger))

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// applyFlags parses --addr=X style flags from the args list.
func applyFlags(cfg *config.Config, args []string) {
	for _, arg := range args {
		if len(arg) > 7 && arg[:7] == "--addr=" {
			cfg.HTTPAddr = arg[7:]
		}
		if len(arg) > 5 && arg[:5] == "--db=" {
			cfg.DBPath = arg[5:]
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			cfg.ConfigFile = arg[9:]
		}
	}
}

// buildCredentialChain wires the env-var adapter and, when an
// encryption key is configured, the database adapter behind it.
func buildCredentialChain(cfg *config.Config, db *sqlite.DB) (*credential.Chain, error) {
	adapters := []credential.Adapter{credential.NewEnvVarAdapter()}
	if len(cfg.EncryptionKey) > 0 {
		dbAdapter, err := credential.NewDatabaseAdapter(db, cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, dbAdapter)
	}
	return credential.NewChain(adapters...), nil
}

func buildEmitter(cfg *config.Config, logger *slog.Logger) metering.Emitter {
	if cfg.OpenMeterURL != "" {
		return metering.NewOpenMeterEmitter(cfg.OpenMeterURL, cfg.OpenMeterAPIKey)
	}
	logger.Warn("metering enabled without OpenMeter URL, logging events")
	return metering.NewLogEmitter(logger)
}

// buildDiscoveryIndex seeds the search index from the builtin fleet and
// every cached tool list in the catalog.
func buildDiscoveryIndex(ctx context.Context, builtins *registry.Builtins, db *sqlite.DB, logger *slog.Logger) *discovery.Index {
	var entries []discovery.Entry
	for _, st := range builtins.ListAllTools(ctx) {
		for _, t := range st.Tools {
			entries = append(entries, discovery.Entry{
				ServerID:    st.ServerID,
				ServerName:  st.ServerName,
				ToolName:    t.Name,
				Description: t.Description,
				Owner:       store.OwnerSystem,
			})
		}
	}

	passports, _, err := db.ListPassports(ctx, store.PassportFilter{
		Type:    store.TypeTool,
		Status:  store.StatusActive,
		Page:    1,
		PerPage: 500,
	})
	if err != nil {
		logger.Warn("discovery index: list passports", "error", err)
	}
	for _, p := range passports {
		meta, err := registry.ServerMetadata(&p)
		if err != nil {
			continue
		}
		for _, t := range meta.ToolsCache {
			entries = append(entries, discovery.Entry{
				ServerID:    p.PassportID,
				ServerName:  p.Name,
				ToolName:    t.Name,
				Description: t.Description,
				Owner:       p.Owner,
			})
		}
	}

	logger.Info("discovery index built", "entries", len(entries))
	return discovery.Build(entries)
}
