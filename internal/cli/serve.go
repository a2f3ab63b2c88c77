package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/api"
	"github.com/lumora/pulse/internal/clock"
	"github.com/lumora/pulse/internal/config"
	"github.com/lumora/pulse/internal/dispatch"
	"github.com/lumora/pulse/internal/engine"
	"github.com/lumora/pulse/internal/ids"
	"github.com/lumora/pulse/internal/logger"
	"github.com/lumora/pulse/internal/store/sqlite"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Port     string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve [defs-dir]",
		Short: "Start the engine and HTTP API",
		Long: `Start the personalization engine and its HTTP API.

With a definitions directory, the engine compiles and loads the CUE
definitions on startup, replacing whatever the database holds. Without
one, it restores the definition set persisted in the database.

The SQLite database is created if it doesn't exist. Configuration
comes from PULSE_* environment variables; flags override them.

Examples:
  pulse serve ./defs --db ./pulse.db
  pulse serve --db /tmp/pulse.db --port 9090`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			defsDir := ""
			if len(args) == 1 {
				defsDir = args[0]
			}
			return runServe(opts, defsDir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides PULSE_DATABASE_PATH)")
	cmd.Flags().StringVar(&opts.Port, "port", "", "HTTP listen port (overrides PULSE_API_PORT)")

	return cmd
}

func runServe(opts *ServeOptions, defsDir string, cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}
	if opts.Port != "" {
		cfg.APIPort = opts.Port
	}
	if defsDir == "" {
		defsDir = cfg.DefsDir
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize logger", err)
	}
	defer func() {
		_ = log.Sync()
	}()

	// Compile definitions up front so a bad directory fails before the
	// database is touched.
	var defs *engine.Definitions
	if defsDir != "" {
		log.Info("compiling definitions", zap.String("dir", defsDir))
		loaded, loadErrors := LoadDefinitions(defsDir, LoadModeFailFast)
		if len(loadErrors) > 0 {
			return WrapExitError(ExitCommandError, "failed to compile definitions", loadErrors[0])
		}
		defs = &loaded.Definitions
		log.Info("definitions compiled",
			zap.Int("rules", len(defs.Rules)),
			zap.Int("segments", len(defs.Segments)),
			zap.Int("automations", len(defs.Automations)))
	}

	log.Info("opening database", zap.String("path", cfg.DatabasePath))
	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", zap.Error(closeErr))
		}
	}()

	collab := dispatch.NewLogCollaborators(log)
	dispatcher := dispatch.NewDispatcher(
		collab.Email, collab.Content, collab.Discounts, collab.Analytics,
		dispatch.Options{
			CallTimeout: time.Duration(cfg.DispatchTimeoutSec) * time.Second,
			MaxAttempts: cfg.DispatchMaxAttempts,
			BackoffBase: time.Duration(cfg.DispatchBackoffBaseMS) * time.Millisecond,
		},
		clock.System(), ids.UUIDv7Generator{}, log)

	eng, err := engine.New(engine.Deps{
		Profiles:    st,
		Instances:   st,
		Definitions: st,
		Dispatcher:  dispatcher,
		Clock:       clock.System(),
		IDs:         ids.UUIDv7Generator{},
		Logger:      log,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	// Setup signal handling for graceful shutdown.
	// Use command's context if available (for testing), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	if defs != nil {
		if err := eng.LoadDefinitions(ctx, *defs); err != nil {
			return WrapExitError(ExitCommandError, "failed to load definitions", err)
		}
	} else {
		if err := eng.Restore(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to restore definitions", err)
		}
	}

	if err := eng.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start engine", err)
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: api.NewHandler(eng, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Listening on :"+cfg.APIPort)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	select {
	case err := <-errCh:
		return WrapExitError(ExitFailure, "server error", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("engine stopped gracefully")
	return nil
}
