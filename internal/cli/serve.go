package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowanhq/backstop/internal/agent"
	"github.com/rowanhq/backstop/internal/config"
	"github.com/rowanhq/backstop/internal/intercept"
	"github.com/rowanhq/backstop/internal/push"
	"github.com/rowanhq/backstop/internal/queue"
	"github.com/rowanhq/backstop/internal/routes"
	"github.com/rowanhq/backstop/internal/store"
	"github.com/rowanhq/backstop/internal/syncer"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the offline agent",
		Long: `Run the offline agent: the intercepting proxy, the connectivity
prober that drains the offline queue, the manifest watcher, and the
push gateway. Runs until interrupted.

Example:
  backstop serve --config ./backstop.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts)
		},
	}

	return cmd
}

func runServe(opts *RootOptions) error {
	configureLogging(opts.Verbose)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	table, err := loadRoutes(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load routes", err)
	}

	slog.Info("opening store", "path", cfg.Storage.Path)
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	client := &http.Client{Timeout: 30 * time.Second}

	interceptor := intercept.New(http.DefaultTransport, cfg.OriginURL(), cfg.Server.APIPrefix,
		intercept.WithLogger(slog.Default().With("component", "intercept")))

	q := queue.New(st)

	drainer := syncer.New(q, table, cfg.OriginURL(), client, cfg.Sync.MaxAttempts,
		syncer.WithLogger(slog.Default().With("component", "syncer")))

	gateway := push.NewGateway(
		push.Payload{
			Title: cfg.Notifications.Title,
			Body:  cfg.Notifications.Body,
			Icon:  cfg.Notifications.Icon,
			Badge: cfg.Notifications.Badge,
			Tag:   cfg.Notifications.Tag,
		},
		cfg.Notifications.DefaultURL,
		push.NewLogSink(slog.Default().With("component", "push")),
		push.NewLogWindows(slog.Default().With("component", "push")),
		slog.Default().With("component", "push"),
	)

	ag := agent.New(agent.Config{
		Store:       st,
		Queue:       q,
		Interceptor: interceptor,
		Drainer:     drainer,
		Gateway:     gateway,
		Client:      client,
		Origin:      cfg.OriginURL(),
		CachePrefix: cfg.Storage.CachePrefix,
		SyncTag:     cfg.Sync.Tag,
		Logger:      slog.Default().With("component", "agent"),
	})

	// The trigger feeds sync events into the agent loop rather than
	// draining inline, preserving one-handler-per-event-kind dispatch.
	trigger := syncer.NewTrigger(cfg.Sync.ProbeURL, cfg.ProbeInterval(), client,
		func(ctx context.Context) (syncer.Report, error) {
			ag.Signal(agent.Event{Kind: agent.EventSync, Tag: cfg.Sync.Tag})
			return syncer.Report{}, nil
		},
		slog.Default().With("component", "trigger"))
	ag.SetTrigger(trigger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ag.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("agent loop stopped", "error", err)
			stop()
		}
	}()
	go trigger.Run(ctx)

	// Install the current manifest before traffic arrives; keep watching
	// for deploys afterwards.
	if cfg.Manifest != "" {
		watcher := agent.NewWatcher(cfg.Manifest, cfg.Version, ag,
			slog.Default().With("component", "watcher"))
		version, err := watcher.InstallCurrent()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read manifest", err)
		}
		slog.Info("installing", "version", version)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("manifest watcher stopped", "error", err)
			}
		}()
	} else {
		// No manifest: the install still precaches the root document so
		// the navigation shell fallback works out of the box.
		ag.Signal(agent.Event{Kind: agent.EventInstall, Version: cfg.Version})
	}

	mux := http.NewServeMux()
	mux.Handle("/_backstop/", ag.API())
	mux.Handle("/", interceptor)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("agent listening", "addr", cfg.Server.Listen, "origin", cfg.Server.Origin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func loadRoutes(cfg config.Config) (*routes.Table, error) {
	if cfg.Routes == "" {
		return routes.Default(), nil
	}
	table, err := routes.Load(cfg.Routes)
	if err != nil {
		return nil, err
	}
	slog.Info("routes loaded", "path", cfg.Routes, "tags", strings.Join(table.Tags(), ","))
	return table, nil
}
