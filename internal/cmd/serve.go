package cmd

import (
	"io"
	"os"
	"time"

	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/activitymap"
	"github.com/propertipro/go-auth/metrics"
	"github.com/propertipro/go-auth/web"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	listen          string
	shutdownTimeout time.Duration
	sweepInterval   time.Duration
	auditLog        string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web front end",
		Long: `Start the Properti Pro web front end.

Every browser gets its own auth manager, keyed by a session cookie and
evicted after the configured idle timeout. Prometheus metrics are served
on /metrics. With --audit-log every auth event is appended to the given
file as one JSON record per line, "-" writes to stdout.

The server shuts down gracefully on SIGINT or SIGTERM.

Example:
  propertipro serve --config propertipro.yaml
  propertipro serve --listen :9090
  propertipro serve --audit-log /var/log/propertipro/audit.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "address to listen on (default from config)")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 15*time.Second, "time to wait for requests to drain")
	cmd.Flags().DurationVar(&opts.sweepInterval, "sweep-interval", time.Minute, "how often idle browser sessions are evicted")
	cmd.Flags().StringVar(&opts.auditLog, "audit-log", "", "append auth events as JSON lines to this file")

	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	ctx := cmd.Context()
	cfg := root.cfg
	logger := root.logger

	st, err := newStack(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	_, m := metrics.NewRegistry()

	sinks := auth.MultiActivitySink{m}
	if opts.auditLog != "" {
		w, closeFn, err := openAuditLog(cmd, opts.auditLog)
		if err != nil {
			return err
		}
		defer closeFn()
		sinks = append(sinks, activitymap.NewJSONSink(w, activitymap.WithChannel("web")))
	}

	managerOpts := []auth.ManagerOption{
		auth.WithManagerLogger(logger),
		auth.WithManagerActivitySink(sinks),
	}
	if cfg.Auth.SignOutOnRefreshFailure {
		managerOpts = append(managerOpts, auth.WithSignOutOnRefreshFailure())
	}

	registry := web.NewRegistry(st.factory(), cfg,
		web.WithRegistryLogger(logger),
		web.WithManagerOptions(managerOpts...),
		web.WithCookieName(cfg.App.SessionCookie),
		web.WithIdleTimeout(cfg.App.SessionIdleTimeout),
		web.WithOnManager(func(_ string, mgr *auth.Manager) {
			mgr.Subscribe(m.ObserveState)
		}),
		web.WithSizeObserver(func(n int) {
			m.ActiveSessions.Set(float64(n))
		}),
	)
	defer registry.Close()

	go registry.Run(ctx, opts.sweepInterval)

	app := web.New(cfg, registry, web.WithLogger(logger),
		web.WithMetrics(m),
		web.WithTokenValidator(st.validator),
	)

	listen := cfg.App.Listen
	if opts.listen != "" {
		listen = opts.listen
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", listen, "provider", cfg.Auth.Provider, "storage", cfg.Storage.Driver)
		errCh <- app.Listen(listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", opts.shutdownTimeout)
	if err := app.ShutdownWithTimeout(opts.shutdownTimeout); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	return nil
}

func openAuditLog(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
