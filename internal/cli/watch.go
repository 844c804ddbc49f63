package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hellotoday/hellotoday-client/internal/config"
	"github.com/hellotoday/hellotoday-client/internal/diagnostics"
	"github.com/hellotoday/hellotoday-client/internal/mcpserver"
	"github.com/hellotoday/hellotoday-client/internal/models"
	"github.com/hellotoday/hellotoday-client/internal/notify"
	"github.com/hellotoday/hellotoday-client/internal/outbox"
	"github.com/hellotoday/hellotoday-client/internal/realtime"
	"github.com/hellotoday/hellotoday-client/internal/server"
	"github.com/hellotoday/hellotoday-client/internal/state"
	"github.com/hellotoday/hellotoday-client/internal/store"
	"github.com/hellotoday/hellotoday-client/internal/transport"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	KeepDays int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and follow today's messages live",
		Long: `Load today's messages, then follow new ones over the realtime
connection until interrupted. Lost connections are retried with backoff.

Send SIGHUP to drop the connection and reconnect with a fresh attempt
budget, for example after the server was down long enough for retries to
give up.

With DIAGNOSTICS_ADDR set, /healthz, /metrics and an MCP endpoint at /mcp
are served locally. With OUTBOX_DIR set, *.txt files dropped there are
posted as messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(rootOpts, cmd, true)
			if err != nil {
				return err
			}

			return runWatch(ctx, a, opts, cmd.Root().Version)
		},
	}

	cmd.Flags().IntVar(&opts.KeepDays, "keep-days", 30, "days of cached history to keep, 0 keeps everything")

	return cmd
}

// daemon is the long-running wiring behind watch.
type daemon struct {
	app        *app
	version    string
	cache      *state.State
	metrics    *diagnostics.Metrics
	store      *store.Store
	controller *realtime.Controller
}

func runWatch(ctx context.Context, a *app, opts *WatchOptions, version string) error {
	a.logger.Info("hellotoday starting",
		slog.String("version", version),
		slog.String("api", a.cfg.APIURL),
		slog.String("transport", a.cfg.Transport),
	)

	cache, err := state.LoadAt(a.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer cache.Close()

	d := newDaemon(a, cache)
	d.version = version

	d.restore()
	d.pruneHistory(opts.KeepDays)

	if res := d.store.LoadToday(ctx); res.Success {
		a.logger.Info(res.Message, slog.Int("messages", len(res.Data.Messages)))
	} else {
		a.logger.Warn("initial load failed, continuing with cached messages", slog.String("error", res.Message))
	}

	if _, err := d.store.LoadAvailableDates(ctx); err != nil {
		a.logger.Debug("date list unavailable", slog.String("error", err.Error()))
	}

	return d.run(ctx)
}

func newDaemon(a *app, cache *state.State) *daemon {
	metrics := diagnostics.New()
	sink := notify.NewSink(notify.LogPresenter(a.logger))

	st := store.New(store.Options{
		API:           a.apiClient(metrics),
		Notifier:      sink,
		Persister:     cache,
		Observer:      metrics,
		Logger:        a.logger,
		Notifications: a.cfg.Notifications,
		OnEvent:       func(ev store.Event) { logEvent(a.logger, ev) },
	})

	rt := transport.NewClient(transport.Options{
		Endpoint: a.cfg.RealtimeURL(),
		Mode:     a.cfg.Transport,
		Logger:   a.logger,
	})

	ctrl := realtime.NewController(realtime.Options{
		Dialer:   realtime.TransportDialer(rt),
		Logger:   a.logger,
		Observer: &connectionNotices{next: metrics, notifier: sink},
	})

	return &daemon{
		app:        a,
		cache:      cache,
		metrics:    metrics,
		store:      st,
		controller: ctrl,
	}
}

// restore seeds the store with the cached set when it is still today's.
func (d *daemon) restore() {
	today := time.Now().Format(models.DateLayout)

	set, err := d.cache.TodayFor(today)
	if err != nil {
		d.app.logger.Warn("reading cached messages", slog.String("error", err.Error()))
		return
	}

	if set != nil && d.store.Restore(*set) {
		d.app.logger.Info("restored cached messages",
			slog.Int("messages", len(set.Messages)),
			slog.Time("last_sync", d.cache.LastSync()),
		)
	}
}

func (d *daemon) pruneHistory(keepDays int) {
	if keepDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays).Format(models.DateLayout)

	removed, err := d.cache.PruneHistory(cutoff)
	if err != nil {
		d.app.logger.Warn("pruning cached history", slog.String("error", err.Error()))
		return
	}

	if removed > 0 {
		d.app.logger.Debug("pruned cached history", slog.Int("days", removed))
	}
}

func (d *daemon) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.controller.Run(gctx)
	})

	g.Go(func() error {
		return ignoreCanceled(d.store.Consume(gctx, d.controller.Frames()))
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g.Go(func() error {
		return reconnectOnSignal(gctx, hup, d.controller, d.app.logger)
	})

	if addr := d.app.cfg.DiagnosticsAddr; addr != "" {
		if unprotectedDiagnostics(d.app.cfg) {
			d.app.logger.Warn("diagnostics served without DIAGNOSTICS_TOKEN; /mcp can post messages",
				slog.String("addr", addr),
			)
		}

		handler := d.diagnosticsHandler()

		g.Go(func() error {
			return server.Serve(gctx, addr, handler, d.app.logger)
		})
	}

	if dir := d.app.cfg.OutboxDir; dir != "" {
		w := outbox.NewWatcher(dir, d.store, 0, d.app.logger)

		g.Go(func() error {
			return ignoreCanceled(w.Watch(gctx))
		})
	}

	err := g.Wait()

	d.app.logger.Info("hellotoday stopped")

	return err
}

func (d *daemon) diagnosticsHandler() http.Handler {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "hellotoday", Version: d.version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, d.store, d.controller)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	return server.NewMux(server.MuxConfig{
		Status:     d.controller,
		Metrics:    d.metrics.Handler(),
		MCPHandler: mcpHandler,
		Logger:     d.app.logger,
		Token:      d.app.cfg.DiagnosticsToken,
	})
}

// unprotectedDiagnostics reports a production daemon exposing /mcp without
// a token.
func unprotectedDiagnostics(cfg *config.Config) bool {
	return cfg.IsProduction() && cfg.DiagnosticsAddr != "" && cfg.DiagnosticsToken == ""
}

// reconnecter is the part of *realtime.Controller driven by signals.
type reconnecter interface {
	ForceReconnect()
}

// reconnectOnSignal forces a reconnect for every signal received until ctx
// is cancelled.
func reconnectOnSignal(ctx context.Context, sigs <-chan os.Signal, r reconnecter, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigs:
			logger.Info("reconnect requested", slog.String("signal", sig.String()))
			r.ForceReconnect()
		}
	}
}

func logEvent(logger *slog.Logger, ev store.Event) {
	switch ev.Kind {
	case store.EventAppended:
		logger.Info("new message",
			slog.String("id", string(ev.Message.ID)),
			slog.String("content", ev.Message.Content),
			slog.Int("total", ev.Set.TotalCount),
		)
	case store.EventReplaced:
		logger.Debug("messages replaced", slog.String("date", ev.Set.Date), slog.Int("total", ev.Set.TotalCount))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
