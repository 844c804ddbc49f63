package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hellotoday/hellotoday-client/internal/api"
	"github.com/hellotoday/hellotoday-client/internal/config"
	"github.com/hellotoday/hellotoday-client/internal/logging"
	"github.com/hellotoday/hellotoday-client/internal/notify"
	"github.com/hellotoday/hellotoday-client/internal/store"
)

// app is the per-invocation wiring shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	out    *printer
	errOut io.Writer
}

// newApp loads configuration and builds the logger. One-shot commands
// stay quiet unless --verbose; daemon commands always log.
func newApp(opts *RootOptions, cmd *cobra.Command, daemon bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a := &app{
		cfg:    cfg,
		out:    newPrinter(opts.Format, cmd.OutOrStdout()),
		errOut: cmd.ErrOrStderr(),
	}

	switch {
	case opts.Verbose:
		a.logger = logging.NewLoggerTo(a.errOut, cfg.Environment, "debug")
	case daemon:
		a.logger = logging.NewLoggerTo(a.errOut, cfg.Environment, cfg.LogLevel)
	default:
		a.logger = logging.Discard()
	}

	return a, nil
}

func (a *app) apiClient(observer api.RequestObserver) *api.Client {
	return api.NewClient(api.Options{
		BaseURL:     a.cfg.APIURL,
		Timeout:     a.cfg.RequestTimeout,
		SubmitRate:  a.cfg.SubmitRate,
		SubmitBurst: a.cfg.SubmitBurst,
		Logger:      a.logger,
		Observer:    observer,
	})
}

// oneShotStore builds a store without cache or realtime for single
// request commands. Notices are written to stderr.
func (a *app) oneShotStore() *store.Store {
	sink := notify.NewSink(notify.PresenterFunc(func(t notify.Toast) {
		fmt.Fprintf(a.errOut, "%s: %s\n", t.Title, t.Message)
	}))

	return store.New(store.Options{
		API:      a.apiClient(nil),
		Notifier: sink,
		Logger:   a.logger,
	})
}
