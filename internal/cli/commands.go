package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hellotoday/hellotoday-client/internal/models"
	"github.com/hellotoday/hellotoday-client/internal/state"
)

// NewTodayCommand creates the today command.
func NewTodayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Print today's messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}

			res := a.oneShotStore().GetTodayMessages(cmd.Context())
			if !res.Success {
				return errors.New(res.Message)
			}

			return a.out.printSet(res.Data)
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "history <date>",
		Short: "Print the messages of a past day",
		Long: `Print the messages posted on a past day (YYYY-MM-DD).

If the server cannot be reached, the copy cached by a previous watch or
history run is shown instead. --offline skips the server entirely.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := args[0]
			if _, err := time.Parse(time.DateOnly, date); err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
			}

			a, err := newApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}

			if !offline {
				res := a.oneShotStore().GetMessagesByDate(cmd.Context(), date)
				if res.Success {
					return a.out.printSet(res.Data)
				}

				a.logger.Warn("falling back to cache", slog.String("date", date), slog.String("error", res.Message))
				fmt.Fprintf(a.errOut, "server unavailable (%s), showing cached copy\n", res.Message)
			}

			set, err := cachedDate(a.cfg.StatePath, date)
			if err != nil {
				return err
			}

			return a.out.printSet(set)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "read only the local cache")

	return cmd
}

func cachedDate(path, date string) (*models.DailyMessageSet, error) {
	cache, err := state.LoadAt(path)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	set, err := cache.Date(date)
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	if set == nil {
		return nil, fmt.Errorf("no cached messages for %s", date)
	}

	return set, nil
}

// NewDatesCommand creates the dates command.
func NewDatesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dates",
		Short: "List the dates that have messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}

			res := a.oneShotStore().GetAvailableDates(cmd.Context())
			if !res.Success {
				return errors.New(res.Message)
			}

			return a.out.print(res.Data, func(w io.Writer) error {
				for _, d := range res.Data {
					if _, err := fmt.Fprintln(w, d); err != nil {
						return err
					}
				}

				return nil
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [today|all|<date>]",
		Short: "Print message statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := "today"
			if len(args) == 1 {
				scope = args[0]
			}

			a, err := newApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}

			s := a.oneShotStore()
			ctx := cmd.Context()

			var (
				data    []byte
				ok      bool
				message string
			)

			switch scope {
			case "today":
				res := s.GetTodayStats(ctx)
				data, ok, message = res.Data, res.Success, res.Message
			case "all":
				res := s.GetAllStats(ctx)
				data, ok, message = res.Data, res.Success, res.Message
			default:
				if _, err := time.Parse(time.DateOnly, scope); err != nil {
					return fmt.Errorf("scope must be today, all or a YYYY-MM-DD date, got %q", scope)
				}

				res := s.GetStatsByDate(ctx, scope)
				data, ok, message = res.Data, res.Success, res.Message
			}

			if !ok {
				return errors.New(message)
			}

			return a.out.printRaw(data)
		},
	}
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <content...>",
		Short: "Post a message to today's set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}

			msg, err := a.oneShotStore().SendMessage(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			return a.out.print(msg, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "sent %s\n", a.out.messageLine(*msg))
				return err
			})
		},
	}
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(rootOpts, cmd, false)
			if err != nil {
				return err
			}

			data, err := a.apiClient(nil).Health(cmd.Context())
			if err != nil {
				return err
			}

			return a.out.printRaw(data)
		},
	}
}
