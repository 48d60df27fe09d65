package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowanhq/backstop/internal/config"
	"github.com/rowanhq/backstop/internal/queue"
	"github.com/rowanhq/backstop/internal/store"
	"github.com/rowanhq/backstop/internal/syncer"
)

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Replay pending offline actions once",
		Long: `Run one drain cycle against the backend: every pending offline
action is replayed independently, successes are removed, failures are
left for the next cycle (or dead-lettered at the attempt ceiling).

Example:
  backstop drain --config ./backstop.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(rootOpts, cmd)
		},
	}

	return cmd
}

func runDrain(opts *RootOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	table, err := loadRoutes(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load routes", err)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	client := &http.Client{Timeout: 30 * time.Second}
	s := syncer.New(queue.New(st), table, cfg.OriginURL(), client, cfg.Sync.MaxAttempts)

	report, err := s.Drain(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "drain failed", err)
	}

	if opts.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: %d pending, %d replayed, %d retried, %d buried\n",
			report.Cycle, report.Pending, report.Replayed, report.Retried, report.Buried)
	}

	if report.Buried > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d action(s) dead-lettered", report.Buried))
	}
	return nil
}
