package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rowanhq/backstop/internal/config"
	"github.com/rowanhq/backstop/internal/queue"
	"github.com/rowanhq/backstop/internal/store"
)

// QueueOptions holds flags for the queue command.
type QueueOptions struct {
	*RootOptions
	Dead bool
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued offline actions",
		Long: `List pending offline actions in insertion order, or dead-lettered
actions with --dead.

Example:
  backstop queue --config ./backstop.yaml
  backstop queue --dead --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Dead, "dead", false, "list dead-lettered actions instead of pending ones")

	return cmd
}

func runQueue(opts *QueueOptions, cmd *cobra.Command) error {
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

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()

	q := queue.New(st)
	ctx := context.Background()

	if opts.Dead {
		letters, err := q.ListDead(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list dead letters", err)
		}
		if opts.Format == "json" {
			return formatter.Success(letters)
		}
		if len(letters) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no dead letters")
			return nil
		}
		for _, dl := range letters {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\tfailed %s\t%s\n",
				dl.ID, dl.Type, dl.Payload, dl.FailedAt.Format("2006-01-02 15:04:05"), dl.Reason)
		}
		return nil
	}

	records, err := q.ListAll(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list queue", err)
	}
	if opts.Format == "json" {
		return formatter.Success(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "queue empty")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\tenqueued %s\tattempts %d\n",
			rec.ID, rec.Type, rec.Payload, rec.EnqueuedAt.Format("2006-01-02 15:04:05"), rec.Attempts)
	}
	return nil
}
