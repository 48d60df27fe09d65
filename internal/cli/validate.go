package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rowanhq/backstop/internal/config"
	"github.com/rowanhq/backstop/internal/routes"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Tags   []string `json:"tags,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config and route table",
		Long: `Validate the agent configuration and the CUE action-route table
without starting the agent. Catches a malformed table at deploy time
instead of at drain time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		_ = formatter.Failure("E001", fmt.Sprintf("config: %v", err), nil)
		return NewExitError(ExitFailure, "validation failed")
	}

	table, err := loadRoutes(cfg)
	if err != nil {
		code := "E001"
		var loadErr *routes.LoadError
		if errors.As(err, &loadErr) {
			code = loadErr.Code
		}
		_ = formatter.Failure(code, fmt.Sprintf("routes: %v", err), nil)
		return NewExitError(ExitFailure, "validation failed")
	}

	result := ValidationResult{Valid: true, Tags: table.Tags()}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config ok, %d route(s): %v\n", len(result.Tags), result.Tags)
	return nil
}
