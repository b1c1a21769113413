package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stywzn/vuln-sentinel/internal/app"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

// ServiceFunc runs a long-lived binary until ctx is cancelled.
type ServiceFunc func(ctx context.Context, a *app.App) error

// NewServiceCmd wraps a long-running binary in a command that loads the same
// --config as sentinelctl, builds the App and cancels ctx on SIGINT or SIGTERM.
func NewServiceCmd(name, short string, run ServiceFunc) *cobra.Command {
	opts := &options{logOutputs: []string{"stdout"}}
	cmd := &cobra.Command{
		Use:           name,
		Short:         short,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			log = log.With(logger.String("service", name))

			a, err := app.New(cfg, log)
			if err != nil {
				return fmt.Errorf("startup: %w", err)
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, a)
		},
	}
	opts.bind(cmd)
	return cmd
}

// ExecuteService runs cmd against os.Args and exits non-zero on failure.
func ExecuteService(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.Name(), err)
		os.Exit(1)
	}
}
