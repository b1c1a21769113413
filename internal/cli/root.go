// Package cli implements sentinelctl, the operator command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stywzn/vuln-sentinel/internal/app"
	"github.com/stywzn/vuln-sentinel/internal/config"
	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

// Version is overridden at build time with -ldflags.
var Version = "0.1.0"

type options struct {
	configPath string
	// logOutputs defaults to stderr so command output stays clean on stdout.
	logOutputs []string
}

func (o *options) bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", os.Getenv("SENTINEL_CONFIG"), "path to config file")
}

// NewRootCmd returns the sentinelctl command tree writing results to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "sentinelctl",
		Short:         "Operate the vulnerability sentinel",
		Long:          "sentinelctl runs scans against the configured engine, ingests the NVD feed and manages the schema.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	opts.bind(root)

	root.AddCommand(newScanCmd(opts))
	root.AddCommand(newIngestCmd(opts))
	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command against os.Args.
func Execute() {
	if err := NewRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *options) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	outputs := o.logOutputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: outputs,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func (o *options) app() (*app.App, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, log)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sentinelctl %s\n", Version)
		},
	}
}
