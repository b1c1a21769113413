package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stywzn/vuln-sentinel/pkg/db"
)

func newScanCmd(opts *options) *cobra.Command {
	var (
		target string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan and store its features",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if target == "" {
				return errors.New("please provide --target")
			}
			a, err := opts.app()
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Coordinator.RunScan(cmd.Context(), target)
			if err != nil {
				return err
			}
			if !dryRun {
				if err := a.Store.SaveFeatures(cmd.Context(), out.Features); err != nil {
					return err
				}
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target URL to scan")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print features without storing them")
	return cmd
}

func newIngestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the NVD feed once and ingest it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.app()
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Runner.Run(cmd.Context())
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			return res.Err
		},
	}
}

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			gdb, err := db.OpenAndMigrate(cfg.Database)
			if err != nil {
				return err
			}
			db.Close(gdb)
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
