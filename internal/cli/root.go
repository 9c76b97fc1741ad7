package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	serverEnv     = "CATALOGSYNC_SERVER"
	defaultServer = "http://localhost:8080"
)

// app holds the global flags shared by every subcommand.
type app struct {
	server  string
	output  string
	timeout time.Duration

	out    io.Writer
	errOut io.Writer

	// pollInterval is how often --wait polls the job.
	pollInterval time.Duration
}

func (a *app) client() *Client {
	return NewClient(a.server, a.timeout)
}

// NewRootCmd builds the catalogctl command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	return newRootCmd(&app{out: out, errOut: errOut, pollInterval: time.Second})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "catalogctl",
		Short: "Operate the catalog sync and duplicate resolution service",
		Long: `catalogctl drives a running catalogsync server: it triggers and follows
sync jobs, runs duplicate detection and validates products before insertion.

Example usage:
  catalogctl sync trigger erp --wait          # Sync a datasource and follow progress
  catalogctl duplicates productos --ai        # Find and classify duplicate groups
  catalogctl validate productos --descripcion "Taladro 500W"`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.server == "" {
				a.server = os.Getenv(serverEnv)
			}
			if a.server == "" {
				a.server = defaultServer
			}
			switch a.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			}
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", a.output)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.server, "server", "", "server base URL (default $"+serverEnv+" or "+defaultServer+")")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", outputTable, "output format: table, json or yaml")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 5*time.Minute, "request timeout")

	root.AddCommand(
		newSyncCmd(a),
		newJobsCmd(a),
		newDuplicatesCmd(a),
		newValidateCmd(a),
		newCollectionsCmd(a),
		newDatasourcesCmd(a),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
