package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// configPaths are searched for config.yaml before the default locations.
var configPaths []string

// rootCmd is the base command for the vermont CLI.
var rootCmd = &cobra.Command{
	Use:           "vermont",
	Short:         "Vermont flow collector",
	Long:          "Vermont collects flow records and writes them to a database from managed worker threads.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&configPaths, "config-dir", nil, "directory containing config.yaml (repeatable)")
}

// Execute runs the root command with ctx, which is cancelled on shutdown signals.
func Execute(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
