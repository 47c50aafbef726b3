package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"vermont/core/config"
	"vermont/modules/dbwriter"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configGenerateCmd)

	configGenerateCmd.Flags().Bool("minimal", false, "Create minimal config with essential settings")
	configGenerateCmd.Flags().String("output", "config.yaml", "File to write the generated config to")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPaths...)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := dbwriter.New().Configure(cfg.Module(dbwriter.Name)); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
		return nil
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate configuration files",
	Long: `Generate configuration files:

vermont config generate --minimal [--output config.yaml]   Create minimal config with essential settings`,
	RunE: func(cmd *cobra.Command, args []string) error {
		minimal, _ := cmd.Flags().GetBool("minimal")
		output, _ := cmd.Flags().GetString("output")
		if !minimal {
			return fmt.Errorf("specify --minimal")
		}

		if err := config.SaveGeneratedConfig(config.GenerateMinimalConfig(), output); err != nil {
			return fmt.Errorf("failed to save minimal config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Minimal configuration written to %s.\n", output)
		return nil
	},
}
