package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatgate/pkg/config"
)

var configPath string

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Write the default config file if missing and print its path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadOrCreateGatewayConfig(configPath); err != nil {
				return fmt.Errorf("load gateway config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), configPath)
			return nil
		},
	}
	configCmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Gateway config TOML path")
	rootCmd.AddCommand(configCmd)
}
