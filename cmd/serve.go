package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatgate/pkg/config"
	"chatgate/pkg/gateway"
	"chatgate/pkg/ledger"
	"chatgate/pkg/logutil"
)

var (
	serveConfigPath         string
	serveListenAddrOverride string
	serveDailyLimitOverride int
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreateGatewayConfig(serveConfigPath)
			if err != nil {
				return fmt.Errorf("load gateway config: %w", err)
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}
			if cmd.Flags().Changed("daily-limit") {
				cfg.DailyLimit = serveDailyLimitOverride
			}
			logger, err := logutil.Configure(cfg.LogLevel)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := ledger.Open(ctx, cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()

			srv, err := gateway.NewServer(cfg, store, logger)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "Gateway config TOML path")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:8788)")
	serveCmd.Flags().IntVar(&serveDailyLimitOverride, "daily-limit", 0, "Override daily shared-key request limit")
	rootCmd.AddCommand(serveCmd)
}
