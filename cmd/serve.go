package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpapi "github.com/hb-chen/skillexec/internal/api/http"
	"github.com/hb-chen/skillexec/internal/config"
	"github.com/hb-chen/skillexec/internal/server"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the skill execution server",
	Long:  `Start the HTTP API and the gRPC health endpoint`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warnf("Shutdown error: %v", err)
			}
		}()

		go func() {
			<-ctx.Done()
			logger.Infof("Received shutdown signal, shutting down...")
		}()

		handlers := httpapi.NewHandlers(a.orchestrator, a.cache, a.metricsHandler())
		if err := server.Serve(ctx, cfg, handlers); err != nil && ctx.Err() == nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr-http", "", "HTTP server address (overrides config file)")
	serveCmd.Flags().String("addr-grpc", "", "gRPC server address (overrides config file)")

	rootCmd.AddCommand(serveCmd)
}

// loadApp loads the configuration and wires the pipeline for one-shot commands
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return buildApp(ctx, cfg)
}
