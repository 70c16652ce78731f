package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hb-chen/skillexec/internal/skill/mcp/servers"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// mcpCmd serves the registered skills as MCP tools over stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve skills as MCP tools on stdio",
	Long: `Serve every registered skill as an MCP tool and resource over stdin
and stdout. Logs never go to stdout in this mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warnf("Shutdown error: %v", err)
			}
		}()

		srv := servers.NewSkillServer(a.registry, a.orchestrator, version)
		logger.Infof("MCP server ready (stdio), %d skills", a.registry.Count())
		if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Infof("MCP server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// ExecuteMCPServer runs the mcp command as the root command
func ExecuteMCPServer() {
	rootCmd.SetArgs(append([]string{mcpCmd.Name()}, os.Args[1:]...))
	Execute()
}
