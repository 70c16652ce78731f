package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/pkg/logger"
)

var (
	execParams, execContext string
	execTimeout             time.Duration
)

// execCmd runs one skill and prints the response
var execCmd = &cobra.Command{
	Use:   "exec <skill>",
	Short: "Execute a skill once",
	Long: `Execute a skill through the orchestrator and print the execution
response as JSON. The exit code is non-zero when the execution failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &skill.ExecutionRequest{
			SkillName: args[0],
			Timeout:   execTimeout,
		}
		if err := decodeObject(execParams, &req.Parameters); err != nil {
			return fmt.Errorf("invalid --params: %w", err)
		}
		if err := decodeObject(execContext, &req.Context); err != nil {
			return fmt.Errorf("invalid --context: %w", err)
		}

		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warnf("Shutdown error: %v", err)
			}
		}()

		resp, execErr := a.orchestrator.Execute(cmd.Context(), req)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
		if execErr != nil {
			return fmt.Errorf("execution of %s failed: %w", req.SkillName, execErr)
		}
		return nil
	},
}

func decodeObject(text string, out *map[string]any) error {
	if text == "" {
		return nil
	}
	if text == "-" {
		return json.NewDecoder(os.Stdin).Decode(out)
	}
	return json.Unmarshal([]byte(text), out)
}

func init() {
	execCmd.Flags().StringVarP(&execParams, "params", "p", "", `parameters as a JSON object, "-" reads stdin`)
	execCmd.Flags().StringVar(&execContext, "context", "", "execution context as a JSON object")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "execution timeout, shortens the sandbox limit")

	rootCmd.AddCommand(execCmd)
}
