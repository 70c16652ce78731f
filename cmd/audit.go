package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hb-chen/skillexec/internal/compiler"
	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/pkg/logger"
)

// auditReport is printed by the audit command
type auditReport struct {
	Skill           string                `json:"skill"`
	Hash            string                `json:"hash"`
	ComplexityScore int                   `json:"complexityScore"`
	Dependencies    []skill.Dependency    `json:"dependencies"`
	Diagnostics     []string              `json:"diagnostics,omitempty"`
	Report          *skill.SecurityReport `json:"report"`
}

// auditCmd compiles and audits a skill without running it
var auditCmd = &cobra.Command{
	Use:   "audit <skill>",
	Short: "Compile and audit a skill without running it",
	Long: `Compile a skill and run the static security audit over the result.
The exit code is non-zero when compilation fails or the audit does not pass.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warnf("Shutdown error: %v", err)
			}
		}()

		def, err := a.registry.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		artifact, err := a.compiler.Compile(cmd.Context(), def)
		if err != nil {
			return err
		}

		out := auditReport{
			Skill:           def.Name(),
			Hash:            skill.ContentHash(def.Content),
			ComplexityScore: artifact.ComplexityScore,
			Dependencies:    artifact.Dependencies,
			Report:          a.auditor.Audit(artifact),
		}
		for _, d := range artifact.Diagnostics {
			out.Diagnostics = append(out.Diagnostics, compiler.String(d))
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		if !out.Report.Passed {
			return fmt.Errorf("skill %s failed the audit at risk level %s", def.Name(), out.Report.RiskLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
