package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/policydiff"
)

var diffFormat string

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyDiffCmd)
	policyDiffCmd.Flags().StringVarP(&diffFormat, "format", "f", "text", "Output format (text|json)")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect governance policy files",
}

var policyDiffCmd = &cobra.Command{
	Use:   "diff <old> [new]",
	Short: "Compare two policy files",
	Long: "Shows action complexity, capability tier, confidence delta and keyword\n" +
		"changes between two policies, each marked stricter or looser.\n" +
		"When [new] is omitted the configured policy is used.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runPolicyDiff,
}

func runPolicyDiff(cmd *cobra.Command, args []string) error {
	newPath := ""
	if len(args) == 2 {
		newPath = args[1]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		newPath = cfg.PolicyPath
	}

	oldCfg, err := policy.LoadConfig(args[0])
	if err != nil {
		return fmt.Errorf("load old policy: %w", err)
	}
	newCfg, err := policy.LoadConfig(newPath)
	if err != nil {
		return fmt.Errorf("load new policy: %w", err)
	}

	result := policydiff.Diff(oldCfg, newCfg)
	result.OldPath = args[0]
	result.NewPath = newPath

	out := cmd.OutOrStdout()
	if diffFormat == "json" {
		s, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	fmt.Fprint(out, policydiff.FormatText(result))
	return nil
}
