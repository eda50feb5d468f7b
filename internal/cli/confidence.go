package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/confidence"
)

var (
	outcomePositive bool
	outcomeNegative bool
	outcomeImpact   string
)

func init() {
	rootCmd.AddCommand(outcomeCmd)
	outcomeCmd.Flags().BoolVar(&outcomePositive, "positive", false, "Record a successful outcome")
	outcomeCmd.Flags().BoolVar(&outcomeNegative, "negative", false, "Record a failed outcome")
	outcomeCmd.Flags().StringVar(&outcomeImpact, "impact", "low", "Outcome impact (low|high)")
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome <agent-id>",
	Short: "Apply an outcome signal to an agent's confidence",
	Long: "Moves the agent's confidence by the policy delta for the outcome and\n" +
		"impact, clamped to [0,1], and reports any tier transition.",
	Args: cobra.ExactArgs(1),
	RunE: runOutcome,
}

func runOutcome(cmd *cobra.Command, args []string) error {
	if outcomePositive == outcomeNegative {
		return fmt.Errorf("exactly one of --positive or --negative is required")
	}
	impact, err := confidence.ParseImpact(outcomeImpact)
	if err != nil {
		return err
	}

	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Tracker.Update(ctx, args[0], outcomePositive, impact)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
