package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/model"
)

var (
	agentName       string
	agentConfidence float64
	agentStatus     string
)

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentAddCmd, agentShowCmd, agentListCmd, agentPinCmd, agentUnpinCmd)
	agentAddCmd.Flags().StringVar(&agentName, "name", "", "Display name")
	agentAddCmd.Flags().Float64Var(&agentConfidence, "confidence", 0, "Initial confidence score in [0,1]")
	agentAddCmd.Flags().StringVar(&agentStatus, "status", "", "Pin the tier (STUDENT|INTERN|SUPERVISED|AUTONOMOUS)")
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage registered agents",
}

var agentAddCmd = &cobra.Command{
	Use:   "add <agent-id>",
	Short: "Register an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentAdd,
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show an agent and its effective tier",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentShow,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	Args:  cobra.NoArgs,
	RunE:  runAgentList,
}

var agentPinCmd = &cobra.Command{
	Use:   "pin <agent-id> <tier>",
	Short: "Pin an agent to a tier regardless of confidence",
	Args:  cobra.ExactArgs(2),
	RunE:  runAgentPin,
}

var agentUnpinCmd = &cobra.Command{
	Use:   "unpin <agent-id>",
	Short: "Remove a tier pin; the tier follows confidence again",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentUnpin,
}

type agentView struct {
	*model.Agent
	Tier   model.Level `json:"tier"`
	Pinned bool        `json:"pinned"`
}

func viewAgent(a *model.Agent) agentView {
	return agentView{Agent: a, Tier: a.Tier(), Pinned: a.Pinned()}
}

func runAgentAdd(cmd *cobra.Command, args []string) error {
	if agentConfidence < 0 || agentConfidence > 1 {
		return fmt.Errorf("--confidence must be in [0,1], got %v", agentConfidence)
	}
	a := &model.Agent{ID: args[0], Name: agentName, ConfidenceScore: agentConfidence}
	if agentStatus != "" {
		lvl, err := model.ParseLevel(agentStatus)
		if err != nil {
			return err
		}
		a.Status = model.LevelPtr(lvl)
	}

	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.DB.CreateAgent(ctx, a); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), viewAgent(a))
}

func runAgentShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	a, err := eng.DB.GetAgent(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), viewAgent(a))
}

func runAgentList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	agents, err := eng.DB.ListAgents(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCONFIDENCE\tTIER\tPINNED")
	for i := range agents {
		a := &agents[i]
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%v\n", a.ID, a.Name, a.ConfidenceScore, a.Tier(), a.Pinned())
	}
	return tw.Flush()
}

func runAgentPin(cmd *cobra.Command, args []string) error {
	lvl, err := model.ParseLevel(args[1])
	if err != nil {
		return err
	}
	return setAgentStatus(cmd, args[0], model.LevelPtr(lvl))
}

func runAgentUnpin(cmd *cobra.Command, args []string) error {
	return setAgentStatus(cmd, args[0], nil)
}

func setAgentStatus(cmd *cobra.Command, id string, status *model.Level) error {
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.DB.SetAgentStatus(ctx, id, status); err != nil {
		return err
	}
	eng.Governance.InvalidateAgent(id)
	a, err := eng.DB.GetAgent(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), viewAgent(a))
}
