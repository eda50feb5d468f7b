package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/confidence"
	"github.com/ppiankov/trustgate/internal/model"
)

var (
	proposalStatus string
	sessionStatus  string
	reviewer       string
	reviewNote     string
	sessionFailed  bool
	sessionImpact  string
	sessionOutcome string
)

func init() {
	rootCmd.AddCommand(proposalCmd, sessionCmd)

	proposalCmd.AddCommand(proposalListCmd, proposalApproveCmd, proposalRejectCmd)
	proposalListCmd.Flags().StringVar(&proposalStatus, "status", string(model.ProposalProposed), "Filter by status (PROPOSED|APPROVED|REJECTED, empty for all)")
	for _, c := range []*cobra.Command{proposalApproveCmd, proposalRejectCmd} {
		c.Flags().StringVar(&reviewer, "reviewer", os.Getenv("USER"), "Reviewer recorded on the proposal")
		c.Flags().StringVar(&reviewNote, "note", "", "Review note")
	}

	sessionCmd.AddCommand(sessionListCmd, sessionCompleteCmd, sessionCancelCmd)
	sessionListCmd.Flags().StringVar(&sessionStatus, "status", string(model.SessionRunning), "Filter by status (RUNNING|COMPLETE|CANCELLED, empty for all)")
	sessionCompleteCmd.Flags().BoolVar(&sessionFailed, "failed", false, "The supervised execution failed")
	sessionCompleteCmd.Flags().StringVar(&sessionImpact, "impact", "high", "Outcome impact (low|high)")
	sessionCompleteCmd.Flags().StringVar(&sessionOutcome, "outcome", "", "Outcome summary")
	sessionCancelCmd.Flags().StringVar(&sessionOutcome, "reason", "", "Cancellation reason")
}

var proposalCmd = &cobra.Command{
	Use:   "proposal",
	Short: "Review training and action proposals",
}

var proposalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals",
	Args:  cobra.NoArgs,
	RunE:  runProposalList,
}

var proposalApproveCmd = &cobra.Command{
	Use:   "approve <proposal-id>",
	Short: "Approve a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return resolveProposal(cmd, args[0], true) },
}

var proposalRejectCmd = &cobra.Command{
	Use:   "reject <proposal-id>",
	Short: "Reject a proposal",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return resolveProposal(cmd, args[0], false) },
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage live supervision sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supervision sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionCompleteCmd = &cobra.Command{
	Use:   "complete <session-id>",
	Short: "Complete a session and feed its outcome to the agent's confidence",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionComplete,
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session without a confidence signal",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionCancel,
}

func runProposalList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	props, err := eng.Approvals.ListProposals(ctx, model.ProposalStatus(strings.ToUpper(proposalStatus)))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tKIND\tSTATUS\tCREATED\tTITLE")
	for _, p := range props {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.AgentID, p.Kind, p.Status, p.CreatedAt.Format(time.RFC3339), p.Title)
	}
	return tw.Flush()
}

func resolveProposal(cmd *cobra.Command, id string, approve bool) error {
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	var p *model.Proposal
	if approve {
		p, err = eng.Approvals.ApproveProposal(ctx, id, reviewer, reviewNote)
	} else {
		p, err = eng.Approvals.RejectProposal(ctx, id, reviewer, reviewNote)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), p)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	sessions, err := eng.Approvals.ListSessions(ctx, model.SessionStatus(strings.ToUpper(sessionStatus)))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tSUPERVISOR\tTRIGGER\tSTATUS\tSTARTED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.AgentID, s.SupervisorID, s.TriggerType, s.Status, s.StartedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runSessionComplete(cmd *cobra.Command, args []string) error {
	impact, err := confidence.ParseImpact(sessionImpact)
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	sess, res, err := eng.Approvals.CompleteSession(ctx, args[0], !sessionFailed, impact, sessionOutcome)
	if sess != nil {
		if perr := printJSON(cmd.OutOrStdout(), map[string]any{"session": sess, "confidence": res}); perr != nil {
			return perr
		}
	}
	return err
}

func runSessionCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	sess, err := eng.Approvals.CancelSession(ctx, args[0], sessionOutcome)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), sess)
}
