package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/intercept"
	"github.com/ppiankov/trustgate/internal/model"
)

var (
	triggerSource    string
	triggerUser      string
	triggerContext   []string
	triggerHeartbeat bool
)

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.Flags().StringVar(&triggerSource, "source", string(model.SourceWorkflowEngine), "Trigger source (MANUAL|DATA_SYNC|WORKFLOW_ENGINE|AI_COORDINATOR)")
	triggerCmd.Flags().StringVar(&triggerUser, "user", "", "Supervising user ID")
	triggerCmd.Flags().StringArrayVar(&triggerContext, "context", nil, "Trigger context entry key=value (repeatable)")
	triggerCmd.Flags().BoolVar(&triggerHeartbeat, "supervisor-online", false, "Mark --user available before routing")
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <agent-id> <trigger-type>",
	Short: "Route an action attempt through the trigger interceptor",
	Long: "Decides whether the attempt executes, is blocked for training, becomes a\n" +
		"proposal, or waits for live supervision. Prints the routing decision.\n\n" +
		"Supervisor presence is held in memory by the serving process; use\n" +
		"--supervisor-online to simulate an available supervisor here.",
	Args: cobra.ExactArgs(2),
	RunE: runTrigger,
}

func runTrigger(cmd *cobra.Command, args []string) error {
	kv, err := parseKeyValues(triggerContext)
	if err != nil {
		return err
	}
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	if triggerHeartbeat {
		if triggerUser == "" {
			return fmt.Errorf("--supervisor-online requires --user")
		}
		if err := eng.Availability.Heartbeat(triggerUser, 0); err != nil {
			return err
		}
	}

	dec, err := eng.Interceptor.InterceptTrigger(ctx, intercept.Request{
		AgentID:     args[0],
		Source:      model.TriggerSource(strings.ToUpper(triggerSource)),
		TriggerType: args[1],
		Context:     kv,
		UserID:      triggerUser,
	})
	if dec.Route != "" {
		if perr := printJSON(cmd.OutOrStdout(), dec); perr != nil {
			return perr
		}
	}
	return err
}

// parseKeyValues turns key=value pairs into a map. Values stay strings.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
