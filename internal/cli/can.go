package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/model"
)

var (
	canCapability bool
	canPackage    bool
	canExitCode   bool
)

func init() {
	rootCmd.AddCommand(canCmd)
	canCmd.Flags().BoolVar(&canCapability, "capability", false, "Treat the subject as a capability (camera, code_execution, ...)")
	canCmd.Flags().BoolVar(&canPackage, "package", false, "Treat the subject as a package (name==version)")
	canCmd.Flags().BoolVar(&canExitCode, "exit-code", false, "Exit 1 when the decision is deny")
}

var canCmd = &cobra.Command{
	Use:   "can <agent-id> <action>",
	Short: "Ask whether an agent may perform an action",
	Long: "Evaluates one permission check and prints the decision as JSON.\n\n" +
		"  trustgate can bot-1 send_email\n" +
		"  trustgate can bot-1 camera --capability\n" +
		"  trustgate can bot-1 requests==2.31.0 --package",
	Args: cobra.ExactArgs(2),
	RunE: runCan,
}

func runCan(cmd *cobra.Command, args []string) error {
	if canCapability && canPackage {
		return fmt.Errorf("--capability and --package are mutually exclusive")
	}
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	agentID, subject := args[0], args[1]
	var d model.Decision
	switch {
	case canCapability:
		d, err = eng.Governance.CanUseCapability(ctx, agentID, subject)
	case canPackage:
		name, ver, perr := splitPackage(subject)
		if perr != nil {
			return perr
		}
		d, err = eng.Packages.CheckPackagePermission(ctx, agentID, name, ver)
	default:
		d, err = eng.Governance.CanPerformAction(ctx, agentID, subject)
	}
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), d); err != nil {
		return err
	}
	if canExitCode && !d.Allowed {
		os.Exit(1)
	}
	return nil
}

// splitPackage parses "name==version".
func splitPackage(spec string) (string, string, error) {
	name, ver, ok := strings.Cut(spec, "==")
	if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(ver) == "" {
		return "", "", fmt.Errorf("package must be name==version, got %q", spec)
	}
	return strings.TrimSpace(name), strings.TrimSpace(ver), nil
}
