package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/sandbox"
)

var (
	sbxAgent   string
	sbxInputs  []string
	sbxTimeout time.Duration
	sbxImage   string
	sbxJSON    bool
)

func init() {
	rootCmd.AddCommand(sandboxCmd)
	sandboxCmd.AddCommand(sandboxExecCmd, sandboxCleanupCmd)
	sandboxExecCmd.Flags().StringVar(&sbxAgent, "agent", "", "Run as this agent; requires permission for the execute_code action")
	sandboxExecCmd.Flags().StringArrayVar(&sbxInputs, "input", nil, "Input key=value exposed in TRUSTGATE_INPUTS (repeatable)")
	sandboxExecCmd.Flags().DurationVar(&sbxTimeout, "timeout", 0, "Execution timeout (default from config)")
	sandboxExecCmd.Flags().StringVar(&sbxImage, "image", "", "Container image (default from config)")
	sandboxExecCmd.Flags().BoolVar(&sbxJSON, "json", false, "Print the full result as JSON")
}

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run code in the isolated container sandbox",
}

var sandboxExecCmd = &cobra.Command{
	Use:   "exec [file]",
	Short: "Execute a code file (or stdin) in a fresh container",
	Long: "Runs the code with no network, a read-only root, dropped capabilities and\n" +
		"memory, CPU and pid limits. Prints the output for successful runs, or\n" +
		"KIND: message for failures, and exits 1 on failure.",
	Args: cobra.MaximumNArgs(1),
	RunE: runSandboxExec,
}

var sandboxCleanupCmd = &cobra.Command{
	Use:   "cleanup <execution-id>",
	Short: "Force-remove a sandbox container left behind by a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxCleanup,
}

func runSandboxExec(cmd *cobra.Command, args []string) error {
	var src io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open code file: %w", err)
		}
		defer f.Close()
		src = f
	}
	code, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read code: %w", err)
	}
	inputs, err := parseKeyValues(sbxInputs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	if sbxAgent != "" {
		d, err := eng.Governance.CanExecuteCode(ctx, sbxAgent)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return fmt.Errorf("BLOCKED: %s", d.Reason)
		}
	}

	res := eng.Sandbox.Run(ctx, sandbox.Request{
		Code:    string(code),
		Inputs:  inputs,
		Timeout: sbxTimeout,
		Image:   sbxImage,
	})
	out := cmd.OutOrStdout()
	if sbxJSON {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, res.String())
	}
	if res.Kind != sandbox.KindOK {
		return fmt.Errorf("sandbox run %s: %s", res.ExecutionID, res.Kind)
	}
	return nil
}

func runSandboxCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	removed, err := eng.Sandbox.Cleanup(ctx, args[0])
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "nothing to remove for %s\n", args[0])
	}
	return nil
}
