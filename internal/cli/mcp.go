package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	tgmcp "github.com/ppiankov/trustgate/internal/mcp"
)

var mcpAgent string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpAgent, "agent", "", "Agent ID every tool call is governed as (optional; otherwise per-call agent_id)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs trustgate as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes governed tools: check_action, check_capability, check_package,\n" +
		"request_package, execute_code.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := tgmcp.New(eng, tgmcp.Config{AgentID: mcpAgent, Version: version})

	fmt.Fprintln(os.Stderr, "trustgate MCP server running on stdio")
	if mcpAgent != "" {
		fmt.Fprintf(os.Stderr, "Agent: %s\n", mcpAgent)
	}
	fmt.Fprintln(os.Stderr)

	err = srv.Run(ctx)

	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Cache summary:")
	out, _ := json.MarshalIndent(eng.Governance.CacheStats(), "", "  ")
	fmt.Fprintln(os.Stderr, string(out))

	return err
}
