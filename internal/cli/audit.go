package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/audit"
)

var (
	tailLines   int
	queryAgent  string
	queryKind   string
	querySince  time.Duration
	queryFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd, auditQueryCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditQueryCmd.Flags().StringVar(&queryAgent, "agent", "", "Only entries for this agent")
	auditQueryCmd.Flags().StringVar(&queryKind, "kind", "", "Only entries of this kind (action|capability|package|trigger|confidence|registry|review)")
	auditQueryCmd.Flags().DurationVar(&querySince, "since", 0, "Only entries newer than this (e.g. 24h)")
	auditQueryCmd.Flags().StringVarP(&queryFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long: "Commands for verifying and inspecting the hash-chained audit log.\n" +
		"The path defaults to the configured audit log (~/.trustgate/audit.jsonl).",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query [path]",
	Short: "Filter audit entries and summarize decisions",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditQuery,
}

func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.AuditLogPath == "" {
		return "", fmt.Errorf("no audit log configured; pass a path")
	}
	return cfg.AuditLogPath, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	start := len(lines) - tailLines
	if start < 0 {
		start = 0
	}

	out := cmd.OutOrStdout()
	for _, line := range lines[start:] {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Fprintln(out, line)
			continue
		}
		b, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Fprintln(out, string(b))
	}
	return nil
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	path, err := auditPath(args)
	if err != nil {
		return err
	}
	filter := audit.Filter{AgentID: queryAgent, Kind: queryKind}
	if querySince > 0 {
		filter.From = time.Now().UTC().Add(-querySince)
	}
	result, err := audit.Query(path, filter)
	if err != nil {
		return err
	}
	if queryFormat == "json" {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	return nil
}
