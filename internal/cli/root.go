package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/engine"
	"github.com/ppiankov/trustgate/internal/logging"
)

var (
	cfgFile      string
	flagDB       string
	flagPolicy   string
	flagDenylist string
	flagAuditLog string
	flagLogLevel string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to config YAML (default ~/.trustgate/config.yaml)")
	pf.StringVar(&flagDB, "db", "", "Path to the SQLite database")
	pf.StringVar(&flagPolicy, "policy", "", "Path to policy YAML")
	pf.StringVar(&flagDenylist, "denylist", "", "Path to denylist YAML")
	pf.StringVar(&flagAuditLog, "audit-log", "", "Path to audit log JSONL file")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
}

var rootCmd = &cobra.Command{
	Use:   "trustgate",
	Short: "Maturity-based governance for AI agents",
	Long: "Decides what an agent may do from its earned confidence tier.\n" +
		"Routes blocked triggers to training, proposals or live supervision,\n" +
		"gates third-party packages, and runs agent code in a container sandbox.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config file, environment and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagPolicy != "" {
		cfg.PolicyPath = flagPolicy
	}
	if flagDenylist != "" {
		cfg.DenylistPath = flagDenylist
	}
	if flagAuditLog != "" {
		cfg.AuditLogPath = flagAuditLog
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// openEngine builds an engine for one-shot commands. Callers must Close it.
func openEngine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if flagLogLevel == "" && os.Getenv("TRUSTGATE_LOG_LEVEL") == "" {
		level = "warn"
	}
	opts = append([]engine.Option{engine.WithLogger(logging.New(os.Stderr, level))}, opts...)
	eng, err := engine.New(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	return eng, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}
