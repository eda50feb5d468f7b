package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/denylist"
	"github.com/ppiankov/trustgate/internal/policy"
)

var (
	initDir   string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "", "Config directory (default ~/.trustgate)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap trustgate configuration",
	Long: `Creates the config directory with a default config.yaml, policy.yaml
(action complexities, capability tiers, confidence deltas) and denylist.yaml
(banned packages, forbidden sandbox values).

Existing files are kept unless --force is set.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := initDir
	if dir == "" {
		dir = config.DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	denylistContent, err := defaultDenylistYAML()
	if err != nil {
		return fmt.Errorf("generate default denylist: %w", err)
	}
	files := []struct{ name, content string }{
		{"config.yaml", config.DefaultYAML()},
		{"policy.yaml", policy.DefaultConfigYAML()},
		{"denylist.yaml", denylistContent},
	}

	var created []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, path)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "trustgate init complete.")
	fmt.Fprintln(out)
	if len(created) > 0 {
		fmt.Fprintln(out, "Created:")
		for _, path := range created {
			fmt.Fprintf(out, "  %s\n", path)
		}
	} else {
		fmt.Fprintln(out, "All files already exist (use --force to overwrite).")
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Register an agent:")
	fmt.Fprintln(out, "  trustgate agent add my-agent --confidence 0.5")
	fmt.Fprintln(out, "Start the server:")
	fmt.Fprintln(out, "  trustgate serve")
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// defaultDenylistYAML generates a commented default denylist.yaml.
func defaultDenylistYAML() (string, error) {
	data, err := yaml.Marshal(denylist.DefaultPatterns)
	if err != nil {
		return "", err
	}
	header := "# trustgate denylist.\n" +
		"# packages: \"name\" or \"name@version\", * globs allowed. A match bans the\n" +
		"# package regardless of registry state.\n" +
		"# sandbox: case-insensitive substrings rejected in sandbox requests.\n\n"
	return header + string(data), nil
}
