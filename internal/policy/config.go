package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/trustgate/internal/model"
)

// KeywordRule assigns a complexity to any action type containing Keyword.
type KeywordRule struct {
	Keyword    string `yaml:"keyword"`
	Complexity int    `yaml:"complexity"`
}

// ConfidenceDeltas are the score adjustments per outcome signal.
type ConfidenceDeltas struct {
	PositiveHigh float64 `yaml:"positive_high"`
	PositiveLow  float64 `yaml:"positive_low"`
	NegativeHigh float64 `yaml:"negative_high"`
	NegativeLow  float64 `yaml:"negative_low"`
}

// PolicyConfig holds all configurable governance parameters.
type PolicyConfig struct {
	DefaultComplexity  int                    `yaml:"default_complexity"`
	Actions            map[string]int         `yaml:"actions"`
	Keywords           []KeywordRule          `yaml:"keywords"`
	Capabilities       map[string]model.Level `yaml:"capabilities"`
	Confidence         ConfidenceDeltas       `yaml:"confidence"`
	PackageMinMaturity model.Level            `yaml:"package_min_maturity"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() *PolicyConfig {
	return &PolicyConfig{
		DefaultComplexity: model.ComplexityStreaming,
		Actions: map[string]int{
			// 1: read-only / presentation
			"search":          1,
			"read":            1,
			"list":            1,
			"get":             1,
			"summarize":       1,
			"present_chart":   1,
			"present_form":    1,
			"present_table":   1,
			"canvas_present":  1,
			"browser_screens": 1,
			// 2: streaming / moderate
			"stream_chat":      2,
			"browser_navigate": 2,
			"analyze":          2,
			"draft":            2,
			"suggest":          2,
			"notify":           2,
			// 3: state-changing
			"create":         3,
			"update":         3,
			"send_email":     3,
			"post_message":   3,
			"submit_form":    3,
			"schedule":       3,
			"device_control": 3,
			// 4: destructive / critical
			"delete":          4,
			"execute_code":    4,
			"execute_command": 4,
			"deploy":          4,
			"transfer_funds":  4,
			"payment":         4,
			"drop_table":      4,
		},
		Keywords: []KeywordRule{
			{Keyword: "read", Complexity: 1},
			{Keyword: "view", Complexity: 1},
			{Keyword: "stream", Complexity: 2},
			{Keyword: "write", Complexity: 3},
			{Keyword: "send", Complexity: 3},
			{Keyword: "create", Complexity: 3},
			{Keyword: "update", Complexity: 3},
			{Keyword: "delete", Complexity: 4},
			{Keyword: "execute", Complexity: 4},
			{Keyword: "payment", Complexity: 4},
			{Keyword: "deploy", Complexity: 4},
		},
		Capabilities: map[string]model.Level{
			"camera":           model.Intern,
			"location":         model.Intern,
			"notifications":    model.Intern,
			"screen_recording": model.Supervised,
			"clipboard":        model.Supervised,
			"command_execute":  model.Autonomous,
			"package_use":      model.Intern,
		},
		Confidence: ConfidenceDeltas{
			PositiveHigh: 0.05,
			PositiveLow:  0.01,
			NegativeHigh: -0.10,
			NegativeLow:  -0.02,
		},
		PackageMinMaturity: model.Intern,
	}
}

// DefaultPath returns ~/.trustgate/policy.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".trustgate", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.trustgate/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*PolicyConfig, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*PolicyConfig, string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return DefaultConfig(), hashBytes(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid policy config: %w", err)
	}

	return cfg, hashBytes(data), nil
}

// Validate checks complexities and deltas are in range.
func (c *PolicyConfig) Validate() error {
	if _, ok := model.LevelForComplexity(c.DefaultComplexity); !ok {
		return fmt.Errorf("default_complexity %d outside 1..4", c.DefaultComplexity)
	}
	for action, cx := range c.Actions {
		if _, ok := model.LevelForComplexity(cx); !ok {
			return fmt.Errorf("action %q: complexity %d outside 1..4", action, cx)
		}
	}
	for _, kw := range c.Keywords {
		if kw.Keyword == "" {
			return fmt.Errorf("keyword rule with empty keyword")
		}
		if _, ok := model.LevelForComplexity(kw.Complexity); !ok {
			return fmt.Errorf("keyword %q: complexity %d outside 1..4", kw.Keyword, kw.Complexity)
		}
	}
	for name := range c.Capabilities {
		if strings.EqualFold(name, CapabilityCodeExecution) {
			return fmt.Errorf("capability %q follows actions.%s; set the tier there", name, ActionExecuteCode)
		}
	}
	d := c.Confidence
	if d.PositiveHigh < 0 || d.PositiveLow < 0 || d.NegativeHigh > 0 || d.NegativeLow > 0 {
		return fmt.Errorf("confidence deltas have the wrong sign")
	}
	if d.PositiveHigh > 1 || d.PositiveLow > 1 || d.NegativeHigh < -1 || d.NegativeLow < -1 {
		return fmt.Errorf("confidence deltas must be within [-1,1]")
	}
	return nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML string for trustgate init.
func DefaultConfigYAML() string {
	return `# trustgate policy configuration
# Generated by: trustgate init
#
# Tiers (lowest to highest): STUDENT, INTERN, SUPERVISED, AUTONOMOUS
# Confidence bins: [0,0.5) STUDENT, [0.5,0.7) INTERN, [0.7,0.9) SUPERVISED, [0.9,1] AUTONOMOUS
# An explicit status pinned on an agent always wins over its score.
#
# Complexity -> required tier:
#   1 read-only/presentation  -> STUDENT
#   2 streaming/moderate      -> INTERN
#   3 state-changing          -> SUPERVISED
#   4 destructive/critical    -> AUTONOMOUS
#
# Lookup order for an action type:
#   1. exact match in actions
#   2. highest complexity among keywords contained in the action type
#   3. default_complexity

default_complexity: 2

actions:
  search: 1
  read: 1
  present_chart: 1
  stream_chat: 2
  analyze: 2
  create: 3
  send_email: 3
  device_control: 3
  delete: 4
  execute_code: 4
  transfer_funds: 4

keywords:
  - keyword: delete
    complexity: 4
  - keyword: execute
    complexity: 4
  - keyword: write
    complexity: 3
  - keyword: read
    complexity: 1

# Capability checks declare the required tier directly. code_execution is
# not listed: it always requires the tier of actions.execute_code.
capabilities:
  camera: INTERN
  location: INTERN
  notifications: INTERN
  screen_recording: SUPERVISED
  command_execute: AUTONOMOUS

# Score adjustment per outcome signal. Results are clamped to [0,1].
confidence:
  positive_high: 0.05
  positive_low: 0.01
  negative_high: -0.10
  negative_low: -0.02

# Minimum tier recorded on newly requested packages.
package_min_maturity: INTERN
`
}
