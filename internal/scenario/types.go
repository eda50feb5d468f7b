package scenario

import "github.com/ppiankov/trustgate/internal/model"

// AgentFixture describes the agent a case runs as. Status pins the tier;
// otherwise the tier follows Confidence.
type AgentFixture struct {
	Confidence float64      `yaml:"confidence"`
	Status     *model.Level `yaml:"status,omitempty"`
}

// RegistryEntry seeds the package registry for a scenario.
type RegistryEntry struct {
	Name        string              `yaml:"name"`
	Version     string              `yaml:"version"`
	Status      model.PackageStatus `yaml:"status"`
	MinMaturity model.Level         `yaml:"min_maturity"`
	BanReason   string              `yaml:"ban_reason,omitempty"`
}

// Case is one assertion. Exactly one of Action, Capability or Package is set.
type Case struct {
	Agent      AgentFixture `yaml:"agent"`
	Action     string       `yaml:"action,omitempty"`
	Capability string       `yaml:"capability,omitempty"`
	Package    string       `yaml:"package,omitempty"` // name==version
	Expect     string       `yaml:"expect"`            // allow or deny
}

// Subject returns the kind and value under test.
func (c Case) Subject() (string, string) {
	switch {
	case c.Action != "":
		return "action", c.Action
	case c.Capability != "":
		return "capability", c.Capability
	case c.Package != "":
		return "package", c.Package
	}
	return "", ""
}

// Scenario is a named collection of governance assertions.
type Scenario struct {
	Name     string          `yaml:"name"`
	Registry []RegistryEntry `yaml:"registry,omitempty"`
	Cases    []Case          `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Kind     string `json:"kind"`
	Subject  string `json:"subject"`
	Tier     string `json:"tier"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Reason   string `json:"reason"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
