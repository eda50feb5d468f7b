package denylist

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Patterns holds the raw pattern strings organized by category.
type Patterns struct {
	Packages []string `yaml:"packages"` // "name" or "name@version", * globs allowed
	Sandbox  []string `yaml:"sandbox"`  // substrings rejected in sandbox request fields
}

type packagePattern struct {
	raw     string
	name    *regexp.Regexp
	version *regexp.Regexp // nil matches every version
}

// Denylist holds compiled patterns for fast matching. Safe for concurrent use.
type Denylist struct {
	mu              sync.RWMutex
	packagePatterns []packagePattern
	sandboxPatterns []string // substring matching (case-insensitive)
	raw             Patterns
}

// New creates a Denylist from raw patterns, compiling regexes.
func New(p Patterns) *Denylist {
	d := &Denylist{}
	for _, pkg := range p.Packages {
		d.addPackage(pkg)
	}
	for _, s := range p.Sandbox {
		d.addSandbox(s)
	}
	return d
}

// NewDefault creates a Denylist with the hardcoded default patterns.
func NewDefault() *Denylist {
	return New(DefaultPatterns)
}

// DefaultPath returns ~/.trustgate/denylist.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".trustgate", "denylist.yaml")
	}
	return filepath.Join(home, ".trustgate", "denylist.yaml")
}

// Load reads a denylist from a YAML file and merges it over the defaults.
// Falls back to defaults if the file doesn't exist.
func Load(path string) (*Denylist, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return nil, err
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	d := NewDefault()
	for _, pkg := range p.Packages {
		d.AddPattern("packages", pkg)
	}
	for _, s := range p.Sandbox {
		d.AddPattern("sandbox", s)
	}
	return d, nil
}

// IsPackageBanned checks a package name and version against the package
// patterns. Returns (banned, reason).
func (d *Denylist) IsPackageBanned(name, version string) (bool, string) {
	name = strings.ToLower(strings.TrimSpace(name))
	version = strings.ToLower(strings.TrimSpace(version))

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.packagePatterns {
		if !p.name.MatchString(name) {
			continue
		}
		if p.version == nil || p.version.MatchString(version) {
			return true, "banned: matches ban-list pattern " + p.raw
		}
	}
	return false, ""
}

// IsSandboxBlocked checks one sandbox request field against the sandbox
// patterns. Returns (blocked, reason).
func (d *Denylist) IsSandboxBlocked(value string) (bool, string) {
	lower := strings.ToLower(value)

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, pattern := range d.sandboxPatterns {
		if strings.Contains(lower, pattern) {
			return true, "sandbox pattern blocked: " + pattern
		}
	}
	return false, ""
}

// AddPattern adds a pattern to the denylist at runtime.
func (d *Denylist) AddPattern(category, pattern string) {
	switch category {
	case "packages":
		d.addPackage(pattern)
	case "sandbox":
		d.addSandbox(pattern)
	}
}

// Replace swaps in the patterns of next. Used by hot reload so holders of d
// see the new patterns without re-wiring.
func (d *Denylist) Replace(next *Denylist) {
	next.mu.RLock()
	pkgs := append([]packagePattern(nil), next.packagePatterns...)
	sbx := append([]string(nil), next.sandboxPatterns...)
	raw := Patterns{
		Packages: append([]string(nil), next.raw.Packages...),
		Sandbox:  append([]string(nil), next.raw.Sandbox...),
	}
	next.mu.RUnlock()

	d.mu.Lock()
	d.packagePatterns = pkgs
	d.sandboxPatterns = sbx
	d.raw = raw
	d.mu.Unlock()
}

// ToMap returns the raw patterns as a map for serialization.
func (d *Denylist) ToMap() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]any{
		"packages": append([]string(nil), d.raw.Packages...),
		"sandbox":  append([]string(nil), d.raw.Sandbox...),
	}
}

func (d *Denylist) addPackage(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}
	namePart, versionPart, hasVersion := strings.Cut(pattern, "@")
	nameRe, err := regexp.Compile("(?i)^" + patternToRegex(namePart) + "$")
	if err != nil {
		return
	}
	pp := packagePattern{raw: pattern, name: nameRe}
	if hasVersion && versionPart != "" && versionPart != "*" {
		versionRe, err := regexp.Compile("(?i)^" + patternToRegex(versionPart) + "$")
		if err != nil {
			return
		}
		pp.version = versionRe
	}

	d.mu.Lock()
	d.raw.Packages = append(d.raw.Packages, pattern)
	d.packagePatterns = append(d.packagePatterns, pp)
	d.mu.Unlock()
}

func (d *Denylist) addSandbox(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return
	}
	d.mu.Lock()
	d.raw.Sandbox = append(d.raw.Sandbox, pattern)
	d.sandboxPatterns = append(d.sandboxPatterns, strings.ToLower(pattern))
	d.mu.Unlock()
}

// patternToRegex converts a simple glob-like pattern to a regex.
func patternToRegex(pattern string) string {
	escaped := regexp.QuoteMeta(strings.TrimSpace(pattern))
	return strings.ReplaceAll(escaped, `\*`, ".*")
}
