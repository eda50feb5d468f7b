package model

import (
	"fmt"
	"strings"
)

// Level is an agent maturity tier. Higher level = more trusted.
type Level int

const (
	Student    Level = iota // Read-only and presentation actions only
	Intern                  // Moderate actions, automated triggers need proposals
	Supervised              // State-changing actions under live supervision
	Autonomous              // Everything, including destructive actions
)

// Confidence bin lower bounds. Bins are half-open except the last: [0.9,1.0].
const (
	InternThreshold     = 0.5
	SupervisedThreshold = 0.7
	AutonomousThreshold = 0.9
)

// Action complexity classes. Each maps 1:1 onto the minimum required level.
const (
	ComplexityPresentation = 1
	ComplexityStreaming    = 2
	ComplexityStateChange  = 3
	ComplexityCritical     = 4
)

var levelNames = [...]string{"STUDENT", "INTERN", "SUPERVISED", "AUTONOMOUS"}

// Levels lists every tier in ascending order.
func Levels() []Level {
	return []Level{Student, Intern, Supervised, Autonomous}
}

// String returns the canonical upper-case tier name.
func (l Level) String() string {
	if l < Student || l > Autonomous {
		return fmt.Sprintf("UNKNOWN(%d)", int(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the four tiers.
func (l Level) Valid() bool {
	return l >= Student && l <= Autonomous
}

// AtLeast reports whether l is ordered at or above other.
func (l Level) AtLeast(other Level) bool {
	return l >= other
}

// Complexity returns the highest action complexity this level may perform.
func (l Level) Complexity() int {
	return int(l) + 1
}

// MarshalText encodes the level as its tier name.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid maturity level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a tier name (case-insensitive).
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses a tier name. Matching is case-insensitive.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return Student, fmt.Errorf("unknown maturity level %q", s)
}

// ClampConfidence bounds a score to [0,1].
func ClampConfidence(score float64) float64 {
	switch {
	case score != score: // NaN
		return 0
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// LevelFromConfidence bins a confidence score into a tier.
// Scores outside [0,1] are clamped first.
func LevelFromConfidence(score float64) Level {
	score = ClampConfidence(score)
	switch {
	case score >= AutonomousThreshold:
		return Autonomous
	case score >= SupervisedThreshold:
		return Supervised
	case score >= InternThreshold:
		return Intern
	default:
		return Student
	}
}

// ThresholdFor returns the minimum confidence score that bins into l.
func ThresholdFor(l Level) float64 {
	switch l {
	case Intern:
		return InternThreshold
	case Supervised:
		return SupervisedThreshold
	case Autonomous:
		return AutonomousThreshold
	default:
		return 0
	}
}

// LevelForComplexity returns the minimum tier required for an action
// complexity. ok is false for complexities outside 1..4.
func LevelForComplexity(complexity int) (Level, bool) {
	if complexity < ComplexityPresentation || complexity > ComplexityCritical {
		return Student, false
	}
	return Level(complexity - 1), true
}
