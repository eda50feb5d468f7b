package model

import "time"

// Agent is the registry record the engine reads tier and score from.
type Agent struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Status          *Level    `json:"status,omitempty"`
	ConfidenceScore float64   `json:"confidence_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Tier resolves the agent's effective maturity level.
//
// Resolution order:
//  1. An explicit Status pin (administrative override) wins.
//  2. Otherwise the tier is derived from ConfidenceScore.
func (a *Agent) Tier() Level {
	if a.Status != nil && a.Status.Valid() {
		return *a.Status
	}
	return LevelFromConfidence(a.ConfidenceScore)
}

// Pinned reports whether the tier is an explicit override.
func (a *Agent) Pinned() bool {
	return a.Status != nil && a.Status.Valid()
}

// DisplayName returns Name, falling back to ID.
func (a *Agent) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// LevelPtr returns a pointer to l, for pinning Agent.Status.
func LevelPtr(l Level) *Level {
	return &l
}
