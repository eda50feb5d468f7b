package model

import "time"

// PackageStatus is the registry state of one name:version.
type PackageStatus string

const (
	PackagePending PackageStatus = "pending"
	PackageActive  PackageStatus = "active"
	PackageBanned  PackageStatus = "banned"
)

// Valid reports whether s is a known status.
func (s PackageStatus) Valid() bool {
	switch s {
	case PackagePending, PackageActive, PackageBanned:
		return true
	}
	return false
}

// PackageEntry is one registry row. Versions of the same name are
// independent entries.
type PackageEntry struct {
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Status      PackageStatus `json:"status"`
	MinMaturity Level         `json:"min_maturity"`
	BanReason   string        `json:"ban_reason,omitempty"`
	RequestedBy string        `json:"requested_by,omitempty"`
	ApprovedBy  string        `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Key returns the registry key "name:version".
func (p *PackageEntry) Key() string {
	return PackageKey(p.Name, p.Version)
}

// PackageKey builds the registry key for name and version.
func PackageKey(name, version string) string {
	return name + ":" + version
}
