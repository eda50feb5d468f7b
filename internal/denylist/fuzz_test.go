package denylist

import (
	"testing"
)

func FuzzIsPackageBanned(f *testing.F) {
	dl := NewDefault()

	seeds := []struct {
		name    string
		version string
	}{
		{"numpy", "1.26.0"},
		{"colourama", ""},
		{"event-stream", "3.3.6"},
		{"", ""},
		{"a@b@c", "*"},
		{"(", "["},
	}
	for _, s := range seeds {
		f.Add(s.name, s.version)
	}

	f.Fuzz(func(t *testing.T, name, version string) {
		// Must not panic on any input
		dl.IsPackageBanned(name, version)
		dl.IsSandboxBlocked(name)
	})
}
