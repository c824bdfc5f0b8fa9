package types

import "time"

// SuiteManifest is the complete test-suite configuration loaded from the
// manifest file (suites.yaml).
type SuiteManifest struct {
	Suites   []SuiteConfig `yaml:"suites"`
	Metadata struct {
		// DefaultTimeout applies to tests that do not set their own.
		DefaultTimeout time.Duration `yaml:"default_timeout"`
	} `yaml:"metadata"`
}

// SuiteConfig represents a named collection of related tests.
type SuiteConfig struct {
	ID          string       `yaml:"id"`
	Description string       `yaml:"description"`
	// Smoke marks the suite as part of the fast smoke subset selected by
	// the --smoke flag.
	Smoke bool         `yaml:"smoke,omitempty"`
	Tests []TestConfig `yaml:"tests"`
}

// TestConfig represents a single test entry within a suite.
type TestConfig struct {
	Name    string         `yaml:"name,omitempty"`
	Package string         `yaml:"package"`
	RunAll  bool           `yaml:"run_all,omitempty"`
	Timeout *time.Duration `yaml:"timeout,omitempty"`
}

// TestMetadata identifies one runnable test resolved from the manifest.
type TestMetadata struct {
	ID       string
	Suite    string
	FuncName string
	Package  string
	Timeout  time.Duration
	RunAll   bool
}

// GetName returns a name for the test based on available fields.
func (m TestMetadata) GetName() string {
	if m.FuncName != "" {
		return m.FuncName
	}
	if m.Package != "" {
		return m.Package
	}
	return m.ID
}
