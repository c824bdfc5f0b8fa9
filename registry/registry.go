// Package registry manages the suite manifest and resolves it into runnable
// test metadata.
package registry

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperspot/e2e-harness/types"
)

// Registry manages test suites and their configurations.
type Registry struct {
	config Config
	tests  []types.TestMetadata
	suites map[string]suiteInfo
	mu     sync.RWMutex
}

// Config contains registry configuration.
type Config struct {
	Log *zap.SugaredLogger
	// ManifestFile is the path to the suite manifest (suites.yaml).
	ManifestFile string
	// DefaultTimeout applies to tests without their own timeout; overridden
	// by the manifest metadata when set there.
	DefaultTimeout time.Duration
}

// NewRegistry creates a new registry instance from the suite manifest.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.ManifestFile == "" {
		return nil, fmt.Errorf("suite manifest file is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.S()
	}

	r := &Registry{config: cfg}

	if err := r.loadManifest(cfg.ManifestFile); err != nil {
		return nil, fmt.Errorf("failed to load suite manifest: %w", err)
	}

	cfg.Log.Debugw("Registry loaded", "tests", len(r.tests))

	return r, nil
}

// loadManifest reads the manifest file and resolves it into test metadata.
func (r *Registry) loadManifest(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	manifest, err := loadManifestFile(path)
	if err != nil {
		return err
	}
	if err := validateManifest(manifest); err != nil {
		return err
	}

	defaultTimeout := r.config.DefaultTimeout
	if manifest.Metadata.DefaultTimeout > 0 {
		defaultTimeout = manifest.Metadata.DefaultTimeout
	}

	var tests []types.TestMetadata
	for _, suite := range manifest.Suites {
		for _, tc := range suite.Tests {
			timeout := defaultTimeout
			if tc.Timeout != nil {
				timeout = *tc.Timeout
			}
			tests = append(tests, types.TestMetadata{
				ID:       suite.ID + "/" + testKey(tc),
				Suite:    suite.ID,
				FuncName: tc.Name,
				Package:  tc.Package,
				Timeout:  timeout,
				RunAll:   tc.RunAll || tc.Name == "",
			})
		}
	}

	r.tests = tests
	r.configSuites(manifest)
	return nil
}

type suiteInfo struct {
	smoke       bool
	description string
}

func (r *Registry) configSuites(manifest *types.SuiteManifest) {
	r.suites = make(map[string]suiteInfo, len(manifest.Suites))
	for _, s := range manifest.Suites {
		r.suites[s.ID] = suiteInfo{smoke: s.Smoke, description: s.Description}
	}
}

// GetTests returns all tests resolved from the manifest.
func (r *Registry) GetTests() []types.TestMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tests
}

// GetSmokeTests returns only the tests belonging to smoke-marked suites.
func (r *Registry) GetSmokeTests() []types.TestMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tests []types.TestMetadata
	for _, test := range r.tests {
		if r.suites[test.Suite].smoke {
			tests = append(tests, test)
		}
	}
	return tests
}

// IsSmokeSuite reports whether the named suite is part of the smoke subset.
func (r *Registry) IsSmokeSuite(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.suites[id].smoke
}

// GetConfig returns the registry configuration.
func (r *Registry) GetConfig() Config {
	return r.config
}

// loadManifestFile loads a suite manifest from a file.
func loadManifestFile(path string) (*types.SuiteManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file %s: %w", path, err)
	}

	var manifest types.SuiteManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest file %s: %w", path, err)
	}
	return &manifest, nil
}

// validateManifest rejects manifests the runner cannot act on.
func validateManifest(manifest *types.SuiteManifest) error {
	if len(manifest.Suites) == 0 {
		return fmt.Errorf("manifest defines no suites")
	}

	seen := make(map[string]bool)
	for _, suite := range manifest.Suites {
		if suite.ID == "" {
			return fmt.Errorf("suite with empty id")
		}
		if seen[suite.ID] {
			return fmt.Errorf("duplicate suite id %q", suite.ID)
		}
		seen[suite.ID] = true
		if len(suite.Tests) == 0 {
			return fmt.Errorf("suite %q defines no tests", suite.ID)
		}
		for _, tc := range suite.Tests {
			if tc.Package == "" {
				return fmt.Errorf("suite %q has a test with no package", suite.ID)
			}
		}
	}
	return nil
}

func testKey(tc types.TestConfig) string {
	if tc.Name != "" {
		return tc.Name
	}
	return tc.Package
}
