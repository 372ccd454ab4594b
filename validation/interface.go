// Package validation checks guest manifests before they are loaded.
package validation

import "github.com/reglet-dev/reglet-guest-sdk/guest/values"

// ManifestValidator validates guest manifests.
type ManifestValidator interface {
	// Validate checks a manifest against the manifest schema and version rules.
	Validate(manifest *values.Manifest) (*ValidationResult, error)
}

// ValidationResult collects every problem found in one manifest.
type ValidationResult struct {
	Valid  bool
	Errors []string
}
