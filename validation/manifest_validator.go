package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/invopop/jsonschema"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
	schemavalidator "github.com/santhosh-tekuri/jsonschema/v5"
)

const manifestSchemaURL = "reglet://guest-manifest.json"

var _ ManifestValidator = (*SchemaValidator)(nil)

// SchemaValidator validates manifests against a JSON schema reflected from
// values.Manifest, then checks the version fields with semver.
type SchemaValidator struct {
	schema *schemavalidator.Schema
	raw    []byte
}

// NewManifestValidator compiles the manifest schema.
func NewManifestValidator() (*SchemaValidator, error) {
	raw, err := ManifestSchema()
	if err != nil {
		return nil, err
	}

	compiler := schemavalidator.NewCompiler()
	if err := compiler.AddResource(manifestSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add manifest schema: %w", err)
	}
	schema, err := compiler.Compile(manifestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	return &SchemaValidator{schema: schema, raw: raw}, nil
}

// ManifestSchema returns the JSON schema of a guest manifest.
func ManifestSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true

	b, err := json.MarshalIndent(r.Reflect(&values.Manifest{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generated schema: %w", err)
	}
	return b, nil
}

// Schema returns the compiled schema source.
func (v *SchemaValidator) Schema() []byte {
	return append([]byte(nil), v.raw...)
}

// Validate implements ManifestValidator.
func (v *SchemaValidator) Validate(manifest *values.Manifest) (*ValidationResult, error) {
	if manifest == nil {
		return &ValidationResult{Valid: false, Errors: []string{"manifest is nil"}}, nil
	}

	// The validator works on generic JSON values.
	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	var problems []string
	if err := v.schema.Validate(doc); err != nil {
		verr, ok := err.(*schemavalidator.ValidationError)
		if !ok {
			return nil, fmt.Errorf("schema validation: %w", err)
		}
		problems = append(problems, flatten(verr)...)
	}

	if _, err := values.NewGuestName(manifest.Name); manifest.Name != "" && err != nil {
		problems = append(problems, fmt.Sprintf("name: %v", err))
	}
	if manifest.Version != "" {
		if _, err := semver.NewVersion(manifest.Version); err != nil {
			problems = append(problems, fmt.Sprintf("version: %v", err))
		}
	}
	if manifest.ParentVersion != "" {
		if manifest.Parent == "" {
			problems = append(problems, "parentVersion: set without a parent")
		}
		if _, err := semver.NewConstraint(manifest.ParentVersion); err != nil {
			problems = append(problems, fmt.Sprintf("parentVersion: %v", err))
		}
	}
	for _, c := range manifest.Capabilities {
		if _, err := values.NewCapabilityName(c); err != nil {
			problems = append(problems, fmt.Sprintf("capabilities: %v", err))
		}
	}
	if manifest.Kind() != values.RuntimeNative && manifest.Path == "" {
		problems = append(problems, fmt.Sprintf("path: required for %s guests", manifest.Kind()))
	}
	if _, _, err := manifest.ArtifactDigest(); err != nil {
		problems = append(problems, fmt.Sprintf("digest: %v", err))
	}

	sort.Strings(problems)
	return &ValidationResult{Valid: len(problems) == 0, Errors: problems}, nil
}

// flatten returns the leaf messages of a validation error tree.
func flatten(err *schemavalidator.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, err.Message)}
	}
	var out []string
	for _, c := range err.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
