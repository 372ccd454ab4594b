// Package parser decodes guest manifests.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

// ManifestParser parses raw manifest bytes into a Manifest.
type ManifestParser interface {
	// Parse unmarshals manifest bytes into a Manifest struct.
	Parse(data []byte) (*values.Manifest, error)
}

// ForPath returns the parser matching the file extension of path.
func ForPath(path string) (ManifestParser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlManifestParser(), nil
	case ".json":
		return NewJSONManifestParser(), nil
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", filepath.Ext(path))
	}
}
