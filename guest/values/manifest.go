package values

// RuntimeKind tells the loader how a guest is hosted.
type RuntimeKind string

const (
	// RuntimeNative guests are Go values living in the host process.
	RuntimeNative RuntimeKind = "native"
	// RuntimeRPC guests run in a separate process reached over go-plugin.
	RuntimeRPC RuntimeKind = "rpc"
	// RuntimeWASM guests are WebAssembly modules executed by wazero.
	RuntimeWASM RuntimeKind = "wasm"
)

// Manifest describes a guest: who it is, who it specializes and where it lives.
type Manifest struct {
	// Name is the guest id, unique within a registry.
	Name string `json:"name" yaml:"name" jsonschema:"pattern=^[A-Za-z0-9_-]+$"`

	// Parent is the name of the guest this one specializes. Empty means no parent.
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty" jsonschema:"pattern=^[A-Za-z0-9_-]+$"`

	// Version is the guest's semantic version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// ParentVersion is a semver constraint the parent's version must satisfy (e.g. ">= 1.2").
	ParentVersion string `json:"parentVersion,omitempty" yaml:"parentVersion,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Capabilities lists the capabilities the guest declares. Informational only:
	// availability is always asked from the guest at resolution time.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Runtime selects the hosting mechanism. Empty means native.
	Runtime RuntimeKind `json:"runtime,omitempty" yaml:"runtime,omitempty" jsonschema:"enum=native,enum=rpc,enum=wasm"`

	// Path locates the guest artifact (WASM module or plugin binary), relative to the manifest.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Digest pins the artifact at Path ("sha256:<hex>"). Empty disables the check.
	Digest string `json:"digest,omitempty" yaml:"digest,omitempty" jsonschema:"pattern=^(sha256|sha512):[0-9a-fA-F]+$"`
}

// ArtifactDigest parses Digest. ok is false when no pin is set.
func (m Manifest) ArtifactDigest() (d Digest, ok bool, err error) {
	if m.Digest == "" {
		return Digest{}, false, nil
	}
	d, err = ParseDigest(m.Digest)
	if err != nil {
		return Digest{}, false, err
	}
	return d, true, nil
}

// Kind returns the runtime, defaulting to native.
func (m Manifest) Kind() RuntimeKind {
	if m.Runtime == "" {
		return RuntimeNative
	}
	return m.Runtime
}
