package tiebreak

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Decisions maps target ids to the guest chosen for them.
type Decisions struct {
	Targets map[string]string `yaml:"targets"`
}

// Get returns the remembered guest for target.
func (d *Decisions) Get(target string) (string, bool) {
	if d == nil || d.Targets == nil {
		return "", false
	}
	id, ok := d.Targets[target]
	return id, ok
}

// Set remembers guest for target.
func (d *Decisions) Set(target, guest string) {
	if d.Targets == nil {
		d.Targets = make(map[string]string)
	}
	d.Targets[target] = guest
}

// Clone returns a deep copy.
func (d *Decisions) Clone() *Decisions {
	if d == nil {
		return &Decisions{}
	}
	return &Decisions{Targets: maps.Clone(d.Targets)}
}

// fileStoreConfig holds configuration for the FileStore.
type fileStoreConfig struct {
	path     string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		path:     filepath.Join(os.Getenv("HOME"), ".reglet", "guest-decisions.yaml"),
		dirPerm:  0o755,
		filePerm: 0o600,
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithPath sets the path to the decisions file.
func WithPath(path string) FileStoreOption {
	return func(c *fileStoreConfig) {
		if path != "" {
			c.path = path
		}
	}
}

// WithFilePermissions sets the file permissions for the decisions file.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// FileStore keeps tie-break decisions in a YAML file.
type FileStore struct {
	config fileStoreConfig
}

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// Load reads the saved decisions. A missing file yields an empty set.
func (s *FileStore) Load() (*Decisions, error) {
	data, err := os.ReadFile(s.config.path)
	if os.IsNotExist(err) {
		return &Decisions{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decision store: %w", err)
	}

	var d Decisions
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse decision store: %w", err)
	}
	return &d, nil
}

// Save persists the decisions.
func (s *FileStore) Save(d *Decisions) error {
	data, err := yaml.Marshal(d.Clone())
	if err != nil {
		return fmt.Errorf("failed to marshal decisions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.config.path), s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create decision store directory: %w", err)
	}
	if err := os.WriteFile(s.config.path, data, s.config.filePerm); err != nil {
		return fmt.Errorf("failed to write decision store: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the backing store.
func (s *FileStore) ConfigPath() string {
	return s.config.path
}
