// Package config reads and writes the per-repository configuration file
// at <root>/.bdl/config.json.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/example/bdl/internal/index"
)

// Dir is the repository metadata directory under the repository root.
const Dir = ".bdl"

// FileName is the configuration file name inside Dir.
const FileName = "config.json"

// DefaultTemplate is the storename template applied when the configuration
// carries none.
const DefaultTemplate = index.DefaultTemplate

// RepoConfig is the repository section of the configuration.
type RepoConfig struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Template string `json:"template"`
}

// Config is the persisted repository configuration: the repository section
// plus an opaque engine section owned by the site engine.
type Config struct {
	Repo   RepoConfig        `json:"repo"`
	Engine map[string]string `json:"engine"`
}

// ConfigError reports a missing, unreadable or malformed configuration.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Path returns the configuration file path for a repository root.
func Path(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Load reads the configuration under root. A missing file surfaces as a
// ConfigError wrapping fs.ErrNotExist; a configuration without a repository
// URL is rejected. A missing template is tolerated, the index default
// applies.
func Load(root string) (*Config, error) {
	path := Path(root)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if cfg.Repo.URL == "" {
		return nil, &ConfigError{Path: path, Err: errors.New("missing repo.url")}
	}
	if cfg.Engine == nil {
		cfg.Engine = make(map[string]string)
	}
	return &cfg, nil
}

// Save writes cfg under root. The <root>/.bdl directory must already exist:
// configuration is only ever written into a connected repository.
func Save(root string, cfg *Config) error {
	dir := filepath.Join(root, Dir)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return &ConfigError{Path: Path(root), Err: fmt.Errorf("not a repository: %s missing", dir)}
	} else if err != nil {
		return &ConfigError{Path: Path(root), Err: err}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &ConfigError{Path: Path(root), Err: err}
	}
	data = append(data, '\n')

	if err := os.WriteFile(Path(root), data, 0644); err != nil {
		return &ConfigError{Path: Path(root), Err: err}
	}
	return nil
}
