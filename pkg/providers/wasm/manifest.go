package wasm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes a WASM-compiled provider: which resource type it
// claims, where its compiled module lives, what host capabilities it
// needs, and the JSON schema for its config and state.
//
// Adapted from pkg/providers/host/manifest.go, dropping the
// per-resource-type schema map (the wasm package hosts exactly one
// resource type per manifest; spec.md's single-Provider-per-stack-entry
// model has no use for a provider claiming several) and the checksum
// verification path (no module registry/distribution channel exists yet
// to make a checksum meaningful).
type Manifest struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	ResourceType string   `yaml:"resourceType"`
	Entrypoint   string   `yaml:"entrypoint"`
	Capabilities []string `yaml:"capabilities,omitempty"`

	// ConfigSchema and StateSchema are raw JSON Schema documents; the
	// provider validates against them before Configure, not this package.
	ConfigSchema json.RawMessage `yaml:"configSchema,omitempty"`
	StateSchema  json.RawMessage `yaml:"stateSchema,omitempty"`

	// dir is the manifest's own directory, used to resolve a relative
	// Entrypoint.
	dir string
}

// LoadManifest reads and parses a provider manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wasm: read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wasm: parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)

	if m.Name == "" {
		return nil, fmt.Errorf("wasm: manifest %s: name is required", path)
	}
	if m.ResourceType == "" {
		return nil, fmt.Errorf("wasm: manifest %s: resourceType is required", path)
	}
	if m.Entrypoint == "" {
		return nil, fmt.Errorf("wasm: manifest %s: entrypoint is required", path)
	}

	return &m, nil
}

// ModulePath resolves Entrypoint relative to the manifest's own
// directory, or returns it unchanged if already absolute.
func (m *Manifest) ModulePath() string {
	if filepath.IsAbs(m.Entrypoint) {
		return m.Entrypoint
	}
	return filepath.Join(m.dir, m.Entrypoint)
}
