// ABOUTME: YAML handler manifest loader binding manifests to Go implementations.
// ABOUTME: Normalizes permission declarations once at load time.

package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/2389/coven-bot/internal/permission"
)

// ErrUnknownEntry indicates a manifest names an implementation missing from the catalog.
var ErrUnknownEntry = errors.New("unknown handler entry")

// Loader turns a handler source file into a Handler.
type Loader interface {
	Load(path string) (*Handler, error)
}

// Manifest is the on-disk handler declaration.
type Manifest struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Aliases        []string `yaml:"aliases"`
	Category       string   `yaml:"category"`
	Description    string   `yaml:"description"`
	Kind           Kind     `yaml:"kind"`
	Entry          string   `yaml:"entry"`
	Feature        string   `yaml:"feature"`
	FeatureDefault *bool    `yaml:"feature_default"`
	Silent         bool     `yaml:"silent"`

	permission.Raw `yaml:",inline"`
}

// ManifestLoader loads YAML manifests against a catalog of implementations.
type ManifestLoader struct {
	catalog Catalog
}

// NewManifestLoader creates a loader resolving entries from catalog.
func NewManifestLoader(catalog Catalog) *ManifestLoader {
	return &ManifestLoader{catalog: catalog}
}

// IsManifest reports whether path looks like a handler manifest.
func IsManifest(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads and parses the manifest at path.
func (l *ManifestLoader) Load(path string) (*Handler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	h, err := l.Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return h, nil
}

// Parse builds a Handler from manifest bytes. path is recorded as the source
// and supplies the default ID and name.
func (l *ManifestLoader) Parse(path string, data []byte) (*Handler, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	base := filepath.Base(path)
	defaultName := strings.TrimSuffix(base, filepath.Ext(base))

	if m.Kind == "" {
		m.Kind = KindCommand
	}
	if m.Kind != KindCommand && m.Kind != KindScanner {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidHandler, m.Kind)
	}
	if m.Name == "" {
		m.Name = defaultName
	}
	if m.ID == "" {
		m.ID = m.Name
	}
	if m.Entry == "" {
		m.Entry = m.ID
	}

	exec, ok := l.catalog[m.Entry]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, m.Entry)
	}

	featureDefault := true
	if m.FeatureDefault != nil {
		featureDefault = *m.FeatureDefault
	}

	return &Handler{
		ID:             m.ID,
		Name:           m.Name,
		Aliases:        m.Aliases,
		Category:       m.Category,
		Description:    m.Description,
		Kind:           m.Kind,
		Permissions:    permission.Normalize(m.Raw, m.Category),
		Feature:        m.Feature,
		FeatureDefault: featureDefault,
		Silent:         m.Silent,
		Source:         path,
		Exec:           exec,
	}, nil
}
