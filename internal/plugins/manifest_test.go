// ABOUTME: Tests for the YAML manifest loader.
// ABOUTME: Covers defaults from the file name, permission normalization, and catalog binding.

package plugins

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() Catalog {
	return Catalog{
		"ping":     noop,
		"antilink": noop,
	}
}

func TestManifestLoader_Parse(t *testing.T) {
	l := NewManifestLoader(testCatalog())

	src := `
id: ping
name: ping
aliases: [p]
category: general
description: Replies with pong
owner: true
permissions:
  bot_admin_required: true
`
	h, err := l.Parse("/plugins/ping.yaml", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "ping", h.ID)
	assert.Equal(t, []string{"p"}, h.Aliases)
	assert.Equal(t, KindCommand, h.Kind)
	assert.Equal(t, "/plugins/ping.yaml", h.Source)
	assert.True(t, h.Permissions.OwnerOnly)
	assert.True(t, h.Permissions.BotAdminRequired)
	assert.False(t, h.Permissions.GroupOnly)
	assert.True(t, h.FeatureDefault)
	assert.NotNil(t, h.Exec)
}

func TestManifestLoader_DefaultsFromFileName(t *testing.T) {
	l := NewManifestLoader(testCatalog())

	h, err := l.Parse("/plugins/ping.yml", []byte("category: group\n"))
	require.NoError(t, err)

	assert.Equal(t, "ping", h.ID)
	assert.Equal(t, "ping", h.Name)
	assert.True(t, h.Permissions.GroupOnly, "group category implies group-only")
}

func TestManifestLoader_Scanner(t *testing.T) {
	l := NewManifestLoader(testCatalog())

	src := `
kind: scanner
entry: antilink
feature: antilink
feature_default: false
admin: true
`
	h, err := l.Parse("/plugins/links.yaml", []byte(src))
	require.NoError(t, err)

	assert.True(t, h.IsScanner())
	assert.Equal(t, "links", h.ID)
	assert.Equal(t, "antilink", h.Feature)
	assert.False(t, h.FeatureDefault)
	assert.True(t, h.Permissions.AdminRequired)
}

func TestManifestLoader_Errors(t *testing.T) {
	l := NewManifestLoader(testCatalog())

	_, err := l.Parse("/plugins/missing.yaml", []byte("entry: nothing\n"))
	assert.True(t, errors.Is(err, ErrUnknownEntry))

	_, err = l.Parse("/plugins/ping.yaml", []byte("kind: widget\n"))
	assert.True(t, errors.Is(err, ErrInvalidHandler))

	_, err = l.Parse("/plugins/ping.yaml", []byte("name: [unclosed\n"))
	assert.Error(t, err)

	_, err = l.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestManifestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ping.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliases: [pp]\n"), 0o644))

	h, err := NewManifestLoader(testCatalog()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ping", h.ID)
	assert.Equal(t, path, h.Source)
}

func TestIsManifest(t *testing.T) {
	assert.True(t, IsManifest("a.yaml"))
	assert.True(t, IsManifest("a.YML"))
	assert.False(t, IsManifest("a.yaml.swp"))
	assert.False(t, IsManifest("a.go"))
}
