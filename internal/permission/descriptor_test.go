// ABOUTME: Tests for permission descriptor normalization.
// ABOUTME: Covers legacy shorthand flags, the structured block, and the group category default.

package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, Descriptor{}, Normalize(Raw{}, ""))
}

func TestNormalize_LegacyShorthand(t *testing.T) {
	d := Normalize(Raw{Owner: true, VIPOnly: true, AdminOnly: true, BotAdmin: true, Private: true}, "misc")

	assert.True(t, d.OwnerOnly)
	assert.True(t, d.VIPRequired)
	assert.True(t, d.AdminRequired)
	assert.True(t, d.BotAdminRequired)
	assert.True(t, d.PrivateOnly)
	assert.False(t, d.GroupOnly)
}

func TestNormalize_BlockAndShorthandMerge(t *testing.T) {
	raw := Raw{
		Group:       true,
		Permissions: &Block{OwnerAndVIP: true, DefaultVIPOnly: true, OwnerOrVIP: true},
	}
	d := Normalize(raw, "")

	assert.True(t, d.GroupOnly)
	assert.True(t, d.OwnerAndVIP)
	assert.True(t, d.DefaultVIPOnly)
	assert.True(t, d.OwnerOrVIP)
	assert.False(t, d.OwnerOnly)
}

func TestNormalize_GroupCategoryDefaultsGroupOnly(t *testing.T) {
	tests := []struct {
		category string
		want     bool
	}{
		{"group", true},
		{"Group", true},
		{" group ", true},
		{"groups", false},
		{"owner", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(Raw{}, tt.category).GroupOnly)
		})
	}
}

func TestNormalize_FromYAML(t *testing.T) {
	src := `
owner: true
permissions:
  admin_required: true
  bot_admin_required: true
`
	var raw Raw
	if err := yaml.Unmarshal([]byte(src), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	d := Normalize(raw, "")
	assert.True(t, d.OwnerOnly)
	assert.True(t, d.AdminRequired)
	assert.True(t, d.BotAdminRequired)
	assert.False(t, d.VIPRequired)
}
