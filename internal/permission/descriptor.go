// ABOUTME: Canonical permission descriptor and normalization from raw handler declarations.
// ABOUTME: Folds legacy shorthand flags and the structured permissions block into one value.

package permission

import "strings"

// GroupCategory is the reserved handler category whose handlers default to group-only.
const GroupCategory = "group"

// Descriptor is the canonical, immutable set of permission requirements for a handler.
type Descriptor struct {
	OwnerOnly        bool
	VIPRequired      bool
	OwnerOrVIP       bool
	OwnerAndVIP      bool
	DefaultVIPOnly   bool
	AdminRequired    bool
	BotAdminRequired bool
	GroupOnly        bool
	PrivateOnly      bool
}

// Block is the structured permissions sub-object of a handler declaration.
type Block struct {
	OwnerOnly        bool `yaml:"owner_only"`
	VIPRequired      bool `yaml:"vip_required"`
	OwnerOrVIP       bool `yaml:"owner_or_vip"`
	OwnerAndVIP      bool `yaml:"owner_and_vip"`
	DefaultVIPOnly   bool `yaml:"default_vip_only"`
	AdminRequired    bool `yaml:"admin_required"`
	BotAdminRequired bool `yaml:"bot_admin_required"`
	GroupOnly        bool `yaml:"group_only"`
	PrivateOnly      bool `yaml:"private_only"`
}

// Raw is a handler's permission declaration as written. Older handlers use the
// shorthand flags; newer ones use the Permissions block. Both may be mixed.
type Raw struct {
	Owner     bool `yaml:"owner"`
	OwnerOnly bool `yaml:"owner_only"`
	VIP       bool `yaml:"vip"`
	VIPOnly   bool `yaml:"vip_only"`
	Admin     bool `yaml:"admin"`
	AdminOnly bool `yaml:"admin_only"`
	BotAdmin  bool `yaml:"bot_admin"`
	Group     bool `yaml:"group"`
	GroupOnly bool `yaml:"group_only"`
	Private   bool `yaml:"private"`

	Permissions *Block `yaml:"permissions"`
}

// Normalize reduces a raw declaration to a Descriptor. A flag is set if any
// spelling of it is set. GroupOnly is also set when category is GroupCategory.
func Normalize(raw Raw, category string) Descriptor {
	var b Block
	if raw.Permissions != nil {
		b = *raw.Permissions
	}

	return Descriptor{
		OwnerOnly:        raw.Owner || raw.OwnerOnly || b.OwnerOnly,
		VIPRequired:      raw.VIP || raw.VIPOnly || b.VIPRequired,
		OwnerOrVIP:       b.OwnerOrVIP,
		OwnerAndVIP:      b.OwnerAndVIP,
		DefaultVIPOnly:   b.DefaultVIPOnly,
		AdminRequired:    raw.Admin || raw.AdminOnly || b.AdminRequired,
		BotAdminRequired: raw.BotAdmin || b.BotAdminRequired,
		GroupOnly: raw.Group || raw.GroupOnly || b.GroupOnly ||
			strings.EqualFold(strings.TrimSpace(category), GroupCategory),
		PrivateOnly: raw.Private || b.PrivateOnly,
	}
}
