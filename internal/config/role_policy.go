package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/campusid/internal/campusid/types"
)

//go:embed default_roles.yaml
var defaultRolesYAML []byte

type roleTierYAML struct {
	AccessLevel types.AccessLevel          `yaml:"accessLevel"`
	ValidFor    time.Duration              `yaml:"validFor"`
	Permissions []types.FacilityPermission `yaml:"permissions"`
}

type rolePolicyYAML struct {
	Unmapped roleTierYAML            `yaml:"unmapped"`
	Roles    map[string]roleTierYAML `yaml:"roles"`
}

// RolePolicy maps a subject's role to its issuance defaults. Roles that
// are not listed resolve to the unmapped tier.
type RolePolicy struct {
	unmapped types.RoleTier
	roles    map[string]types.RoleTier
}

func (p RolePolicy) Resolve(role string) types.RoleTier {
	if t, ok := p.roles[strings.ToLower(strings.TrimSpace(role))]; ok {
		return t
	}
	return p.unmapped
}

func (p RolePolicy) Roles() []string {
	out := make([]string, 0, len(p.roles))
	for r := range p.roles {
		out = append(out, r)
	}
	return out
}

// LoadRolePolicy reads path, or the embedded defaults when path is empty.
func LoadRolePolicy(path string) (RolePolicy, error) {
	raw := defaultRolesYAML
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return RolePolicy{}, fmt.Errorf("read role policy: %w", err)
		}
		raw = b
	}
	return ParseRolePolicy(raw)
}

func ParseRolePolicy(raw []byte) (RolePolicy, error) {
	var doc rolePolicyYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return RolePolicy{}, fmt.Errorf("parse role policy: %w", err)
	}

	unmapped, err := doc.Unmapped.toTier("unmapped")
	if err != nil {
		return RolePolicy{}, err
	}

	roles := make(map[string]types.RoleTier, len(doc.Roles))
	for name, t := range doc.Roles {
		tier, err := t.toTier(name)
		if err != nil {
			return RolePolicy{}, err
		}
		roles[strings.ToLower(strings.TrimSpace(name))] = tier
	}
	return RolePolicy{unmapped: unmapped, roles: roles}, nil
}

func (t roleTierYAML) toTier(name string) (types.RoleTier, error) {
	if !t.AccessLevel.Valid() {
		return types.RoleTier{}, fmt.Errorf("role %s: accessLevel %q invalid", name, t.AccessLevel)
	}
	if t.ValidFor <= 0 {
		return types.RoleTier{}, fmt.Errorf("role %s: validFor must be positive", name)
	}
	if err := types.ValidatePermissions(t.Permissions); err != nil {
		return types.RoleTier{}, fmt.Errorf("role %s: %w", name, err)
	}
	return types.RoleTier{
		AccessLevel: t.AccessLevel,
		ValidFor:    t.ValidFor,
		Permissions: t.Permissions,
	}, nil
}
