package approval

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/bizcore/internal/rbac"
)

// Tier maps an amount band to an approval level. A nil Max is unbounded.
type Tier struct {
	Max     *decimal.Decimal
	Level   int
	MinRole rbac.Role
}

// Requirement is what an amount needs before it can be decided.
type Requirement struct {
	Level        int
	RequiredRole rbac.Role
	RequiredRank int
}

// Automatic reports whether any authenticated actor may decide.
func (r Requirement) Automatic() bool {
	return r.Level == 0
}

// Policy is the ordered list of tiers.
type Policy struct {
	tiers []Tier
}

func bound(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultPolicy is 5k automatic, 20k purchasing manager, 50k finance manager,
// everything above the board.
func DefaultPolicy() Policy {
	return Policy{tiers: []Tier{
		{Max: bound(5000), Level: 0, MinRole: rbac.RoleUsuario},
		{Max: bound(20000), Level: 1, MinRole: rbac.RoleGerenteCompras},
		{Max: bound(50000), Level: 2, MinRole: rbac.RoleGerenteFinanceiro},
		{Level: 3, MinRole: rbac.RoleDiretor},
	}}
}

// NewPolicy validates tiers: ascending bounds, ascending levels, last tier unbounded.
func NewPolicy(tiers []Tier) (Policy, error) {
	if len(tiers) == 0 {
		return Policy{}, errors.New("approval: policy needs at least one tier")
	}
	for i, t := range tiers {
		if !t.MinRole.Valid() {
			return Policy{}, fmt.Errorf("approval: tier %d: %w", i, rbac.ErrUnknownRole)
		}
		last := i == len(tiers)-1
		if last != (t.Max == nil) {
			return Policy{}, fmt.Errorf("approval: only the last tier may be unbounded (tier %d)", i)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.Level <= prev.Level {
			return Policy{}, fmt.Errorf("approval: tier %d level must exceed %d", i, prev.Level)
		}
		if t.Max != nil && !t.Max.GreaterThan(*prev.Max) {
			return Policy{}, fmt.Errorf("approval: tier %d bound must exceed %s", i, prev.Max)
		}
	}
	return Policy{tiers: append([]Tier(nil), tiers...)}, nil
}

type policyFile struct {
	Tiers []struct {
		Max     string `yaml:"max"`
		Level   int    `yaml:"level"`
		MinRole string `yaml:"min_role"`
	} `yaml:"tiers"`
}

// LoadPolicy reads a YAML policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("approval: read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Policy{}, fmt.Errorf("approval: decode policy: %w", err)
	}
	tiers := make([]Tier, 0, len(file.Tiers))
	for i, raw := range file.Tiers {
		role, err := rbac.ParseRole(raw.MinRole)
		if err != nil {
			return Policy{}, fmt.Errorf("approval: tier %d: %w", i, err)
		}
		tier := Tier{Level: raw.Level, MinRole: role}
		if raw.Max != "" {
			ceiling, err := decimal.NewFromString(raw.Max)
			if err != nil {
				return Policy{}, fmt.Errorf("approval: tier %d max: %w", i, err)
			}
			tier.Max = &ceiling
		}
		tiers = append(tiers, tier)
	}
	return NewPolicy(tiers)
}

// Requirement returns the tier for amount. Bounds are inclusive.
func (p Policy) Requirement(amount decimal.Decimal) Requirement {
	for _, t := range p.tiers {
		if t.Max == nil || amount.LessThanOrEqual(*t.Max) {
			return Requirement{Level: t.Level, RequiredRole: t.MinRole, RequiredRank: t.MinRole.Rank()}
		}
	}
	last := p.tiers[len(p.tiers)-1]
	return Requirement{Level: last.Level, RequiredRole: last.MinRole, RequiredRank: last.MinRole.Rank()}
}

// Allows reports whether role may decide amount.
func (p Policy) Allows(role rbac.Role, amount decimal.Decimal) bool {
	if role.BypassesThresholds() {
		return true
	}
	return role.Rank() >= p.Requirement(amount).RequiredRank
}

// Cap is the largest amount role may decide; ok is false when unbounded.
func (p Policy) Cap(role rbac.Role) (decimal.Decimal, bool) {
	if role.BypassesThresholds() {
		return decimal.Zero, false
	}
	limit := decimal.Zero
	for _, t := range p.tiers {
		if role.Rank() < t.MinRole.Rank() {
			break
		}
		if t.Max == nil {
			return decimal.Zero, false
		}
		limit = *t.Max
	}
	return limit, true
}
