package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/bizcore/internal/shared"
)

// ErrUnknownRole indicates a role name outside the closed set.
var ErrUnknownRole = errors.New("rbac: unknown role")

// Role is the closed set of roles that carry approval authority.
type Role uint8

const (
	RoleUsuario Role = iota
	RoleComprador
	RoleGerenteCompras
	RoleGerenteFinanceiro
	RoleDiretor
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleUsuario:           "usuario",
	RoleComprador:         "comprador",
	RoleGerenteCompras:    "gerente_compras",
	RoleGerenteFinanceiro: "gerente_financeiro",
	RoleDiretor:           "diretor",
	RoleAdmin:             "admin",
}

// rankTable is the total order used to gate approvals.
var rankTable = map[Role]int{
	RoleUsuario:           0,
	RoleComprador:         1,
	RoleGerenteCompras:    2,
	RoleGerenteFinanceiro: 3,
	RoleDiretor:           4,
	RoleAdmin:             5,
}

// Roles lists every role ordered by rank.
func Roles() []Role {
	return []Role{RoleUsuario, RoleComprador, RoleGerenteCompras, RoleGerenteFinanceiro, RoleDiretor, RoleAdmin}
}

// ParseRole resolves a role name. Matching ignores case and surrounding spaces.
func ParseRole(name string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for role, roleName := range roleNames {
		if roleName == normalized {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// String returns the wire name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Valid reports whether r belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Rank returns the position of r in the approval order, -1 when invalid.
func (r Role) Rank() int {
	rank, ok := rankTable[r]
	if !ok {
		return -1
	}
	return rank
}

// BypassesThresholds is true for the two highest roles.
func (r Role) BypassesThresholds() bool {
	return r == RoleDiretor || r == RoleAdmin
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Actor describes the authenticated user supplied by the Auth collaborator.
type Actor struct {
	ID   int64  `validate:"required,gt=0"`
	Name string `validate:"required"`
	Role Role
}

// Validate ensures the actor is usable for audited operations.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: actor name required", shared.ErrValidation)
	}
	if err := shared.ValidateStruct(a); err != nil {
		return err
	}
	if !a.Role.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownRole, uint8(a.Role))
	}
	return nil
}
