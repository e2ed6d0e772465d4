package auth

import (
	"fmt"
	"strings"
)

// Role is the canonical lowercase role of an actor. Input is normalized at
// the boundary with ParseRole; the rest of the code only sees these values.
type Role string

const (
	RoleComunidade  Role = "comunidade"
	RoleEstudante   Role = "estudante"
	RoleMediador    Role = "mediador"
	RoleCoordenacao Role = "coordenacao"
)

// Capability is a named permission granted to an explicit set of roles.
type Capability string

const (
	CapSubmitIdea  Capability = "idea.submit"
	CapViewOwn     Capability = "idea.view_own"
	CapTriage      Capability = "idea.triage"
	CapAssignClass Capability = "idea.assign"
	CapBacklog     Capability = "idea.backlog"
	CapPostUpdate  Capability = "project.update"
	CapSetProgress Capability = "project.progress"
	CapSetStatus   Capability = "project.status"
	CapViewAll     Capability = "view.all"
)

// capabilities lists the role set for each capability explicitly. There is
// no hierarchy: coordenacao shares triage with mediador but mediador does
// not assign, and neither inherits the other's grants.
var capabilities = map[Capability][]Role{
	CapSubmitIdea:  {RoleComunidade, RoleEstudante},
	CapViewOwn:     {RoleComunidade, RoleEstudante, RoleMediador, RoleCoordenacao},
	CapTriage:      {RoleMediador, RoleCoordenacao},
	CapAssignClass: {RoleCoordenacao},
	CapBacklog:     {RoleCoordenacao},
	CapPostUpdate:  {RoleEstudante},
	CapSetProgress: {RoleEstudante},
	CapSetStatus:   {RoleEstudante},
	CapViewAll:     {RoleComunidade, RoleEstudante, RoleMediador, RoleCoordenacao},
}

// HasCapability reports whether the role holds the capability. It is a pure
// function of the table above: an unknown role or capability yields false,
// never an error.
func HasCapability(role Role, cap Capability) bool {
	for _, r := range capabilities[cap] {
		if r == role {
			return true
		}
	}
	return false
}

// ParseRole normalizes raw role input (trimmed, lowercased) to a canonical
// Role. The source data carried mixed casing ("Comunidade", "Estudante");
// anything that does not normalize to a known role maps to the empty Role,
// which holds no capabilities.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleComunidade:
		return RoleComunidade
	case RoleEstudante:
		return RoleEstudante
	case RoleMediador:
		return RoleMediador
	case RoleCoordenacao:
		return RoleCoordenacao
	default:
		return ""
	}
}

// Roles returns the canonical role list, for validation and docs.
func Roles() []Role {
	return []Role{RoleComunidade, RoleEstudante, RoleMediador, RoleCoordenacao}
}

// UnauthorizedError indicates the actor lacks a capability.
type UnauthorizedError struct {
	Capability Capability
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}

// OwnershipError indicates a project operation by a student who is not the
// recorded owner.
type OwnershipError struct {
	ProjectID string
}

func (e OwnershipError) Error() string {
	return fmt.Sprintf("project %s is owned by another student", e.ProjectID)
}
