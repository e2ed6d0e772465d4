package auth

import "testing"

func TestCapabilityTable(t *testing.T) {
	cases := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleComunidade, CapSubmitIdea, true},
		{RoleEstudante, CapSubmitIdea, true},
		{RoleMediador, CapSubmitIdea, false},
		{RoleCoordenacao, CapSubmitIdea, false},

		{RoleMediador, CapTriage, true},
		{RoleCoordenacao, CapTriage, true},
		{RoleComunidade, CapTriage, false},
		{RoleEstudante, CapTriage, false},

		{RoleCoordenacao, CapAssignClass, true},
		{RoleMediador, CapAssignClass, false},
		{RoleCoordenacao, CapBacklog, true},
		{RoleMediador, CapBacklog, false},

		{RoleEstudante, CapPostUpdate, true},
		{RoleEstudante, CapSetProgress, true},
		{RoleEstudante, CapSetStatus, true},
		{RoleComunidade, CapPostUpdate, false},
		{RoleMediador, CapSetProgress, false},
		{RoleCoordenacao, CapSetStatus, false},

		{RoleComunidade, CapViewAll, true},
		{RoleEstudante, CapViewAll, true},
		{RoleMediador, CapViewAll, true},
		{RoleCoordenacao, CapViewAll, true},
	}
	for _, c := range cases {
		if got := HasCapability(c.role, c.cap); got != c.want {
			t.Errorf("HasCapability(%s, %s) = %v, want %v", c.role, c.cap, got, c.want)
		}
	}
}

func TestUnknownRoleHasNoCapabilities(t *testing.T) {
	for _, cap := range []Capability{CapSubmitIdea, CapViewOwn, CapTriage, CapAssignClass, CapBacklog, CapPostUpdate, CapSetProgress, CapSetStatus, CapViewAll} {
		if HasCapability("", cap) {
			t.Errorf("empty role should not hold %s", cap)
		}
		if HasCapability("admin", cap) {
			t.Errorf("unknown role should not hold %s", cap)
		}
	}
}

func TestParseRoleNormalizes(t *testing.T) {
	cases := map[string]Role{
		"comunidade":   RoleComunidade,
		"Comunidade":   RoleComunidade,
		"  MEDIADOR ":  RoleMediador,
		"Estudante":    RoleEstudante,
		"coordenacao":  RoleCoordenacao,
		"Coordenacao":  RoleCoordenacao,
		"supervisor":   "",
		"":             "",
		"estudante  x": "",
	}
	for raw, want := range cases {
		if got := ParseRole(raw); got != want {
			t.Errorf("ParseRole(%q) = %q, want %q", raw, got, want)
		}
	}
}
