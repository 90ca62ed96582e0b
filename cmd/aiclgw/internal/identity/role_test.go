package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"ROOT", RoleRoot},
		{"ADVISOR", RoleAdvisor},
		{"CAPTAIN", RoleCaptain},
		{"captain", RoleCaptain},
		{" Student ", RoleStudent},
		{"SPECTATOR", RoleSpectator},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRole_Unknown(t *testing.T) {
	for _, in := range []string{"", "admin", "CAPTAINS", "viewer"} {
		_, err := ParseRole(in)
		assert.ErrorIs(t, err, ErrUnknownRole, "input %q", in)
	}
}

func TestRoleOrder(t *testing.T) {
	roles := Roles()
	for i := 0; i < len(roles)-1; i++ {
		assert.True(t, roles[i].Outranks(roles[i+1]), "%s should outrank %s", roles[i], roles[i+1])
	}
	assert.True(t, RoleCaptain.AtLeast(RoleStudent))
	assert.True(t, RoleCaptain.AtLeast(RoleCaptain))
	assert.False(t, RoleStudent.AtLeast(RoleCaptain))
}

func TestRoleIsAdmin(t *testing.T) {
	for _, r := range Roles() {
		assert.Equal(t, r == RoleRoot, r.IsAdmin(), r.String())
	}
}

func TestRoleJSON(t *testing.T) {
	b, err := json.Marshal(RoleAdvisor)
	require.NoError(t, err)
	assert.Equal(t, `"ADVISOR"`, string(b))

	var r Role
	require.NoError(t, json.Unmarshal([]byte(`"SPECTATOR"`), &r))
	assert.Equal(t, RoleSpectator, r)

	assert.Error(t, json.Unmarshal([]byte(`"nobody"`), &r))
	_, err = json.Marshal(Role(0))
	assert.Error(t, err)
}
