package identity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/autherr"
)

func captain() *Identity {
	return &Identity{
		ID:       uuid.MustParse("4c1f0b9e-57a3-4a5e-9d7a-3b2b0f0c1a11"),
		Email:    "captain1@test.com",
		Username: "captain1",
		Team:     &TeamIdentity{ID: "g-team1", Name: "Team1"},
		Role:     RoleCaptain,
	}
}

func TestExpect(t *testing.T) {
	id := captain()

	require.NoError(t, id.Expect(RoleCaptain, "Team1"))

	err := id.Expect(RoleStudent, "Team1")
	assert.ErrorIs(t, err, autherr.ErrRoleMismatch)
	assert.Contains(t, err.Error(), "Role mismatch")

	err = id.Expect(RoleCaptain, "Team2")
	assert.ErrorIs(t, err, autherr.ErrTeamMismatch)
	assert.Contains(t, err.Error(), "Team mismatch")

	viewer := &Identity{Username: "viewer_global", Role: RoleSpectator}
	assert.NoError(t, viewer.ExpectTeam(""))
}

func TestIdentityJSONRoundTrip(t *testing.T) {
	in := captain()
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"role":"CAPTAIN"`)
	assert.NotContains(t, string(b), "institution")

	var out Identity
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, *in, out)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), captain())
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "captain1", got.Username)
}
