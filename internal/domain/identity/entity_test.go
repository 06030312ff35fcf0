package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath-core/internal/domain/shared"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Facilitator ")
	require.NoError(t, err)
	assert.Equal(t, RoleFacilitator, r)

	_, err = ParseRole("guest")
	assert.ErrorIs(t, err, shared.ErrInvalidRole)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestRole_Permissions(t *testing.T) {
	assert.True(t, RoleFacilitator.CanApproveResults())
	assert.True(t, RoleAdministrator.CanApproveResults())
	assert.False(t, RoleLearner.CanApproveResults())

	assert.True(t, RoleLearner.CanSelfRegister())
	assert.False(t, RoleAdministrator.CanSelfRegister())
}

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity("id-1", RoleLearner, "ada@example.com", " Ada ", " Lovelace ", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", id.DisplayName())
	assert.True(t, id.HasRole(RoleLearner))

	_, err = NewIdentity("", Role("x"), "bad", "", "", time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.ErrorIs(t, err, shared.ErrInvalidRole)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
	assert.ErrorIs(t, err, ErrEmptyFirstName)
}

func TestIdentity_DisplayNameFallsBackToEmail(t *testing.T) {
	id := &Identity{Email: "ada@example.com"}
	assert.Equal(t, "ada@example.com", id.DisplayName())

	var none *Identity
	assert.False(t, none.HasRole(RoleLearner))
}

func TestNewProfile(t *testing.T) {
	p, err := NewProfile(RoleFacilitator, "zola@example.com", " Zola ", "", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, p.ID)
	assert.ErrorIs(t, p.Validate(), ErrEmptyID)

	assert.ErrorIs(t, p.Bind(""), ErrEmptyID)
	require.NoError(t, p.Bind("subject-9"))
	assert.NoError(t, p.Validate())
	assert.Equal(t, "Zola", p.DisplayName())

	_, err = NewProfile(RoleLearner, "zola@example.com", "   ", "", time.Time{})
	assert.ErrorIs(t, err, ErrEmptyFirstName)
}
