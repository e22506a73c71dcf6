package access

import (
	"testing"

	"github.com/collabdocs/hub/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCanRead_EveryResolvedRole(t *testing.T) {
	for _, role := range []string{models.RoleOwner, models.RoleEditor, models.RoleCommenter, models.RoleViewer} {
		assert.True(t, CanRead(role), "role %q should be able to read", role)
	}
	assert.False(t, CanRead("nonsense"))
}

func TestCanEdit_OnlyOwnerAndEditor(t *testing.T) {
	assert.True(t, CanEdit(models.RoleOwner))
	assert.True(t, CanEdit(models.RoleEditor))
	assert.False(t, CanEdit(models.RoleCommenter))
	assert.False(t, CanEdit(models.RoleViewer))
}

func TestCanAwareness_MatchesCanRead(t *testing.T) {
	for _, role := range []string{models.RoleOwner, models.RoleEditor, models.RoleCommenter, models.RoleViewer} {
		assert.Equal(t, CanRead(role), CanAwareness(role))
	}
}

func TestErrNotFound_DistinctFromNilError(t *testing.T) {
	assert.Error(t, ErrNotFound)
	assert.Equal(t, "access: not found", ErrNotFound.Error())
}
