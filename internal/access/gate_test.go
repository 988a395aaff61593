package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "insureflow/pkg/domain-errors"
)

func TestGateAuthorize(t *testing.T) {
	gate := NewGate(nil)
	ctx := context.Background()

	t.Run("allowed role passes", func(t *testing.T) {
		err := gate.Authorize(ctx, Actor{UserID: 1, Role: RoleClaimOfficer}, "approve claim", RoleAdmin, RoleClaimOfficer)
		require.NoError(t, err)
	})

	t.Run("role outside set is forbidden", func(t *testing.T) {
		err := gate.Authorize(ctx, Actor{UserID: 1, Role: RoleAgent}, "approve claim", RoleAdmin, RoleClaimOfficer)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
		assert.Contains(t, err.Error(), "admin, claim_officer")
	})

	t.Run("superuser bypasses every check", func(t *testing.T) {
		err := gate.Authorize(ctx, Actor{UserID: 1, Role: RolePolicyholder, Superuser: true}, "reimburse claim", RoleFinanceOfficer)
		require.NoError(t, err)
	})

	t.Run("empty allowed set denies non-superusers", func(t *testing.T) {
		err := gate.Authorize(ctx, Actor{UserID: 1, Role: RoleAdmin}, "noop")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("anonymous actor is unauthorized", func(t *testing.T) {
		err := gate.Authorize(ctx, Actor{}, "submit claim", RoleHospital)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RolePolicyholder, r)

	r, err = ParseRole("finance_officer")
	require.NoError(t, err)
	assert.Equal(t, RoleFinanceOfficer, r)

	_, err = ParseRole("root")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestActorActsFor(t *testing.T) {
	hospital := Actor{UserID: 9, Role: RoleHospital, HospitalID: 3}
	assert.True(t, hospital.ActsFor(3))
	assert.False(t, hospital.ActsFor(4))

	unlinked := Actor{UserID: 9, Role: RoleHospital}
	assert.False(t, unlinked.ActsFor(0))

	admin := Actor{UserID: 1, Role: RoleAdmin}
	assert.False(t, admin.ActsFor(3))
	assert.True(t, Actor{UserID: 1, Superuser: true}.ActsFor(3))
}
