package access

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GrantRevoke(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")
	role := RoleID("MINTER_ROLE")

	assert.False(t, m.HasRole(role, a))
	assert.True(t, m.GrantRole(role, a))
	assert.False(t, m.GrantRole(role, a), "second grant changes nothing")
	assert.True(t, m.GrantRole(role, b))
	assert.True(t, m.HasRole(role, a))

	members := m.Members(role)
	require.Len(t, members, 2)
	assert.Equal(t, a, members[0])

	assert.True(t, m.RevokeRole(role, a))
	assert.False(t, m.RevokeRole(role, a))
	assert.False(t, m.HasRole(role, a))
	assert.False(t, m.RevokeRole(RoleID("OTHER"), a))
}

func TestRoleID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, AdminRole, RoleID("ADMIN"))
	assert.Equal(t, OracleRole, RoleID("ORACLE_ROLE"))
	assert.NotEqual(t, RoleID("A"), RoleID("B"))
}
