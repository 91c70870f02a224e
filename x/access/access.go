package access

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// AdminRole is the default admin role; it may manage every other role.
	AdminRole = common.Hash{}
	// OracleRole may complete pending requests.
	OracleRole = crypto.Keccak256Hash([]byte("ORACLE_ROLE"))
)

// Store is the permission store consulted by the coordinator and mutated by
// inbound role synchronization.
type Store interface {
	HasRole(role common.Hash, account common.Address) bool
	// GrantRole returns false if the account already held the role.
	GrantRole(role common.Hash, account common.Address) bool
	// RevokeRole returns false if the account did not hold the role.
	RevokeRole(role common.Hash, account common.Address) bool
	Members(role common.Hash) []common.Address
}

var _ Store = (*Memory)(nil)

type Memory struct {
	mu    sync.RWMutex
	roles map[common.Hash]map[common.Address]struct{}
}

func NewMemory() *Memory {
	return &Memory{roles: make(map[common.Hash]map[common.Address]struct{})}
}

func (m *Memory) HasRole(role common.Hash, account common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.roles[role][account]
	return ok
}

func (m *Memory) GrantRole(role common.Hash, account common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.roles[role]
	if !ok {
		members = make(map[common.Address]struct{})
		m.roles[role] = members
	}
	if _, held := members[account]; held {
		return false
	}
	members[account] = struct{}{}
	return true
}

func (m *Memory) RevokeRole(role common.Hash, account common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := m.roles[role]
	if _, held := members[account]; !held {
		return false
	}
	delete(members, account)
	return true
}

func (m *Memory) Members(role common.Hash) []common.Address {
	m.mu.RLock()
	out := make([]common.Address, 0, len(m.roles[role]))
	for a := range m.roles[role] {
		out = append(out, a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// RoleID derives a role identifier from a name. "ADMIN" and the empty string map to AdminRole.
func RoleID(name string) common.Hash {
	switch name {
	case "", "ADMIN", "DEFAULT_ADMIN_ROLE":
		return AdminRole
	}
	return crypto.Keccak256Hash([]byte(name))
}
