package identity

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	_ Store             = (*Memory)(nil)
	_ CredentialRevoker = (*Memory)(nil)
)

// Memory is an in-process identity registry. Token ids start at 1.
type Memory struct {
	mu          sync.RWMutex
	nextID      uint64
	byID        map[uint64]*Identity
	byDID       map[string]uint64
	byOwner     map[common.Address]uint64
	credentials map[common.Hash]*Credential
}

func NewMemory() *Memory {
	return &Memory{
		nextID:      1,
		byID:        make(map[uint64]*Identity),
		byDID:       make(map[string]uint64),
		byOwner:     make(map[common.Address]uint64),
		credentials: make(map[common.Hash]*Credential),
	}
}

// Register mints an identity for owner.
func (m *Memory) Register(owner common.Address, did string, credentialHash common.Hash) (uint64, error) {
	if did == "" {
		return 0, fmt.Errorf("did is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byDID[did]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDIDTaken, did)
	}
	id := m.nextID
	m.nextID++

	m.byID[id] = &Identity{
		TokenID:        id,
		Owner:          owner,
		DID:            did,
		CredentialHash: credentialHash,
		ChainAddresses: make(map[string]string),
	}
	m.byDID[did] = id
	if _, ok := m.byOwner[owner]; !ok {
		m.byOwner[owner] = id
	}
	return id, nil
}

// UpdateDID changes the DID of an identity. Verification is reset.
func (m *Memory) UpdateDID(caller common.Address, tokenID uint64, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, err := m.ownedLocked(caller, tokenID)
	if err != nil {
		return err
	}
	if other, ok := m.byDID[did]; ok && other != tokenID {
		return fmt.Errorf("%w: %s", ErrDIDTaken, did)
	}
	delete(m.byDID, ident.DID)
	ident.DID = did
	ident.Verified = false
	m.byDID[did] = tokenID
	return nil
}

// SetChainAddress records the identity's address on another chain. Verification is reset.
func (m *Memory) SetChainAddress(caller common.Address, tokenID uint64, chain, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, err := m.ownedLocked(caller, tokenID)
	if err != nil {
		return err
	}
	ident.ChainAddresses[chain] = address
	ident.Verified = false
	return nil
}

func (m *Memory) SetVerified(tokenID uint64, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.byID[tokenID]
	if !ok {
		return fmt.Errorf("%w: token %d", ErrNotFound, tokenID)
	}
	ident.Verified = verified
	return nil
}

// StoreCredential records a valid credential owned by owner.
func (m *Memory) StoreCredential(owner common.Address, hash common.Hash, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.credentials[hash]; ok {
		return fmt.Errorf("%w: %s", ErrCredentialKnown, hash.Hex())
	}
	m.credentials[hash] = &Credential{Hash: hash, Owner: owner, Valid: true, IssuedAt: at}
	return nil
}

// RevokeCredential invalidates a credential. Only its owner may revoke it.
func (m *Memory) RevokeCredential(caller common.Address, hash common.Hash, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCredential, hash.Hex())
	}
	if c.Owner != caller {
		return ErrNotOwner
	}
	if !c.Valid {
		return ErrRevoked
	}
	c.Valid = false
	c.RevokedAt = at
	return nil
}

// Get returns a copy of the identity.
func (m *Memory) Get(tokenID uint64) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ident, ok := m.byID[tokenID]
	if !ok {
		return Identity{}, fmt.Errorf("%w: token %d", ErrNotFound, tokenID)
	}
	out := *ident
	out.ChainAddresses = make(map[string]string, len(ident.ChainAddresses))
	for k, v := range ident.ChainAddresses {
		out.ChainAddresses[k] = v
	}
	return out, nil
}

func (m *Memory) OwnerOf(tokenID uint64) (common.Address, error) {
	ident, err := m.Get(tokenID)
	return ident.Owner, err
}

func (m *Memory) GetDID(tokenID uint64) (string, error) {
	ident, err := m.Get(tokenID)
	return ident.DID, err
}

func (m *Memory) GetTokenIDByDID(did string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDID[did]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, did)
	}
	return id, nil
}

func (m *Memory) GetChainAddress(tokenID uint64, chain string) (string, error) {
	ident, err := m.Get(tokenID)
	if err != nil {
		return "", err
	}
	return ident.ChainAddresses[chain], nil
}

func (m *Memory) GetCredentialHash(tokenID uint64) (common.Hash, error) {
	ident, err := m.Get(tokenID)
	return ident.CredentialHash, err
}

func (m *Memory) IsVerified(tokenID uint64) (bool, error) {
	ident, err := m.Get(tokenID)
	return ident.Verified, err
}

func (m *Memory) TokenIDByOwner(owner common.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOwner[owner]
	if !ok {
		return 0, fmt.Errorf("%w: owner %s", ErrNotFound, owner.Hex())
	}
	return id, nil
}

func (m *Memory) CredentialStatus(hash common.Hash) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[hash]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrNoCredential, hash.Hex())
	}
	return *c, nil
}

func (m *Memory) ownedLocked(caller common.Address, tokenID uint64) (*Identity, error) {
	ident, ok := m.byID[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: token %d", ErrNotFound, tokenID)
	}
	if ident.Owner != caller {
		return nil, ErrNotOwner
	}
	return ident, nil
}
