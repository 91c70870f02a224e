package identity

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound        = errors.New("identity not found")
	ErrDIDTaken        = errors.New("did already registered")
	ErrNotOwner        = errors.New("caller is not the owner")
	ErrCredentialKnown = errors.New("credential already stored")
	ErrNoCredential    = errors.New("credential not found")
	ErrRevoked         = errors.New("credential already revoked")
)

// Store is the read side the coordinator consults.
type Store interface {
	OwnerOf(tokenID uint64) (common.Address, error)
	GetDID(tokenID uint64) (string, error)
	GetTokenIDByDID(did string) (uint64, error)
	GetChainAddress(tokenID uint64, chain string) (string, error)
	GetCredentialHash(tokenID uint64) (common.Hash, error)
	IsVerified(tokenID uint64) (bool, error)
	TokenIDByOwner(owner common.Address) (uint64, error)
	CredentialStatus(hash common.Hash) (Credential, error)
}

// CredentialRevoker is implemented by stores that let an owner revoke a
// credential.
type CredentialRevoker interface {
	RevokeCredential(caller common.Address, hash common.Hash, at time.Time) error
}

// Identity is one registered DID.
type Identity struct {
	TokenID        uint64            `json:"token_id"`
	Owner          common.Address    `json:"owner"`
	DID            string            `json:"did"`
	CredentialHash common.Hash       `json:"credential_hash"`
	Verified       bool              `json:"verified"`
	ChainAddresses map[string]string `json:"chain_addresses"`
}

// Credential is a stored credential fingerprint and its revocation state.
type Credential struct {
	Hash      common.Hash    `json:"hash"`
	Owner     common.Address `json:"owner"`
	Valid     bool           `json:"valid"`
	IssuedAt  time.Time      `json:"issued_at"`
	RevokedAt time.Time      `json:"revoked_at,omitempty"`
}
