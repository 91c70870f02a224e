package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State of a request. Pending moves to Resolved exactly once.
type State uint8

const (
	StatePending State = iota
	StateResolved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateResolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kind names one of the request tables.
type Kind string

const (
	KindVerification           Kind = "verification"
	KindCredentialVerification Kind = "credential"
	KindRoleSync               Kind = "role-sync"
	KindTokenTransfer          Kind = "token-transfer"
)

// Kinds lists every table kind.
var Kinds = []Kind{KindVerification, KindCredentialVerification, KindRoleSync, KindTokenTransfer}

func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

type Verification struct {
	DID      string `json:"did"`
	Verified bool   `json:"verified"`
}

type Credential struct {
	CredentialHash common.Hash `json:"credential_hash"`
	Verified       bool        `json:"verified"`
}

type RoleSync struct {
	Role    common.Hash    `json:"role"`
	Account common.Address `json:"account"`
	IsGrant bool           `json:"is_grant"`
	Success bool           `json:"success"`
}

type TokenTransfer struct {
	Token     common.Address `json:"token"`
	Amount    *uint256.Int   `json:"amount"`
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Completed bool           `json:"completed"`
	Success   bool           `json:"success"`
}
