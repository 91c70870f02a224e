package envelope

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxDIDLength bounds identifiers carried in verification and resolution payloads.
const MaxDIDLength = 128

// Message is the decoded payload of an envelope. The set of implementations is
// closed; receivers switch over the concrete types.
type Message interface {
	Type() Type
	isMessage()
}

// VerificationRequest asks the receiving chain whether a DID is verified there.
type VerificationRequest struct {
	RequestID uint64
	DID       string
}

type VerificationResponse struct {
	RequestID uint64
	Verified  bool
}

type CredentialVerification struct {
	RequestID      uint64
	CredentialHash common.Hash
}

type CredentialStatusUpdate struct {
	RequestID      uint64
	CredentialHash common.Hash
	Valid          bool
}

type RoleSynchronization struct {
	RequestID uint64
	Role      common.Hash
	Account   common.Address
	IsGrant   bool
}

// TokenTransfer carries the recipient explicitly; the relaying caller is never
// used to decide who receives funds.
type TokenTransfer struct {
	TransferID uint64
	Token      common.Address
	Amount     *uint256.Int
	Sender     common.Address
	Recipient  common.Address
}

type DIDResolution struct {
	RequestID uint64
	DID       string
}

type Custom struct {
	Data []byte
}

// Unknown is produced for tags outside the defined set.
type Unknown struct {
	Code Type
	Raw  []byte
}

func (VerificationRequest) Type() Type    { return TypeVerification }
func (VerificationResponse) Type() Type   { return TypeVerificationResponse }
func (CredentialVerification) Type() Type { return TypeCredentialVerification }
func (CredentialStatusUpdate) Type() Type { return TypeCredentialStatusUpdate }
func (RoleSynchronization) Type() Type    { return TypeRoleSynchronization }
func (TokenTransfer) Type() Type          { return TypeTokenTransfer }
func (DIDResolution) Type() Type          { return TypeDIDResolution }
func (Custom) Type() Type                 { return TypeCustom }
func (u Unknown) Type() Type              { return u.Code }

func (VerificationRequest) isMessage()    {}
func (VerificationResponse) isMessage()   {}
func (CredentialVerification) isMessage() {}
func (CredentialStatusUpdate) isMessage() {}
func (RoleSynchronization) isMessage()    {}
func (TokenTransfer) isMessage()          {}
func (DIDResolution) isMessage()          {}
func (Custom) isMessage()                 {}
func (Unknown) isMessage()                {}
