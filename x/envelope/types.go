package envelope

import "fmt"

// Type tags the payload carried by an envelope.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeVerification
	TypeVerificationResponse
	TypeCredentialVerification
	TypeCredentialStatusUpdate
	TypeRoleSynchronization
	TypeTokenTransfer
	TypeDIDResolution
	TypeCustom
)

var typeNames = map[Type]string{
	TypeVerification:           "VERIFICATION",
	TypeVerificationResponse:   "VERIFICATION_RESPONSE",
	TypeCredentialVerification: "CREDENTIAL_VERIFICATION",
	TypeCredentialStatusUpdate: "CREDENTIAL_STATUS_UPDATE",
	TypeRoleSynchronization:    "ROLE_SYNCHRONIZATION",
	TypeTokenTransfer:          "TOKEN_TRANSFER",
	TypeDIDResolution:          "DID_RESOLUTION",
	TypeCustom:                 "CUSTOM",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Known reports whether t is one of the eight defined kinds.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// ParseType accepts the upper-case wire names.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown message type %q", s)
}
