package envelope

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrDIDTooLong     = fmt.Errorf("did exceeds %d bytes", MaxDIDLength)
	ErrAmountOverflow = errors.New("amount does not fit in uint256")
	ErrNilAmount      = errors.New("amount is required")
)

var (
	tUint64  = mustType("uint64")
	tUint256 = mustType("uint256")
	tString  = mustType("string")
	tBool    = mustType("bool")
	tBytes32 = mustType("bytes32")
	tAddress = mustType("address")
)

var (
	verificationArgs         = args(tUint64, tString)
	verificationResponseArgs = args(tUint64, tBool)
	credentialArgs           = args(tUint64, tBytes32)
	credentialStatusArgs     = args(tUint64, tBytes32, tBool)
	roleSyncArgs             = args(tUint64, tBytes32, tAddress, tBool)
	tokenTransferArgs        = args(tUint64, tAddress, tUint256, tAddress, tAddress)
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func args(types ...abi.Type) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: t}
	}
	return out
}

// Encode returns the wire tag and ABI-encoded body of msg.
func Encode(msg Message) (Type, []byte, error) {
	var (
		data []byte
		err  error
	)

	switch m := msg.(type) {
	case VerificationRequest:
		if len(m.DID) > MaxDIDLength {
			return 0, nil, ErrDIDTooLong
		}
		data, err = verificationArgs.Pack(m.RequestID, m.DID)
	case VerificationResponse:
		data, err = verificationResponseArgs.Pack(m.RequestID, m.Verified)
	case CredentialVerification:
		data, err = credentialArgs.Pack(m.RequestID, [32]byte(m.CredentialHash))
	case CredentialStatusUpdate:
		data, err = credentialStatusArgs.Pack(m.RequestID, [32]byte(m.CredentialHash), m.Valid)
	case RoleSynchronization:
		data, err = roleSyncArgs.Pack(m.RequestID, [32]byte(m.Role), m.Account, m.IsGrant)
	case TokenTransfer:
		if m.Amount == nil {
			return 0, nil, ErrNilAmount
		}
		data, err = tokenTransferArgs.Pack(m.TransferID, m.Token, m.Amount.ToBig(), m.Sender, m.Recipient)
	case DIDResolution:
		if len(m.DID) > MaxDIDLength {
			return 0, nil, ErrDIDTooLong
		}
		data, err = verificationArgs.Pack(m.RequestID, m.DID)
	case Custom:
		data = append([]byte(nil), m.Data...)
	case Unknown:
		data = append([]byte(nil), m.Raw...)
	default:
		return 0, nil, fmt.Errorf("unsupported message %T", msg)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("pack %s: %w", msg.Type(), err)
	}
	return msg.Type(), data, nil
}

// Decode turns an envelope body into its message. Unknown tags decode to Unknown.
func Decode(t Type, data []byte) (Message, error) {
	switch t {
	case TypeVerification, TypeDIDResolution:
		vals, err := unpack(verificationArgs, t, data)
		if err != nil {
			return nil, err
		}
		did := vals[1].(string)
		if len(did) > MaxDIDLength {
			return nil, fmt.Errorf("%s: %w", t, ErrDIDTooLong)
		}
		if t == TypeDIDResolution {
			return DIDResolution{RequestID: vals[0].(uint64), DID: did}, nil
		}
		return VerificationRequest{RequestID: vals[0].(uint64), DID: did}, nil
	case TypeVerificationResponse:
		vals, err := unpack(verificationResponseArgs, t, data)
		if err != nil {
			return nil, err
		}
		return VerificationResponse{RequestID: vals[0].(uint64), Verified: vals[1].(bool)}, nil
	case TypeCredentialVerification:
		vals, err := unpack(credentialArgs, t, data)
		if err != nil {
			return nil, err
		}
		return CredentialVerification{
			RequestID:      vals[0].(uint64),
			CredentialHash: common.Hash(vals[1].([32]byte)),
		}, nil
	case TypeCredentialStatusUpdate:
		vals, err := unpack(credentialStatusArgs, t, data)
		if err != nil {
			return nil, err
		}
		return CredentialStatusUpdate{
			RequestID:      vals[0].(uint64),
			CredentialHash: common.Hash(vals[1].([32]byte)),
			Valid:          vals[2].(bool),
		}, nil
	case TypeRoleSynchronization:
		vals, err := unpack(roleSyncArgs, t, data)
		if err != nil {
			return nil, err
		}
		return RoleSynchronization{
			RequestID: vals[0].(uint64),
			Role:      common.Hash(vals[1].([32]byte)),
			Account:   vals[2].(common.Address),
			IsGrant:   vals[3].(bool),
		}, nil
	case TypeTokenTransfer:
		vals, err := unpack(tokenTransferArgs, t, data)
		if err != nil {
			return nil, err
		}
		amount, overflow := uint256.FromBig(vals[2].(*big.Int))
		if overflow {
			return nil, fmt.Errorf("%s: %w", t, ErrAmountOverflow)
		}
		return TokenTransfer{
			TransferID: vals[0].(uint64),
			Token:      vals[1].(common.Address),
			Amount:     amount,
			Sender:     vals[3].(common.Address),
			Recipient:  vals[4].(common.Address),
		}, nil
	case TypeCustom:
		return Custom{Data: append([]byte(nil), data...)}, nil
	default:
		return Unknown{Code: t, Raw: append([]byte(nil), data...)}, nil
	}
}

// Open decodes the body of env.
func Open(env Envelope) (Message, error) {
	return Decode(env.Type, env.Payload)
}

func unpack(a abi.Arguments, t Type, data []byte) ([]interface{}, error) {
	vals, err := a.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, t, err)
	}
	if len(vals) != len(a) {
		return nil, fmt.Errorf("%w: %s payload has %d values", ErrMalformed, t, len(vals))
	}
	return vals, nil
}
