package envelope

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestFingerprint_DeterministicAndDistinct(t *testing.T) {
	t.Parallel()

	payload := []byte("payload")
	salt := []byte("alpha")

	a := Fingerprint(TypeCustom, payload, 100, 1, salt)
	assert.Equal(t, a, Fingerprint(TypeCustom, payload, 100, 1, salt))

	assert.NotEqual(t, a, Fingerprint(TypeCustom, payload, 100, 2, salt), "nonce")
	assert.NotEqual(t, a, Fingerprint(TypeCustom, payload, 101, 1, salt), "timestamp")
	assert.NotEqual(t, a, Fingerprint(TypeVerification, payload, 100, 1, salt), "type")
	assert.NotEqual(t, a, Fingerprint(TypeCustom, []byte("payloaD"), 100, 1, salt), "payload")
	assert.NotEqual(t, a, Fingerprint(TypeCustom, payload, 100, 1, []byte("beta")), "salt")
}

func TestEnvelope_MarshalUnmarshal(t *testing.T) {
	t.Parallel()

	env := New(TypeRoleSynchronization, []byte{1, 2, 3}, 1_700_000_000, 7, []byte("alpha"))
	got, err := Unmarshal(env.Marshal())
	require.NoError(t, err)
	assert.Equal(t, env, got)
	assert.Equal(t, int64(1_700_000_000), got.SentAt().Unix())
}

func TestEnvelope_UnmarshalSkipsUnknownFields(t *testing.T) {
	t.Parallel()

	env := New(TypeCustom, []byte("x"), 5, 1, nil)
	b := env.Marshal()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, env.Fingerprint, got.Fingerprint)
}

func TestEnvelope_UnmarshalRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal(nil)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Unmarshal([]byte{0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrMalformed)

	noFp := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	noFp = protowire.AppendVarint(noFp, uint64(TypeCustom))
	_, err = Unmarshal(noFp)
	require.ErrorIs(t, err, ErrMalformed)

	shortFp := protowire.AppendTag(nil, fieldFingerprint, protowire.BytesType)
	shortFp = protowire.AppendBytes(shortFp, []byte{1, 2})
	_, err = Unmarshal(shortFp)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestPayload_AllKinds(t *testing.T) {
	t.Parallel()

	role := crypto.Keccak256Hash([]byte("MINTER_ROLE"))
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")

	cases := []Message{
		VerificationRequest{RequestID: 1, DID: "did:x:1"},
		VerificationResponse{RequestID: 2, Verified: true},
		CredentialVerification{RequestID: 3, CredentialHash: crypto.Keccak256Hash([]byte("cred"))},
		CredentialStatusUpdate{RequestID: 4, CredentialHash: crypto.Keccak256Hash([]byte("cred")), Valid: true},
		RoleSynchronization{RequestID: 5, Role: role, Account: account, IsGrant: true},
		TokenTransfer{TransferID: 6, Token: token, Amount: uint256.NewInt(50), Sender: account, Recipient: token},
		DIDResolution{RequestID: 7, DID: "did:x:7"},
		Custom{Data: []byte("hello")},
	}

	for _, msg := range cases {
		typ, data, err := Encode(msg)
		require.NoError(t, err, msg.Type().String())
		assert.Equal(t, msg.Type(), typ)

		got, err := Decode(typ, data)
		require.NoError(t, err, msg.Type().String())
		assert.Equal(t, msg, got, msg.Type().String())
	}
}

func TestPayload_LargeAmount(t *testing.T) {
	t.Parallel()

	max := new(uint256.Int).SetAllOne()
	_, data, err := Encode(TokenTransfer{Amount: max})
	require.NoError(t, err)

	got, err := Decode(TypeTokenTransfer, data)
	require.NoError(t, err)
	assert.True(t, max.Eq(got.(TokenTransfer).Amount))

	_, _, err = Encode(TokenTransfer{})
	require.ErrorIs(t, err, ErrNilAmount)
}

func TestPayload_DIDLimit(t *testing.T) {
	t.Parallel()

	_, _, err := Encode(VerificationRequest{DID: strings.Repeat("d", MaxDIDLength+1)})
	require.ErrorIs(t, err, ErrDIDTooLong)

	_, _, err = Encode(VerificationRequest{DID: strings.Repeat("d", MaxDIDLength)})
	require.NoError(t, err)
}

func TestDecode_UnknownAndMalformed(t *testing.T) {
	t.Parallel()

	msg, err := Decode(Type(42), []byte{9})
	require.NoError(t, err)
	u, ok := msg.(Unknown)
	require.True(t, ok)
	assert.Equal(t, Type(42), u.Type())
	assert.False(t, Type(42).Known())

	_, err = Decode(TypeVerificationResponse, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseType(t *testing.T) {
	t.Parallel()

	typ, err := ParseType("TOKEN_TRANSFER")
	require.NoError(t, err)
	assert.Equal(t, TypeTokenTransfer, typ)

	_, err = ParseType("ASSET_CREATION")
	require.Error(t, err)
}
