package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed envelope")

const (
	fieldType        protowire.Number = 1
	fieldPayload     protowire.Number = 2
	fieldTimestamp   protowire.Number = 3
	fieldFingerprint protowire.Number = 4
)

// Envelope is the unit handed to the transport provider.
type Envelope struct {
	Type        Type
	Payload     []byte
	Timestamp   uint64 // unix seconds
	Fingerprint common.Hash
}

// SentAt returns the timestamp as time.
func (e Envelope) SentAt() time.Time {
	return time.Unix(int64(e.Timestamp), 0).UTC()
}

// Fingerprint hashes everything that identifies one logical message. The salt
// separates senders whose nonces may coincide.
func Fingerprint(t Type, payload []byte, timestamp, nonce uint64, salt []byte) common.Hash {
	var hdr [1 + 4]byte
	hdr[0] = byte(t)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))

	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], timestamp)
	binary.BigEndian.PutUint64(tail[8:], nonce)

	return crypto.Keccak256Hash(hdr[:], payload, tail[:], salt)
}

// New builds a fingerprinted envelope.
func New(t Type, payload []byte, timestamp, nonce uint64, salt []byte) Envelope {
	return Envelope{
		Type:        t,
		Payload:     payload,
		Timestamp:   timestamp,
		Fingerprint: Fingerprint(t, payload, timestamp, nonce, salt),
	}
}

// Marshal encodes the envelope using protobuf wire format.
func (e Envelope) Marshal() []byte {
	b := make([]byte, 0, len(e.Payload)+common.HashLength+24)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Type))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Timestamp)
	b = protowire.AppendTag(b, fieldFingerprint, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Fingerprint[:])
	return b
}

// Unmarshal decodes an envelope. Unknown fields are skipped so newer senders
// can add fields; a missing or short fingerprint is rejected.
func Unmarshal(b []byte) (Envelope, error) {
	var (
		env    Envelope
		haveFp bool
	)
	if len(b) == 0 {
		return env, fmt.Errorf("%w: empty", ErrMalformed)
	}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return env, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return env, fmt.Errorf("%w: type: %v", ErrMalformed, protowire.ParseError(m))
			}
			if v > 0xff {
				return env, fmt.Errorf("%w: type %d out of range", ErrMalformed, v)
			}
			env.Type = Type(v)
			n = m
		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return env, fmt.Errorf("%w: payload: %v", ErrMalformed, protowire.ParseError(m))
			}
			env.Payload = append([]byte(nil), v...)
			n = m
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return env, fmt.Errorf("%w: timestamp: %v", ErrMalformed, protowire.ParseError(m))
			}
			env.Timestamp = v
			n = m
		case num == fieldFingerprint && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return env, fmt.Errorf("%w: fingerprint: %v", ErrMalformed, protowire.ParseError(m))
			}
			if len(v) != common.HashLength {
				return env, fmt.Errorf("%w: fingerprint is %d bytes", ErrMalformed, len(v))
			}
			env.Fingerprint = common.BytesToHash(v)
			haveFp = true
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return env, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	if !haveFp {
		return env, fmt.Errorf("%w: missing fingerprint", ErrMalformed)
	}
	return env, nil
}
