package codec

import (
	"io"

	"github.com/compose-network/identity-relay/x/envelope"
)

// Codec frames envelopes for byte-oriented transports.
type Codec interface {
	Encode(env envelope.Envelope) ([]byte, error)
	Decode(data []byte) (envelope.Envelope, error)
	MaxMessageSize() int
}

// StreamCodec extends Codec for streaming operations
type StreamCodec interface {
	Codec
	DecodeStream(r io.Reader) (envelope.Envelope, error)
	EncodeStream(w io.Writer, env envelope.Envelope) error
}
