package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/compose-network/identity-relay/x/envelope"
)

// DefaultMaxMessageSize bounds a single framed envelope.
const DefaultMaxMessageSize = 1 << 20

var _ StreamCodec = (*FrameCodec)(nil)

// FrameCodec writes a 4-byte big-endian length followed by the marshalled envelope.
type FrameCodec struct {
	maxMessageSize int

	scratchPool sync.Pool
}

// NewFrameCodec creates a codec. A non-positive size uses DefaultMaxMessageSize.
func NewFrameCodec(maxMessageSize int) *FrameCodec {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &FrameCodec{
		maxMessageSize: maxMessageSize,
		scratchPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}
}

// Encode marshals env with its length prefix.
func (c *FrameCodec) Encode(env envelope.Envelope) ([]byte, error) {
	data := env.Marshal()

	dataLen := len(data)
	if dataLen > c.maxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds max %d", dataLen, c.maxMessageSize)
	}
	if dataLen > math.MaxUint32 {
		return nil, fmt.Errorf("message size %d exceeds uint32 max", dataLen)
	}

	out := make([]byte, 4+dataLen)
	binary.BigEndian.PutUint32(out[:4], uint32(dataLen))
	copy(out[4:], data)
	return out, nil
}

// Decode reads one framed envelope. Trailing bytes after the frame are ignored.
func (c *FrameCodec) Decode(data []byte) (envelope.Envelope, error) {
	if len(data) < 4 {
		return envelope.Envelope{}, fmt.Errorf("data too short for length prefix")
	}

	length := binary.BigEndian.Uint32(data[:4])
	if int(length) > c.maxMessageSize {
		return envelope.Envelope{}, fmt.Errorf("message size %d exceeds max %d", length, c.maxMessageSize)
	}
	if len(data) < int(4+length) {
		return envelope.Envelope{}, fmt.Errorf("data too short for claimed message length")
	}

	return envelope.Unmarshal(data[4 : 4+length])
}

// DecodeStream reads a length-prefixed envelope from r.
func (c *FrameCodec) DecodeStream(r io.Reader) (envelope.Envelope, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return envelope.Envelope{}, err
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if int(length) > c.maxMessageSize {
		return envelope.Envelope{}, fmt.Errorf("message size %d exceeds max %d", length, c.maxMessageSize)
	}
	if length == 0 {
		return envelope.Envelope{}, fmt.Errorf("empty message")
	}

	scratchPtr := c.scratchPool.Get().(*[]byte)
	defer c.scratchPool.Put(scratchPtr)

	var messageData []byte
	if scratch := *scratchPtr; int(length) <= len(scratch) {
		messageData = scratch[:length]
	} else {
		messageData = make([]byte, length)
	}

	if _, err := io.ReadFull(r, messageData); err != nil {
		return envelope.Envelope{}, err
	}

	// Unmarshal copies the payload out of the pooled buffer.
	return envelope.Unmarshal(messageData)
}

// EncodeStream writes a length-prefixed envelope to w.
func (c *FrameCodec) EncodeStream(w io.Writer, env envelope.Envelope) error {
	data, err := c.Encode(env)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *FrameCodec) MaxMessageSize() int {
	return c.maxMessageSize
}
