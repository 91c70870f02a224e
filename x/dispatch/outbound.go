package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/identity-relay/x/chains"
	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/transport"
)

// Sent describes a successfully published envelope.
type Sent struct {
	Fingerprint common.Hash
	Nonce       uint64
	Sequence    uint64
	TransportID uint16
	Envelope    envelope.Envelope
}

// Outbound wraps payloads into envelopes and hands them to the provider.
type Outbound struct {
	mu       sync.Mutex
	nonce    uint64
	resolver Resolver
	provider transport.Provider
	salt     []byte
	now      func() time.Time
	log      zerolog.Logger
}

// NewOutbound creates a dispatcher. localChain salts every fingerprint so two
// coordinators never produce the same one.
func NewOutbound(resolver Resolver, provider transport.Provider, localChain string, now func() time.Time, log zerolog.Logger) *Outbound {
	if now == nil {
		now = time.Now
	}
	return &Outbound{
		resolver: resolver,
		provider: provider,
		salt:     []byte(localChain),
		now:      now,
		log:      log.With().Str("component", "outbound-dispatcher").Logger(),
	}
}

// Send publishes exactly one envelope. On failure the nonce is left unchanged
// and nothing is retried.
func (o *Outbound) Send(ctx context.Context, target string, t envelope.Type, payload []byte) (Sent, error) {
	transportID := o.resolver.ResolveTransportID(target)
	if transportID == chains.UnsupportedTransportID {
		return Sent{}, fmt.Errorf("%w: %q", ErrUnsupportedChain, target)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	nonce := o.nonce + 1
	env := envelope.New(t, payload, uint64(o.now().Unix()), nonce, o.salt)

	seq, err := o.provider.Publish(ctx, nonce, env.Marshal(), transportID)
	if err != nil {
		o.log.Warn().
			Err(err).
			Str("target", target).
			Str("type", t.String()).
			Uint64("nonce", nonce).
			Msg("Publish failed")
		return Sent{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	o.nonce = nonce

	o.log.Debug().
		Str("target", target).
		Uint16("transport_id", transportID).
		Str("type", t.String()).
		Uint64("nonce", nonce).
		Uint64("sequence", seq).
		Str("fingerprint", env.Fingerprint.Hex()).
		Msg("Envelope dispatched")

	return Sent{
		Fingerprint: env.Fingerprint,
		Nonce:       nonce,
		Sequence:    seq,
		TransportID: transportID,
		Envelope:    env,
	}, nil
}

// SendMessage encodes msg and sends it.
func (o *Outbound) SendMessage(ctx context.Context, target string, msg envelope.Message) (Sent, error) {
	t, payload, err := envelope.Encode(msg)
	if err != nil {
		return Sent{}, err
	}
	return o.Send(ctx, target, t, payload)
}

func (o *Outbound) Nonce() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.nonce
}
