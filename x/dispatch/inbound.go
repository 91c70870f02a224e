package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/replay"
	"github.com/compose-network/identity-relay/x/transport"
)

// Source identifies where an admitted message came from.
type Source struct {
	Chain       string
	TransportID uint16
	Address     []byte
	Sequence    uint64
	Fingerprint common.Hash
	SentAt      time.Time
}

// Handler applies decoded messages. An error undoes the replay mark.
type Handler interface {
	OnVerification(ctx context.Context, src Source, m envelope.VerificationRequest) error
	OnVerificationResponse(ctx context.Context, src Source, m envelope.VerificationResponse) error
	OnCredentialVerification(ctx context.Context, src Source, m envelope.CredentialVerification) error
	OnCredentialStatus(ctx context.Context, src Source, m envelope.CredentialStatusUpdate) error
	OnRoleSync(ctx context.Context, src Source, m envelope.RoleSynchronization) error
	OnTokenTransfer(ctx context.Context, src Source, m envelope.TokenTransfer) error
	OnDIDResolution(ctx context.Context, src Source, m envelope.DIDResolution) error
	OnCustom(ctx context.Context, src Source, m envelope.Custom) error
}

// Outcome reports what Dispatch did with a delivery.
type Outcome struct {
	Type        envelope.Type
	Fingerprint common.Hash
	SourceChain string
	Replayed    bool
	Expired     bool
	Ignored     bool
}

// Inbound authenticates, deduplicates and routes deliveries.
type Inbound struct {
	resolver Resolver
	guard    replay.Guard
	provider common.Address
	log      zerolog.Logger
}

func NewInbound(resolver Resolver, guard replay.Guard, provider common.Address, log zerolog.Logger) *Inbound {
	return &Inbound{
		resolver: resolver,
		guard:    guard,
		provider: provider,
		log:      log.With().Str("component", "inbound-dispatcher").Logger(),
	}
}

func (in *Inbound) Provider() common.Address {
	return in.provider
}

func (in *Inbound) Dispatch(ctx context.Context, d transport.Delivery, h Handler) (Outcome, error) {
	if d.Caller != in.provider {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnauthorized, d.Caller.Hex())
	}

	env, err := envelope.Unmarshal(d.Payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}

	chain, ok := in.resolver.NameByTransportID(d.SourceTransportID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: transport id %d", ErrUnsupportedChain, d.SourceTransportID)
	}

	out := Outcome{Type: env.Type, Fingerprint: env.Fingerprint, SourceChain: chain}
	log := in.log.With().
		Str("source", chain).
		Str("type", env.Type.String()).
		Str("fingerprint", env.Fingerprint.Hex()).
		Uint64("sequence", d.Sequence).
		Logger()

	verdict, err := in.guard.AdmitOnce(ctx, env.Fingerprint, env.SentAt())
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrReplayGuardFailure, err)
	}
	switch verdict {
	case replay.Duplicate:
		log.Info().Msg("Dropping replayed message")
		out.Replayed = true
		return out, nil
	case replay.Expired:
		log.Info().Time("sent_at", env.SentAt()).Msg("Dropping message outside the acceptance window")
		out.Expired = true
		return out, nil
	}

	src := Source{
		Chain:       chain,
		TransportID: d.SourceTransportID,
		Address:     d.SourceAddress,
		Sequence:    d.Sequence,
		Fingerprint: env.Fingerprint,
		SentAt:      env.SentAt(),
	}

	ignored, err := in.route(ctx, env, src, h)
	if err != nil {
		if ferr := in.guard.Forget(ctx, env.Fingerprint); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to release replay mark")
			err = errors.Join(err, ferr)
		}
		log.Warn().Err(err).Msg("Inbound message rejected")
		return Outcome{}, err
	}

	out.Ignored = ignored
	if ignored {
		log.Debug().Msg("Ignoring message of unknown type")
	}
	return out, nil
}

func (in *Inbound) route(ctx context.Context, env envelope.Envelope, src Source, h Handler) (bool, error) {
	msg, err := envelope.Open(env)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	switch m := msg.(type) {
	case envelope.VerificationRequest:
		return false, h.OnVerification(ctx, src, m)
	case envelope.VerificationResponse:
		return false, h.OnVerificationResponse(ctx, src, m)
	case envelope.CredentialVerification:
		return false, h.OnCredentialVerification(ctx, src, m)
	case envelope.CredentialStatusUpdate:
		return false, h.OnCredentialStatus(ctx, src, m)
	case envelope.RoleSynchronization:
		return false, h.OnRoleSync(ctx, src, m)
	case envelope.TokenTransfer:
		return false, h.OnTokenTransfer(ctx, src, m)
	case envelope.DIDResolution:
		return false, h.OnDIDResolution(ctx, src, m)
	case envelope.Custom:
		return false, h.OnCustom(ctx, src, m)
	case envelope.Unknown:
		return true, nil
	default:
		return true, nil
	}
}
