package coordinator

import (
	"context"
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/identity-relay/x/dispatch"
	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/identity"
	"github.com/compose-network/identity-relay/x/ledger"
	"github.com/compose-network/identity-relay/x/transport"
)

// OnMessage is the inbound entry point called by the transport provider.
// A duplicate delivery is not an error: the outcome reports Replayed.
// A delivery sent outside the acceptance window reports Expired.
func (c *Coordinator) OnMessage(
	ctx context.Context,
	caller common.Address,
	sourceTransportID uint16,
	sourceAddress []byte,
	sequence uint64,
	payload []byte,
) (dispatch.Outcome, error) {
	var out dispatch.Outcome
	err := c.run(ctx, "on_message", func(j *journal) error {
		var err error
		out, err = c.inbound.Dispatch(ctx, transport.Delivery{
			Caller:            caller,
			SourceTransportID: sourceTransportID,
			SourceAddress:     sourceAddress,
			Sequence:          sequence,
			Payload:           payload,
		}, &inboundHandler{c: c, j: j})
		if err != nil {
			c.metrics.RecordInbound(out.Type.String(), "rejected")
			return inboundError(err)
		}

		switch {
		case out.Replayed:
			e := c.event(j, events.KindMessageReplayed, caller)
			e.Chain = out.SourceChain
			e.Fingerprint = out.Fingerprint
			j.emit(e.WithAttr("type", out.Type.String()).WithAttr("sequence", uint64String(sequence)))
			c.metrics.RecordInbound(out.Type.String(), "replayed")
		case out.Expired:
			e := c.event(j, events.KindMessageExpired, caller)
			e.Chain = out.SourceChain
			e.Fingerprint = out.Fingerprint
			j.emit(e.WithAttr("type", out.Type.String()).WithAttr("sequence", uint64String(sequence)))
			c.metrics.RecordInbound(out.Type.String(), "expired")
		case out.Ignored:
			c.metrics.RecordInbound(out.Type.String(), "ignored")
		default:
			c.metrics.RecordInbound(out.Type.String(), "applied")
		}
		return nil
	})
	return out, err
}

// Receive lets a transport deliver straight into the coordinator.
func (c *Coordinator) Receive(ctx context.Context, d transport.Delivery) error {
	_, err := c.OnMessage(ctx, d.Caller, d.SourceTransportID, d.SourceAddress, d.Sequence, d.Payload)
	return err
}

var _ transport.Receiver = (*Coordinator)(nil)

func inboundError(err error) error {
	var ce *Error
	switch {
	case errors.As(err, &ce):
		return err
	case errors.Is(err, dispatch.ErrUnauthorized):
		return newError(KindUnauthorized, "caller is not the transport provider").WithCause(err)
	case errors.Is(err, dispatch.ErrUnsupportedChain):
		return newError(KindUnsupportedChain, "source chain is not registered").WithCause(err)
	case errors.Is(err, dispatch.ErrMalformedEnvelope), errors.Is(err, dispatch.ErrMalformedPayload):
		return newError(KindInvalidInput, "malformed message").WithCause(err)
	default:
		return err
	}
}

// inboundHandler applies one admitted message inside the journal of the
// delivering invocation.
type inboundHandler struct {
	c *Coordinator
	j *journal
}

var _ dispatch.Handler = (*inboundHandler)(nil)

func (h *inboundHandler) received(src dispatch.Source, t envelope.Type) events.Event {
	e := h.c.event(h.j, events.KindMessageReceived, common.Address{})
	e.Chain = src.Chain
	e.Fingerprint = src.Fingerprint
	return e.WithAttr("type", t.String())
}

func (h *inboundHandler) OnVerification(ctx context.Context, src dispatch.Source, m envelope.VerificationRequest) error {
	h.j.emit(h.received(src, m.Type()).WithAttr("did", m.DID).WithAttr("request_id", uint64String(m.RequestID)))
	if !h.c.autoRespond {
		return nil
	}

	verified := false
	if tokenID, err := h.c.identity.GetTokenIDByDID(m.DID); err == nil {
		verified, err = h.c.identity.IsVerified(tokenID)
		if err != nil {
			return err
		}
	} else if !errors.Is(err, identity.ErrNotFound) {
		return err
	}

	_, err := h.c.send(ctx, src.Chain, envelope.VerificationResponse{RequestID: m.RequestID, Verified: verified})
	return err
}

func (h *inboundHandler) OnVerificationResponse(_ context.Context, src dispatch.Source, m envelope.VerificationResponse) error {
	return respond(h, h.c.verifications, src, m.RequestID, func(p *ledger.Verification) bool {
		p.Verified = m.Verified
		return true
	}, "verified", strconv.FormatBool(m.Verified))
}

func (h *inboundHandler) OnCredentialVerification(ctx context.Context, src dispatch.Source, m envelope.CredentialVerification) error {
	h.j.emit(h.received(src, m.Type()).
		WithAttr("credential_hash", m.CredentialHash.Hex()).
		WithAttr("request_id", uint64String(m.RequestID)))
	if !h.c.autoRespond {
		return nil
	}

	cred, err := h.c.identity.CredentialStatus(m.CredentialHash)
	if errors.Is(err, identity.ErrNoCredential) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = h.c.send(ctx, src.Chain, envelope.CredentialStatusUpdate{
		RequestID:      m.RequestID,
		CredentialHash: m.CredentialHash,
		Valid:          cred.Valid,
	})
	return err
}

func (h *inboundHandler) OnCredentialStatus(_ context.Context, src dispatch.Source, m envelope.CredentialStatusUpdate) error {
	return respond(h, h.c.credentials, src, m.RequestID, func(p *ledger.Credential) bool {
		if p.CredentialHash != m.CredentialHash {
			return false
		}
		p.Verified = m.Valid
		return true
	}, "verified", strconv.FormatBool(m.Valid))
}

// respond resolves a pending record from an inbound response. Unknown ids,
// resolved records and responses from another chain are ignored.
func respond[P any](
	h *inboundHandler,
	t *ledger.RequestTable[P],
	src dispatch.Source,
	id uint64,
	apply func(*P) bool,
	attrKey, attrValue string,
) error {
	log := h.c.log.With().Str("kind", string(t.Kind())).Uint64("id", id).Str("source", src.Chain).Logger()

	rec, err := t.Get(id)
	if err != nil {
		log.Debug().Msg("Response for unknown request")
		return nil
	}
	if rec.State != ledger.StatePending {
		log.Debug().Msg("Response for resolved request")
		return nil
	}
	if rec.TargetChain != src.Chain {
		log.Warn().Str("target", rec.TargetChain).Msg("Response from unexpected chain")
		return nil
	}

	payload := rec.Payload
	if !apply(&payload) {
		log.Warn().Msg("Response does not match request")
		return nil
	}
	if _, err := resolve(h.j, t, id, func(p *P) { *p = payload }); err != nil {
		return err
	}

	e := h.c.completed(h.j, t.Kind(), id, common.Address{}, src.Chain, viaInbound)
	e.Fingerprint = src.Fingerprint
	h.j.emit(e.WithAttr(attrKey, attrValue))
	return nil
}

func (h *inboundHandler) OnRoleSync(_ context.Context, src dispatch.Source, m envelope.RoleSynchronization) error {
	var changed bool
	if m.IsGrant {
		changed = h.c.access.GrantRole(m.Role, m.Account)
		if changed {
			h.j.onAbort(func(context.Context) error {
				h.c.access.RevokeRole(m.Role, m.Account)
				return nil
			})
		}
	} else {
		changed = h.c.access.RevokeRole(m.Role, m.Account)
		if changed {
			h.j.onAbort(func(context.Context) error {
				h.c.access.GrantRole(m.Role, m.Account)
				return nil
			})
		}
	}

	e := h.c.completed(h.j, ledger.KindRoleSync, m.RequestID, common.Address{}, src.Chain, viaInbound)
	e.Fingerprint = src.Fingerprint
	h.j.emit(e.
		WithAttr("role", m.Role.Hex()).
		WithAttr("account", m.Account.Hex()).
		WithAttr("grant", strconv.FormatBool(m.IsGrant)).
		WithAttr("changed", strconv.FormatBool(changed)))
	return nil
}

// OnTokenTransfer mints the bridged amount to the recipient named in the
// payload.
func (h *inboundHandler) OnTokenTransfer(ctx context.Context, src dispatch.Source, m envelope.TokenTransfer) error {
	if m.Amount == nil || m.Amount.IsZero() || m.Recipient == (common.Address{}) {
		h.c.log.Warn().
			Str("source", src.Chain).
			Uint64("transfer_id", m.TransferID).
			Msg("Ignoring empty token transfer")
		return nil
	}

	if err := h.c.value.Mint(ctx, m.Token, m.Recipient, m.Amount); err != nil {
		return newError(KindInvalidInput, "cannot mint bridged amount").
			WithCause(err).
			WithContext("token", m.Token.Hex()).
			WithContext("transfer_id", m.TransferID)
	}
	amount := m.Amount.Clone()
	h.j.onAbort(func(ctx context.Context) error {
		return h.c.value.Burn(ctx, m.Token, m.Recipient, amount)
	})

	e := h.c.completed(h.j, ledger.KindTokenTransfer, m.TransferID, common.Address{}, src.Chain, viaInbound)
	e.Fingerprint = src.Fingerprint
	h.j.emit(e.
		WithAttr("token", m.Token.Hex()).
		WithAttr("amount", amount.Dec()).
		WithAttr("sender", m.Sender.Hex()).
		WithAttr("recipient", m.Recipient.Hex()))
	return nil
}

func (h *inboundHandler) OnDIDResolution(_ context.Context, src dispatch.Source, m envelope.DIDResolution) error {
	e := h.received(src, m.Type()).WithAttr("did", m.DID).WithAttr("request_id", uint64String(m.RequestID))

	tokenID, err := h.c.identity.GetTokenIDByDID(m.DID)
	switch {
	case errors.Is(err, identity.ErrNotFound):
		e = e.WithAttr("resolved", "false")
	case err != nil:
		return err
	default:
		owner, err := h.c.identity.OwnerOf(tokenID)
		if err != nil {
			return err
		}
		e = e.WithAttr("resolved", "true").
			WithAttr("token_id", uint64String(tokenID)).
			WithAttr("owner", owner.Hex())
	}

	h.j.emit(e)
	return nil
}

func (h *inboundHandler) OnCustom(_ context.Context, src dispatch.Source, m envelope.Custom) error {
	h.j.emit(h.received(src, m.Type()).WithAttr("size", strconv.Itoa(len(m.Data))))
	return nil
}
