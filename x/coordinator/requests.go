package coordinator

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/compose-network/identity-relay/x/dispatch"
	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/identity"
	"github.com/compose-network/identity-relay/x/ledger"
)

// MaxMessagePayload bounds the body of a caller-supplied envelope.
const MaxMessagePayload = 64 << 10

func (c *Coordinator) created(j *journal, kind ledger.Kind, id uint64, caller common.Address, target string, sent dispatch.Sent) {
	e := c.event(j, events.KindRequestCreated, caller).WithRequest(string(kind), id)
	e.Chain = target
	e.Fingerprint = sent.Fingerprint
	j.emit(e.WithAttr("nonce", uint64String(sent.Nonce)))
	c.metrics.RecordRequest(kind)
}

// RequestVerification asks target whether did is verified there. Only the DID
// owner or an admin may ask.
func (c *Coordinator) RequestVerification(ctx context.Context, caller common.Address, did, target string) (uint64, error) {
	var id uint64
	err := c.run(ctx, "request_verification", func(j *journal) error {
		did = strings.TrimSpace(did)
		if did == "" {
			return newError(KindInvalidInput, "did is required")
		}
		if len(did) > envelope.MaxDIDLength {
			return newError(KindInvalidInput, "did too long").WithCause(envelope.ErrDIDTooLong)
		}
		tokenID, err := c.identity.GetTokenIDByDID(did)
		if err != nil {
			return newError(KindInvalidInput, "did is not registered").WithCause(err).WithContext("did", did)
		}
		owner, err := c.identity.OwnerOf(tokenID)
		if err != nil {
			return newError(KindInvalidInput, "identity lookup failed").WithCause(err)
		}
		if owner != caller && !c.isAdmin(caller) {
			return newError(KindUnauthorized, "caller does not own did").WithContext("did", did)
		}
		if err := c.requireTarget(target); err != nil {
			return err
		}
		if err := c.throttle(ctx, j, caller, target); err != nil {
			return err
		}

		rec := insert(j, c.verifications, c.localChain, target, ledger.Verification{DID: did})
		sent, err := c.send(ctx, target, envelope.VerificationRequest{RequestID: rec.ID, DID: did})
		if err != nil {
			return err
		}

		c.created(j, ledger.KindVerification, rec.ID, caller, target, sent)
		id = rec.ID
		return nil
	})
	return id, err
}

// RequestCredentialVerification asks target to check a credential fingerprint.
func (c *Coordinator) RequestCredentialVerification(
	ctx context.Context, caller common.Address, credentialHash common.Hash, target string,
) (uint64, error) {
	var id uint64
	err := c.run(ctx, "request_credential_verification", func(j *journal) error {
		if credentialHash == (common.Hash{}) {
			return newError(KindInvalidInput, "credential hash is required")
		}
		if err := c.requireTarget(target); err != nil {
			return err
		}
		if err := c.throttle(ctx, j, caller, target); err != nil {
			return err
		}

		rec := insert(j, c.credentials, c.localChain, target, ledger.Credential{CredentialHash: credentialHash})
		sent, err := c.send(ctx, target, envelope.CredentialVerification{RequestID: rec.ID, CredentialHash: credentialHash})
		if err != nil {
			return err
		}

		c.created(j, ledger.KindCredentialVerification, rec.ID, caller, target, sent)
		id = rec.ID
		return nil
	})
	return id, err
}

// SyncRole propagates a grant or revoke of role to target. Admin only.
func (c *Coordinator) SyncRole(
	ctx context.Context, caller common.Address, role common.Hash, account common.Address, isGrant bool, target string,
) (uint64, error) {
	var id uint64
	err := c.run(ctx, "sync_role", func(j *journal) error {
		if err := c.requireAdmin(caller); err != nil {
			return err
		}
		if account == (common.Address{}) {
			return newError(KindInvalidInput, "account is required")
		}
		if err := c.requireTarget(target); err != nil {
			return err
		}

		rec := insert(j, c.roleSyncs, c.localChain, target, ledger.RoleSync{Role: role, Account: account, IsGrant: isGrant})
		sent, err := c.send(ctx, target, envelope.RoleSynchronization{
			RequestID: rec.ID,
			Role:      role,
			Account:   account,
			IsGrant:   isGrant,
		})
		if err != nil {
			return err
		}

		c.created(j, ledger.KindRoleSync, rec.ID, caller, target, sent)
		id = rec.ID
		return nil
	})
	return id, err
}

// BridgeTokens escrows amount of token from caller and asks target to mint it
// to recipient. A zero recipient resolves to the caller's registered address
// on target, falling back to the caller.
func (c *Coordinator) BridgeTokens(
	ctx context.Context,
	caller common.Address,
	token common.Address,
	amount *uint256.Int,
	target string,
	recipient common.Address,
) (uint64, error) {
	var id uint64
	err := c.run(ctx, "bridge_tokens", func(j *journal) error {
		if amount == nil || amount.IsZero() {
			return newError(KindInvalidInput, "amount must be positive")
		}
		if !c.value.IsRegistered(token) {
			return newError(KindInvalidInput, "token is not registered").WithContext("token", token.Hex())
		}
		if err := c.requireTarget(target); err != nil {
			return err
		}
		if err := c.throttle(ctx, j, caller, target); err != nil {
			return err
		}
		if recipient == (common.Address{}) {
			recipient = c.defaultRecipient(caller, target)
		}

		amount = amount.Clone()
		if err := c.value.TransferFrom(ctx, token, caller, c.escrow, amount); err != nil {
			return newError(KindEscrowFailed, "cannot escrow amount").
				WithCause(err).
				WithContext("token", token.Hex()).
				WithContext("amount", amount.Dec())
		}
		j.onAbort(func(ctx context.Context) error {
			return c.value.Transfer(ctx, token, c.escrow, caller, amount)
		})

		rec := insert(j, c.transfers, c.localChain, target, ledger.TokenTransfer{
			Token:     token,
			Amount:    amount,
			Sender:    caller,
			Recipient: recipient,
		})
		sent, err := c.send(ctx, target, envelope.TokenTransfer{
			TransferID: rec.ID,
			Token:      token,
			Amount:     amount,
			Sender:     caller,
			Recipient:  recipient,
		})
		if err != nil {
			return err
		}

		c.created(j, ledger.KindTokenTransfer, rec.ID, caller, target, sent)
		id = rec.ID
		return nil
	})
	return id, err
}

func (c *Coordinator) defaultRecipient(caller common.Address, target string) common.Address {
	tokenID, err := c.identity.TokenIDByOwner(caller)
	if err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			c.log.Warn().Err(err).Str("caller", caller.Hex()).Msg("Identity lookup failed")
		}
		return caller
	}
	addr, err := c.identity.GetChainAddress(tokenID, target)
	if err != nil || !common.IsHexAddress(addr) {
		return caller
	}
	return common.HexToAddress(addr)
}

// SendMessage publishes an arbitrary envelope to target and returns its
// fingerprint. No request record is created.
func (c *Coordinator) SendMessage(
	ctx context.Context, caller common.Address, target string, t envelope.Type, payload []byte,
) (common.Hash, error) {
	var fp common.Hash
	err := c.run(ctx, "send_message", func(j *journal) error {
		if t == envelope.TypeUnknown {
			return newError(KindInvalidInput, "message type is required")
		}
		if len(payload) > MaxMessagePayload {
			return newError(KindInvalidInput, "payload too large").WithContext("size", len(payload))
		}
		if err := c.requireTarget(target); err != nil {
			return err
		}
		if err := c.throttle(ctx, j, caller, target); err != nil {
			return err
		}

		sent, err := c.sendRaw(ctx, target, t, payload)
		if err != nil {
			return err
		}

		e := c.event(j, events.KindRequestCreated, caller)
		e.Request = "message"
		e.Chain = target
		e.Fingerprint = sent.Fingerprint
		j.emit(e.WithAttr("type", t.String()).WithAttr("nonce", uint64String(sent.Nonce)))
		fp = sent.Fingerprint
		return nil
	})
	return fp, err
}
