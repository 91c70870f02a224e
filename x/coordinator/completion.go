package coordinator

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/ledger"
)

const (
	viaOracle  = "oracle"
	viaInbound = "inbound"
)

func (c *Coordinator) completed(j *journal, kind ledger.Kind, id uint64, caller common.Address, chain, via string) events.Event {
	e := c.event(j, events.KindRequestCompleted, caller).WithRequest(string(kind), id).WithAttr("via", via)
	e.Chain = chain
	c.metrics.RecordCompletion(kind, via)
	return e
}

func (c *Coordinator) CompleteVerification(ctx context.Context, caller common.Address, id uint64, verified bool) error {
	return c.run(ctx, "complete_verification", func(j *journal) error {
		if err := c.requireOracle(caller); err != nil {
			return err
		}
		rec, err := resolve(j, c.verifications, id, func(p *ledger.Verification) { p.Verified = verified })
		if err != nil {
			return err
		}
		e := c.completed(j, ledger.KindVerification, id, caller, rec.TargetChain, viaOracle)
		j.emit(e.WithAttr("verified", strconv.FormatBool(verified)))
		return nil
	})
}

func (c *Coordinator) CompleteCredentialVerification(ctx context.Context, caller common.Address, id uint64, verified bool) error {
	return c.run(ctx, "complete_credential_verification", func(j *journal) error {
		if err := c.requireOracle(caller); err != nil {
			return err
		}
		rec, err := resolve(j, c.credentials, id, func(p *ledger.Credential) { p.Verified = verified })
		if err != nil {
			return err
		}
		e := c.completed(j, ledger.KindCredentialVerification, id, caller, rec.TargetChain, viaOracle)
		j.emit(e.WithAttr("verified", strconv.FormatBool(verified)))
		return nil
	})
}

func (c *Coordinator) CompleteRoleSync(ctx context.Context, caller common.Address, id uint64, success bool) error {
	return c.run(ctx, "complete_role_sync", func(j *journal) error {
		if err := c.requireOracle(caller); err != nil {
			return err
		}
		rec, err := resolve(j, c.roleSyncs, id, func(p *ledger.RoleSync) { p.Success = success })
		if err != nil {
			return err
		}
		e := c.completed(j, ledger.KindRoleSync, id, caller, rec.TargetChain, viaOracle)
		j.emit(e.WithAttr("success", strconv.FormatBool(success)))
		return nil
	})
}

// CompleteTokenTransfer settles the escrow of a bridge request: burned on
// success, returned to the sender otherwise. The state guard makes the
// settlement happen at most once.
func (c *Coordinator) CompleteTokenTransfer(ctx context.Context, caller common.Address, id uint64, success bool) error {
	return c.run(ctx, "complete_token_transfer", func(j *journal) error {
		if err := c.requireOracle(caller); err != nil {
			return err
		}
		rec, err := resolve(j, c.transfers, id, func(p *ledger.TokenTransfer) {
			p.Completed = true
			p.Success = success
		})
		if err != nil {
			return err
		}

		p := rec.Payload
		if success {
			err = c.value.Burn(ctx, p.Token, c.escrow, p.Amount)
		} else {
			err = c.value.Transfer(ctx, p.Token, c.escrow, p.Sender, p.Amount)
		}
		if err != nil {
			return newError(KindEscrowFailed, "cannot settle escrow").
				WithCause(err).
				WithContext("id", id).
				WithContext("success", success)
		}

		e := c.completed(j, ledger.KindTokenTransfer, id, caller, rec.TargetChain, viaOracle)
		j.emit(e.WithAttr("success", strconv.FormatBool(success)).WithAttr("amount", p.Amount.Dec()))
		return nil
	})
}
