package coordinator

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/identity"
)

// RevokeCredential invalidates a stored credential on behalf of its owner.
// Later credential verifications answered by this chain report it invalid.
func (c *Coordinator) RevokeCredential(ctx context.Context, caller common.Address, hash common.Hash) error {
	return c.run(ctx, "revoke_credential", func(j *journal) error {
		revoker, ok := c.identity.(identity.CredentialRevoker)
		if !ok {
			return newError(KindInvalidInput, "identity store does not support revocation")
		}
		if hash == (common.Hash{}) {
			return newError(KindInvalidInput, "credential hash is required")
		}

		if err := revoker.RevokeCredential(caller, hash, j.at); err != nil {
			switch {
			case errors.Is(err, identity.ErrNotOwner):
				return newError(KindUnauthorized, "only the credential owner may revoke it").
					WithContext("caller", caller.Hex()).
					WithCause(err)
			case errors.Is(err, identity.ErrRevoked):
				return newError(KindAlreadyResolved, "credential already revoked").WithCause(err)
			case errors.Is(err, identity.ErrNoCredential):
				return newError(KindInvalidInput, "unknown credential").WithCause(err)
			default:
				return err
			}
		}

		e := c.event(j, events.KindCredentialRevoked, caller)
		e.Fingerprint = hash
		j.emit(e)
		c.log.Info().Str("credential", hash.Hex()).Str("owner", caller.Hex()).Msg("Credential revoked")
		return nil
	})
}
