package coordinator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/identity-relay/x/access"
	"github.com/compose-network/identity-relay/x/events"
)

func (c *Coordinator) adminUpdated(j *journal, caller common.Address, action string) events.Event {
	return c.event(j, events.KindAdminUpdated, caller).WithAttr("action", action)
}

// SetBridgeEndpoint registers or updates a remote chain. Transport id 0
// leaves the chain known but unsupported.
func (c *Coordinator) SetBridgeEndpoint(
	ctx context.Context, caller common.Address, name, descriptor string, transportID uint16,
) error {
	return c.run(ctx, "set_bridge_endpoint", func(j *journal) error {
		if err := c.requireAdmin(caller); err != nil {
			return err
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return newError(KindInvalidInput, "chain name is required")
		}
		if name == c.localChain {
			return newError(KindInvalidInput, "cannot bridge to the local chain").WithContext("chain", name)
		}
		if other, ok := c.registry.NameByTransportID(transportID); ok && transportID != 0 && other != name {
			return newError(KindInvalidInput, "transport id already in use").
				WithContext("transport_id", transportID).
				WithContext("chain", other)
		}
		if err := c.registry.SetEndpoint(name, descriptor, transportID); err != nil {
			return newError(KindInvalidInput, "cannot set endpoint").WithCause(err)
		}

		e := c.adminUpdated(j, caller, "set_bridge_endpoint")
		e.Chain = name
		j.emit(e.WithAttr("descriptor", descriptor).WithAttr("transport_id", strconv.Itoa(int(transportID))))
		c.log.Info().
			Str("name", name).
			Str("descriptor", descriptor).
			Uint16("transport_id", transportID).
			Msg("Bridge endpoint updated")
		return nil
	})
}

// SetRequestCooldown changes the per-caller spacing. It applies to the next
// check; recorded timestamps are kept.
func (c *Coordinator) SetRequestCooldown(ctx context.Context, caller common.Address, d time.Duration) error {
	return c.run(ctx, "set_request_cooldown", func(j *journal) error {
		if err := c.requireAdmin(caller); err != nil {
			return err
		}
		if d < 0 {
			return newError(KindInvalidInput, "cooldown must not be negative")
		}

		prev := c.cooldown
		c.cooldown = d
		j.emit(c.adminUpdated(j, caller, "set_request_cooldown").
			WithAttr("previous", prev.String()).
			WithAttr("cooldown", d.String()))
		c.log.Info().Dur("previous", prev).Dur("cooldown", d).Msg("Request cooldown updated")
		return nil
	})
}

// RegisterValueToken allows token to be bridged.
func (c *Coordinator) RegisterValueToken(ctx context.Context, caller common.Address, category string, token common.Address) error {
	return c.run(ctx, "register_value_token", func(j *journal) error {
		if err := c.requireAdmin(caller); err != nil {
			return err
		}
		category = strings.TrimSpace(category)
		if category == "" {
			return newError(KindInvalidInput, "category is required")
		}
		if token == (common.Address{}) {
			return newError(KindInvalidInput, "token address is required")
		}
		if err := c.value.RegisterToken(category, token); err != nil {
			return newError(KindInvalidInput, "cannot register token").WithCause(err)
		}

		j.emit(c.adminUpdated(j, caller, "register_value_token").
			WithAttr("category", category).
			WithAttr("token", token.Hex()))
		return nil
	})
}

func (c *Coordinator) GrantRole(ctx context.Context, caller common.Address, role common.Hash, account common.Address) error {
	return c.changeRole(ctx, caller, role, account, true)
}

// RevokeRole removes role from account. An admin cannot revoke its own admin
// role, so the set of admins never becomes empty through this call.
func (c *Coordinator) RevokeRole(ctx context.Context, caller common.Address, role common.Hash, account common.Address) error {
	return c.changeRole(ctx, caller, role, account, false)
}

func (c *Coordinator) changeRole(ctx context.Context, caller common.Address, role common.Hash, account common.Address, grant bool) error {
	op := "revoke_role"
	if grant {
		op = "grant_role"
	}
	return c.run(ctx, op, func(j *journal) error {
		if err := c.requireAdmin(caller); err != nil {
			return err
		}
		if account == (common.Address{}) {
			return newError(KindInvalidInput, "account is required")
		}

		var changed bool
		if grant {
			changed = c.access.GrantRole(role, account)
		} else {
			if role == access.AdminRole && account == caller {
				return newError(KindInvalidInput, "admin cannot revoke its own admin role")
			}
			changed = c.access.RevokeRole(role, account)
		}

		j.emit(c.adminUpdated(j, caller, op).
			WithAttr("role", role.Hex()).
			WithAttr("account", account.Hex()).
			WithAttr("changed", strconv.FormatBool(changed)))
		return nil
	})
}
