package coordinator

import (
	"time"

	"github.com/compose-network/identity-relay/x/chains"
	"github.com/compose-network/identity-relay/x/ledger"
)

// TableStats summarizes one lifecycle table.
type TableStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	LocalChain    string                     `json:"local_chain"`
	Nonce         uint64                     `json:"nonce"`
	Cooldown      time.Duration              `json:"cooldown"`
	Chains        int                        `json:"chains"`
	ReplayEntries int                        `json:"replay_entries"`
	Requests      map[ledger.Kind]TableStats `json:"requests"`
}

// getRecord is called with c.mu held.
func getRecord[P any](t *ledger.RequestTable[P], id uint64) (ledger.Record[P], error) {
	rec, err := t.Get(id)
	if err != nil {
		return rec, tableError(err, id)
	}
	return rec, nil
}

func (c *Coordinator) Verification(id uint64) (ledger.Record[ledger.Verification], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return getRecord(c.verifications, id)
}

func (c *Coordinator) CredentialVerification(id uint64) (ledger.Record[ledger.Credential], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return getRecord(c.credentials, id)
}

func (c *Coordinator) RoleSync(id uint64) (ledger.Record[ledger.RoleSync], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return getRecord(c.roleSyncs, id)
}

func (c *Coordinator) TokenTransfer(id uint64) (ledger.Record[ledger.TokenTransfer], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return getRecord(c.transfers, id)
}

// Request returns the record of any kind as an untyped value, for the HTTP layer.
func (c *Coordinator) Request(kind ledger.Kind, id uint64) (any, error) {
	switch kind {
	case ledger.KindVerification:
		return c.Verification(id)
	case ledger.KindCredentialVerification:
		return c.CredentialVerification(id)
	case ledger.KindRoleSync:
		return c.RoleSync(id)
	case ledger.KindTokenTransfer:
		return c.TokenTransfer(id)
	default:
		return nil, newError(KindInvalidInput, "unknown request kind").WithContext("kind", string(kind))
	}
}

func (c *Coordinator) Cooldown() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooldown
}

// Nonce is the nonce of the last published envelope.
func (c *Coordinator) Nonce() uint64 {
	return c.outbound.Nonce()
}

func (c *Coordinator) Chains() []chains.Endpoint {
	return c.registry.Endpoints()
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		LocalChain:    c.localChain,
		Nonce:         c.outbound.Nonce(),
		Cooldown:      c.cooldown,
		Chains:        len(c.registry.Endpoints()),
		ReplayEntries: c.guard.Len(),
		Requests: map[ledger.Kind]TableStats{
			ledger.KindVerification:           {Total: c.verifications.Len(), Pending: c.verifications.Pending()},
			ledger.KindCredentialVerification: {Total: c.credentials.Len(), Pending: c.credentials.Pending()},
			ledger.KindRoleSync:               {Total: c.roleSyncs.Len(), Pending: c.roleSyncs.Pending()},
			ledger.KindTokenTransfer:          {Total: c.transfers.Len(), Pending: c.transfers.Pending()},
		},
	}
}
