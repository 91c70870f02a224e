package http

// verificationReq is the JSON schema for POST routeRequestVerification
type verificationReq struct {
	DID    string `json:"did"`
	Target string `json:"target"`
}

type credentialReq struct {
	CredentialHash string `json:"credential_hash"` // 0x-hex
	Target         string `json:"target"`
}

// roleSyncReq accepts either a 0x-hex role id or a role name such as "ORACLE_ROLE".
type roleSyncReq struct {
	Role    string `json:"role"`
	Account string `json:"account"`
	IsGrant bool   `json:"is_grant"`
	Target  string `json:"target"`
}

type transferReq struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"` // decimal or 0x-hex
	Target    string `json:"target"`
	Recipient string `json:"recipient,omitempty"`
}

type messageReq struct {
	Target  string `json:"target"`
	Type    string `json:"type"`
	Payload string `json:"payload"` // 0x-hex
}

type completeReq struct {
	Result bool `json:"result"`
}

// inboundReq is the JSON form of a delivery. Providers may instead post the
// raw frame with contentTypeFrame.
type inboundReq struct {
	SourceTransportID uint16 `json:"source_transport_id"`
	SourceAddress     string `json:"source_address"` // 0x-hex
	Sequence          uint64 `json:"sequence"`
	Payload           string `json:"payload"` // 0x-hex envelope
}

type chainReq struct {
	Descriptor  string `json:"descriptor"`
	TransportID uint16 `json:"transport_id"`
}

type cooldownReq struct {
	Cooldown string `json:"cooldown"` // Go duration, e.g. "30s"
}

type tokenReq struct {
	Category string `json:"category"`
	Token    string `json:"token"`
}

type roleReq struct {
	Role    string `json:"role"`
	Account string `json:"account"`
	Grant   bool   `json:"grant"`
}
