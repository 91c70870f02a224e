package http

// Route patterns for the relay HTTP surface.
const (
	routeRequestVerification = "/v1/requests/verification"
	routeRequestCredential   = "/v1/requests/credential"
	routeRequestRoleSync     = "/v1/requests/role-sync"
	routeRequestTransfer     = "/v1/requests/token-transfer"
	routeSendMessage         = "/v1/messages"
	routeRequestByID         = "/v1/requests/{kind}/{id:[0-9]+}"
	routeCompleteRequest     = "/v1/requests/{kind}/{id:[0-9]+}/complete"
	routeInbound             = "/v1/relay/inbound"
	routeRevokeCredential    = "/v1/credentials/{hash}/revoke"
	routeAdminChain          = "/v1/admin/chains/{name}"
	routeAdminCooldown       = "/v1/admin/cooldown"
	routeAdminTokens         = "/v1/admin/tokens"
	routeAdminRoles          = "/v1/admin/roles"
	routeChains              = "/v1/chains"
	routeEvents              = "/v1/events"
)

// Route names for mux URL building.
const (
	routeNameRequestVerification = "relay_request_verification"
	routeNameRequestCredential   = "relay_request_credential"
	routeNameRequestRoleSync     = "relay_request_role_sync"
	routeNameRequestTransfer     = "relay_request_token_transfer"
	routeNameSendMessage         = "relay_send_message"
	routeNameRequestByID         = "relay_request_by_id"
	routeNameCompleteRequest     = "relay_complete_request"
	routeNameInbound             = "relay_inbound"
	routeNameRevokeCredential    = "relay_revoke_credential"
	routeNameAdminChain          = "relay_admin_chain"
	routeNameAdminCooldown       = "relay_admin_cooldown"
	routeNameAdminTokens         = "relay_admin_tokens"
	routeNameAdminRoles          = "relay_admin_roles"
	routeNameChains              = "relay_chains"
	routeNameEvents              = "relay_events"
)

// Headers set by the transport provider on inbound deliveries of raw frames.
const (
	headerSourceTransportID = "X-Relay-Transport-Id"
	headerSourceAddress     = "X-Relay-Source"
	headerSequence          = "X-Relay-Sequence"

	contentTypeFrame = "application/x-relay-frame"
)
