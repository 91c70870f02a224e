package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/compose-network/identity-relay/server/api/middleware"
)

// RegisterMux binds gorilla/mux routes. Every route recovers the signing
// caller from middleware.SignatureHeader.
func (h *Handler) RegisterMux(r *mux.Router) {
	sub := r.NewRoute().Subrouter()
	sub.Use(middleware.Caller(h.auth))

	sub.HandleFunc(routeRequestVerification, h.handleRequestVerification).
		Methods(http.MethodPost).
		Name(routeNameRequestVerification)
	sub.HandleFunc(routeRequestCredential, h.handleRequestCredential).
		Methods(http.MethodPost).
		Name(routeNameRequestCredential)
	sub.HandleFunc(routeRequestRoleSync, h.handleRequestRoleSync).
		Methods(http.MethodPost).
		Name(routeNameRequestRoleSync)
	sub.HandleFunc(routeRequestTransfer, h.handleRequestTransfer).
		Methods(http.MethodPost).
		Name(routeNameRequestTransfer)
	sub.HandleFunc(routeSendMessage, h.handleSendMessage).Methods(http.MethodPost).Name(routeNameSendMessage)

	sub.HandleFunc(routeRequestByID, h.handleGetRequest).Methods(http.MethodGet).Name(routeNameRequestByID)
	sub.HandleFunc(routeCompleteRequest, h.handleComplete).Methods(http.MethodPost).Name(routeNameCompleteRequest)
	sub.HandleFunc(routeInbound, h.handleInbound).Methods(http.MethodPost).Name(routeNameInbound)
	sub.HandleFunc(routeRevokeCredential, h.handleRevokeCredential).
		Methods(http.MethodPost).
		Name(routeNameRevokeCredential)

	sub.HandleFunc(routeAdminChain, h.handleSetChain).Methods(http.MethodPut).Name(routeNameAdminChain)
	sub.HandleFunc(routeAdminCooldown, h.handleSetCooldown).Methods(http.MethodPut).Name(routeNameAdminCooldown)
	sub.HandleFunc(routeAdminTokens, h.handleRegisterToken).Methods(http.MethodPost).Name(routeNameAdminTokens)
	sub.HandleFunc(routeAdminRoles, h.handleRole).Methods(http.MethodPost).Name(routeNameAdminRoles)

	sub.HandleFunc(routeChains, h.handleChains).Methods(http.MethodGet).Name(routeNameChains)
	sub.HandleFunc(routeEvents, h.handleEvents).Methods(http.MethodGet).Name(routeNameEvents)
}
