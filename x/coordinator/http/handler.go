package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/identity-relay/server/api"
	"github.com/compose-network/identity-relay/server/api/middleware"
	"github.com/compose-network/identity-relay/x/access"
	"github.com/compose-network/identity-relay/x/chains"
	"github.com/compose-network/identity-relay/x/codec"
	"github.com/compose-network/identity-relay/x/coordinator"
	"github.com/compose-network/identity-relay/x/dispatch"
	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/events"
	"github.com/compose-network/identity-relay/x/ledger"
	"github.com/compose-network/identity-relay/x/ratelimit"
	"github.com/compose-network/identity-relay/x/replay"
)

// Service is the coordinator surface exposed over HTTP.
type Service interface {
	RequestVerification(ctx context.Context, caller common.Address, did, target string) (uint64, error)
	RequestCredentialVerification(ctx context.Context, caller common.Address, hash common.Hash, target string) (uint64, error)
	SyncRole(ctx context.Context, caller common.Address, role common.Hash, account common.Address, isGrant bool, target string) (uint64, error)
	BridgeTokens(ctx context.Context, caller, token common.Address, amount *uint256.Int, target string, recipient common.Address) (uint64, error)
	SendMessage(ctx context.Context, caller common.Address, target string, t envelope.Type, payload []byte) (common.Hash, error)

	CompleteVerification(ctx context.Context, caller common.Address, id uint64, verified bool) error
	CompleteCredentialVerification(ctx context.Context, caller common.Address, id uint64, verified bool) error
	CompleteRoleSync(ctx context.Context, caller common.Address, id uint64, success bool) error
	CompleteTokenTransfer(ctx context.Context, caller common.Address, id uint64, success bool) error

	OnMessage(ctx context.Context, caller common.Address, sourceTransportID uint16, sourceAddress []byte, sequence uint64, payload []byte) (dispatch.Outcome, error)

	RevokeCredential(ctx context.Context, caller common.Address, hash common.Hash) error

	SetBridgeEndpoint(ctx context.Context, caller common.Address, name, descriptor string, transportID uint16) error
	SetRequestCooldown(ctx context.Context, caller common.Address, d time.Duration) error
	RegisterValueToken(ctx context.Context, caller common.Address, category string, token common.Address) error
	GrantRole(ctx context.Context, caller common.Address, role common.Hash, account common.Address) error
	RevokeRole(ctx context.Context, caller common.Address, role common.Hash, account common.Address) error

	Request(kind ledger.Kind, id uint64) (any, error)
	Chains() []chains.Endpoint
}

// EventSource serves the retained event trail.
type EventSource interface {
	List(kind events.Kind, limit int) []events.Event
	Since(seq uint64) []events.Event
}

// frameOverhead is the length prefix a raw frame carries on top of its payload.
const frameOverhead = 8

type Handler struct {
	svc     Service
	events  EventSource
	frames  codec.Codec
	maxBody int64
	auth    middleware.CallerConfig
	now     func() time.Time
	log     zerolog.Logger
}

type Option func(*Handler)

// WithSignatureSkew bounds the age of a signed request.
func WithSignatureSkew(d time.Duration) Option {
	return func(h *Handler) { h.auth.Skew = d }
}

// WithSignatureGuard rejects a signed request presented more than once.
func WithSignatureGuard(g replay.Guard) Option {
	return func(h *Handler) { h.auth.Seen = g }
}

// WithSignatureClock replaces time.Now for signature checks.
func WithSignatureClock(now func() time.Time) Option {
	return func(h *Handler) { h.auth.Now = now }
}

func NewHandler(svc Service, trail EventSource, frames codec.Codec, log zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		svc:     svc,
		events:  trail,
		frames:  frames,
		maxBody: int64(frames.MaxMessageSize()),
		now:     time.Now,
		log:     log.With().Str("component", "relay-http").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.auth.MaxBody = h.maxBody + frameOverhead
	return h
}

// caller returns the authenticated caller or writes 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := middleware.CallerFrom(r.Context())
	if !ok {
		apicommon.WriteError(w, r, http.StatusUnauthorized, "unsigned", "request must carry "+middleware.SignatureHeader, nil)
		return common.Address{}, false
	}
	return addr, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_json", "failed to decode request", nil)
		return false
	}
	return true
}

func (h *Handler) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req verificationReq
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.svc.RequestVerification(r.Context(), caller, req.DID, req.Target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, ledger.KindVerification, id)
}

func (h *Handler) handleRequestCredential(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req credentialReq
	if !h.decode(w, r, &req) {
		return
	}
	hash, err := parseHash(req.CredentialHash)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_credential_hash", err.Error(), nil)
		return
	}

	id, err := h.svc.RequestCredentialVerification(r.Context(), caller, hash, req.Target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, ledger.KindCredentialVerification, id)
}

func (h *Handler) handleRequestRoleSync(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req roleSyncReq
	if !h.decode(w, r, &req) {
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_account", err.Error(), nil)
		return
	}

	id, err := h.svc.SyncRole(r.Context(), caller, parseRole(req.Role), account, req.IsGrant, req.Target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, ledger.KindRoleSync, id)
}

func (h *Handler) handleRequestTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req transferReq
	if !h.decode(w, r, &req) {
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_token", err.Error(), nil)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_amount", err.Error(), nil)
		return
	}
	var recipient common.Address
	if req.Recipient != "" {
		if recipient, err = parseAddress(req.Recipient); err != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_recipient", err.Error(), nil)
			return
		}
	}

	id, err := h.svc.BridgeTokens(r.Context(), caller, token, amount, req.Target, recipient)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, ledger.KindTokenTransfer, id)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req messageReq
	if !h.decode(w, r, &req) {
		return
	}
	t, err := envelope.ParseType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_type", err.Error(), nil)
		return
	}
	payload, err := parseBytes(req.Payload)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_payload", err.Error(), nil)
		return
	}

	fp, err := h.svc.SendMessage(r.Context(), caller, req.Target, t, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusAccepted, map[string]any{"fingerprint": fp.Hex()})
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Request(kind, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	kind, id, ok := pathRequest(w, r)
	if !ok {
		return
	}
	var req completeReq
	if !h.decode(w, r, &req) {
		return
	}

	var complete func(context.Context, common.Address, uint64, bool) error
	switch kind {
	case ledger.KindVerification:
		complete = h.svc.CompleteVerification
	case ledger.KindCredentialVerification:
		complete = h.svc.CompleteCredentialVerification
	case ledger.KindRoleSync:
		complete = h.svc.CompleteRoleSync
	case ledger.KindTokenTransfer:
		complete = h.svc.CompleteTokenTransfer
	}
	if err := complete(r.Context(), caller, id, req.Result); err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{"kind": kind, "id": id, "status": "resolved"})
}

// readFrame decodes one framed envelope, streaming when the codec allows it.
func (h *Handler) readFrame(body io.Reader) (envelope.Envelope, error) {
	body = io.LimitReader(body, h.maxBody+frameOverhead)
	if sc, ok := h.frames.(codec.StreamCodec); ok {
		return sc.DecodeStream(body)
	}
	frame, err := io.ReadAll(body)
	if err != nil {
		return envelope.Envelope{}, err
	}
	return h.frames.Decode(frame)
}

// handleInbound accepts a delivery from the transport provider, either as a
// raw frame or as JSON.
func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var (
		srcID   uint16
		srcAddr []byte
		seq     uint64
		payload []byte
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeFrame) {
		defer r.Body.Close()
		env, err := h.readFrame(r.Body)
		if err != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_frame", err.Error(), nil)
			return
		}
		payload = env.Marshal()

		id, err := strconv.ParseUint(r.Header.Get(headerSourceTransportID), 10, 16)
		if err != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_transport_id", "missing "+headerSourceTransportID, nil)
			return
		}
		srcID = uint16(id)
		if seq, err = strconv.ParseUint(r.Header.Get(headerSequence), 10, 64); err != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_sequence", "missing "+headerSequence, nil)
			return
		}
		if src := r.Header.Get(headerSourceAddress); src != "" {
			if srcAddr, err = hexutil.Decode(src); err != nil {
				apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_source", err.Error(), nil)
				return
			}
		}
	} else {
		var req inboundReq
		if !h.decode(w, r, &req) {
			return
		}
		var err error
		if payload, err = parseBytes(req.Payload); err != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_payload", err.Error(), nil)
			return
		}
		if req.SourceAddress != "" {
			if srcAddr, err = hexutil.Decode(req.SourceAddress); err != nil {
				apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_source", err.Error(), nil)
				return
			}
		}
		srcID, seq = req.SourceTransportID, req.Sequence
	}

	out, err := h.svc.OnMessage(r.Context(), caller, srcID, srcAddr, seq, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{
		"type":         out.Type.String(),
		"fingerprint":  out.Fingerprint.Hex(),
		"source_chain": out.SourceChain,
		"replayed":     out.Replayed,
		"expired":      out.Expired,
		"ignored":      out.Ignored,
	})
}

func (h *Handler) handleSetChain(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req chainReq
	if !h.decode(w, r, &req) {
		return
	}
	name := mux.Vars(r)["name"]
	if err := h.svc.SetBridgeEndpoint(r.Context(), caller, name, req.Descriptor, req.TransportID); err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, chains.Endpoint{Name: name, Descriptor: req.Descriptor, TransportID: req.TransportID})
}

// handleRevokeCredential lets the owner of a stored credential revoke it.
func (h *Handler) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	hash, err := parseHash(mux.Vars(r)["hash"])
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_credential_hash", err.Error(), nil)
		return
	}
	if err := h.svc.RevokeCredential(r.Context(), caller, hash); err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{"credential_hash": hash.Hex(), "valid": false})
}

func (h *Handler) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req cooldownReq
	if !h.decode(w, r, &req) {
		return
	}
	d, err := time.ParseDuration(req.Cooldown)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_cooldown", err.Error(), nil)
		return
	}
	if err := h.svc.SetRequestCooldown(r.Context(), caller, d); err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{"cooldown": d.String()})
}

func (h *Handler) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req tokenReq
	if !h.decode(w, r, &req) {
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_token", err.Error(), nil)
		return
	}
	if err := h.svc.RegisterValueToken(r.Context(), caller, req.Category, token); err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusCreated, map[string]any{"category": req.Category, "token": token.Hex()})
}

func (h *Handler) handleRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req roleReq
	if !h.decode(w, r, &req) {
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_account", err.Error(), nil)
		return
	}

	role := parseRole(req.Role)
	if req.Grant {
		err = h.svc.GrantRole(r.Context(), caller, role, account)
	} else {
		err = h.svc.RevokeRole(r.Context(), caller, role, account)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	apicommon.WriteJSON(w, http.StatusOK, map[string]any{"role": role.Hex(), "account": account.Hex(), "grant": req.Grant})
}

func (h *Handler) handleChains(w http.ResponseWriter, r *http.Request) {
	apicommon.WriteJSON(w, http.StatusOK, h.svc.Chains())
}

// handleEvents serves ?kind=&limit= from the most recent window, or every
// retained event after ?since= when given.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := events.Kind(q.Get("kind"))

	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	if s := q.Get("since"); s != "" {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_since", "since must be a sequence number", nil)
			return
		}
		out := make([]events.Event, 0)
		for _, e := range h.events.Since(seq) {
			if kind != "" && e.Kind != kind {
				continue
			}
			if limit > 0 && len(out) == limit {
				break
			}
			out = append(out, e)
		}
		apicommon.WriteJSON(w, http.StatusOK, out)
		return
	}

	apicommon.WriteJSON(w, http.StatusOK, h.events.List(kind, limit))
}

func (h *Handler) writeCreated(w http.ResponseWriter, kind ledger.Kind, id uint64) {
	w.Header().Set("Location", fmt.Sprintf("/v1/requests/%s/%d", kind, id))
	apicommon.WriteJSON(w, http.StatusCreated, map[string]any{"kind": kind, "id": id})
}

// writeError maps coordinator failures onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := coordinator.KindOf(err)
	if !ok {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		apicommon.WriteError(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}

	var details map[string]any
	var ce *coordinator.Error
	if errors.As(err, &ce) && len(ce.Context) > 0 {
		details = ce.Context
	}

	status := statusFor(kind)
	if kind == coordinator.KindRateLimited {
		if retryAt, ok := ratelimit.RetryAt(err); ok {
			secs := int(math.Ceil(retryAt.Sub(h.now()).Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		}
	}
	if status >= http.StatusInternalServerError {
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg("Relay dispatch failed")
	}
	apicommon.WriteError(w, r, status, kind.String(), err.Error(), details)
}

func statusFor(kind coordinator.ErrorKind) int {
	switch kind {
	case coordinator.KindUnauthorized:
		return http.StatusForbidden
	case coordinator.KindUnsupportedChain:
		return http.StatusUnprocessableEntity
	case coordinator.KindInvalidRequestID:
		return http.StatusNotFound
	case coordinator.KindAlreadyResolved:
		return http.StatusConflict
	case coordinator.KindRateLimited:
		return http.StatusTooManyRequests
	case coordinator.KindEscrowFailed:
		return http.StatusPaymentRequired
	case coordinator.KindInvalidInput:
		return http.StatusBadRequest
	case coordinator.KindDispatch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func pathRequest(w http.ResponseWriter, r *http.Request) (ledger.Kind, uint64, bool) {
	vars := mux.Vars(r)
	kind, ok := ledger.ParseKind(vars["kind"])
	if !ok {
		apicommon.WriteError(w, r, http.StatusNotFound, "unknown_kind", "unknown request kind "+strconv.Quote(vars["kind"]), nil)
		return "", 0, false
	}
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		apicommon.WriteError(w, r, http.StatusBadRequest, "invalid_id", "id must be an unsigned integer", nil)
		return "", 0, false
	}
	return kind, id, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("bad address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("expect %d-byte hash", common.HashLength)
	}
	return common.BytesToHash(b), nil
}

func parseBytes(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	return hexutil.Decode(s)
}

func parseRole(s string) common.Hash {
	if h, err := parseHash(s); err == nil {
		return h
	}
	return access.RoleID(strings.TrimSpace(s))
}

func parseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}
