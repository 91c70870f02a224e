package middleware

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/identity-relay/x/replay"
)

func echoCaller(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		caller, ok := CallerFrom(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous:" + string(body)))
			return
		}
		_, _ = w.Write([]byte(caller.Hex() + ":" + string(body)))
	})
}

var signedAt = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func callerConfig() CallerConfig {
	return CallerConfig{
		MaxBody: 1 << 20,
		Now:     func() time.Time { return signedAt },
		Seen:    replay.NewMemory(2*DefaultSignatureSkew, func() time.Time { return signedAt }),
	}
}

func signed(t *testing.T, key *ecdsa.PrivateKey, method, target, body string, at time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	require.NoError(t, SignRequest(key, req, []byte(body), at))
	return req
}

func serve(mw func(http.Handler) http.Handler, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mw(h).ServeHTTP(rec, req)
	return rec
}

func TestCaller_RecoversSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)

	body := `{"did":"did:x:1"}`
	rec := serve(Caller(callerConfig()), echoCaller(t), signed(t, key, http.MethodPost, "/v1/requests/verification", body, signedAt))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, want.Hex()+":"+body, rec.Body.String())
}

func TestCaller_Unsigned(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader("x"))
	rec := serve(Caller(callerConfig()), echoCaller(t), req)
	assert.Equal(t, "anonymous:x", rec.Body.String())
}

func TestCaller_BadSignature(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x"))
	req.Header.Set(TimestampHeader, strconv.FormatInt(signedAt.UnixMilli(), 10))
	req.Header.Set(SignatureHeader, "0x1234")
	rec := serve(Caller(callerConfig()), echoCaller(t), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCaller_SignatureBoundToRequest(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(key.PublicKey)
	body := `{"result":true}`

	cases := []struct {
		name   string
		tamper func(r *http.Request)
	}{
		{"path", func(r *http.Request) { r.URL.Path = "/v1/requests/token-transfer/0/complete" }},
		{"method", func(r *http.Request) { r.Method = http.MethodPut }},
		{"query", func(r *http.Request) { r.URL.RawQuery = "limit=5" }},
		{"relay header added", func(r *http.Request) { r.Header.Set("X-Relay-Transport-Id", "9") }},
		{"timestamp", func(r *http.Request) {
			r.Header.Set(TimestampHeader, strconv.FormatInt(signedAt.Add(time.Second).UnixMilli(), 10))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := signed(t, key, http.MethodPost, "/v1/requests/verification/0/complete", body, signedAt)
			tc.tamper(req)
			rec := serve(Caller(callerConfig()), echoCaller(t), req)
			if rec.Code == http.StatusOK {
				assert.NotEqual(t, want.Hex()+":"+body, rec.Body.String(), "tampered request must not authenticate as the signer")
			}
		})
	}
}

func TestCaller_RejectsReusedSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	mw := Caller(callerConfig())

	req := signed(t, key, http.MethodPost, "/v1/messages", "{}", signedAt)
	again := req.Clone(req.Context())
	again.Body = io.NopCloser(strings.NewReader("{}"))

	require.Equal(t, http.StatusOK, serve(mw, echoCaller(t), req).Code)
	rec := serve(mw, echoCaller(t), again)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "reused_signature")

	// a fresh timestamp is a new request
	rec = serve(mw, echoCaller(t), signed(t, key, http.MethodPost, "/v1/messages", "{}", signedAt.Add(time.Millisecond)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCaller_RejectsStaleOrMissingTimestamp(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	mw := Caller(callerConfig())

	for _, at := range []time.Time{signedAt.Add(-DefaultSignatureSkew - time.Second), signedAt.Add(DefaultSignatureSkew + time.Second)} {
		rec := serve(mw, echoCaller(t), signed(t, key, http.MethodPost, "/v1/messages", "{}", at))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "stale_signature")
	}

	req := signed(t, key, http.MethodPost, "/v1/messages", "{}", signedAt)
	req.Header.Del(TimestampHeader)
	rec := serve(mw, echoCaller(t), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad_timestamp")
}

func TestCaller_BodyLimit(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := callerConfig()
	cfg.MaxBody = 4

	rec := serve(Caller(cfg), echoCaller(t), signed(t, key, http.MethodPost, "/", "12345", signedAt))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRecoverSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	digest := crypto.Keccak256Hash([]byte("a"))
	sig, err := SignDigest(key, digest)
	require.NoError(t, err)

	addr, err := RecoverSigner(crypto.Keccak256Hash([]byte("b")), sig)
	if err == nil {
		assert.NotEqual(t, crypto.PubkeyToAddress(key.PublicKey), addr)
	}

	// v in {27, 28}
	raw := common.FromHex(sig)
	raw[64] += 27
	addr, err = RecoverSigner(digest, "0x"+common.Bytes2Hex(raw))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(1, 2, zerolog.Nop())
	h := th.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 2, th.Len())
	assert.Equal(t, 0, th.Sweep(time.Now()))
	assert.Equal(t, 2, th.Sweep(time.Now().Add(time.Hour)))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(RequestIDKey).(string)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "has space")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "has space", seen)
}

func TestRecover_Panic(t *testing.T) {
	h := Recover(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["error"].Code)
}

func TestLogger_NotesRouteAndCaller(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	log := zerolog.New(&buf)

	r := mux.NewRouter()
	sub := r.PathPrefix("/v1").Subrouter()
	sub.Use(Caller(callerConfig()))
	sub.HandleFunc("/things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	h := Logger(log)(r)

	h.ServeHTTP(httptest.NewRecorder(), signed(t, key, http.MethodPost, "/v1/things/7", `{"x":1}`, signedAt))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "/v1/things/{id}", line["route"])
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), line["caller"])
	assert.EqualValues(t, http.StatusNoContent, line["status"])
	assert.Equal(t, "HTTP request", line["message"])
}
