package middleware

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/compose-network/identity-relay/x/replay"
)

const (
	// SignatureHeader carries a secp256k1 signature over RequestDigest.
	SignatureHeader = "X-Relay-Signature"
	// TimestampHeader carries the signing time in unix milliseconds.
	TimestampHeader = "X-Relay-Timestamp"

	// Every header with this prefix is covered by the signature.
	signedHeaderPrefix = "X-Relay-"
	signingDomain      = "RELAY-V1"

	DefaultSignatureSkew = 5 * time.Minute
)

// CallerKey is the context key for the recovered caller address.
const CallerKey contextKey = "relay-caller"

var (
	ErrNoSignature  = errors.New("missing signature")
	ErrBadSignature = errors.New("invalid signature")
	ErrStale        = errors.New("signature timestamp outside the accepted skew")
	ErrReused       = errors.New("signed request already presented")
)

// CallerConfig tunes request authentication.
type CallerConfig struct {
	MaxBody int64
	// Skew bounds how far the signing time may drift from now. Zero means DefaultSignatureSkew.
	Skew time.Duration
	Now  func() time.Time
	// Seen admits each signed request once. Nil disables the check.
	Seen replay.Guard
}

// Caller recovers the signing address of each request and stores it in the
// request context. Unsigned requests pass through without a caller.
func Caller(cfg CallerConfig) func(http.Handler) http.Handler {
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultSignatureSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := strings.TrimSpace(r.Header.Get(SignatureHeader))
			if sig == "" {
				noteAccess(r, nil)
				next.ServeHTTP(w, r)
				return
			}

			reject := func(status int, code string, err error) {
				noteAccess(r, nil)
				WriteProblem(w, r, status, code, err.Error(), nil)
			}

			at, err := parseTimestamp(r.Header.Get(TimestampHeader))
			if err != nil {
				reject(http.StatusUnauthorized, "bad_timestamp", err)
				return
			}
			if d := cfg.Now().Sub(at); d > cfg.Skew || d < -cfg.Skew {
				reject(http.StatusUnauthorized, "stale_signature", ErrStale)
				return
			}

			var body []byte
			if r.Body != nil {
				body, err = io.ReadAll(io.LimitReader(r.Body, cfg.MaxBody+1))
				_ = r.Body.Close()
				if err != nil {
					WriteProblem(w, r, http.StatusBadRequest, "read_failed", "failed to read request body", nil)
					return
				}
				if int64(len(body)) > cfg.MaxBody {
					WriteProblem(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds limit", nil)
					return
				}
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			digest := RequestDigest(r, body)
			caller, err := RecoverSigner(digest, sig)
			if err != nil {
				reject(http.StatusUnauthorized, "bad_signature", err)
				return
			}

			if cfg.Seen != nil {
				v, err := cfg.Seen.AdmitOnce(r.Context(), crypto.Keccak256Hash(caller.Bytes(), digest.Bytes()), at)
				if err != nil {
					noteAccess(r, nil)
					WriteProblem(w, r, http.StatusInternalServerError, "internal", "failed to record signature", nil)
					return
				}
				switch v {
				case replay.Duplicate:
					reject(http.StatusUnauthorized, "reused_signature", ErrReused)
					return
				case replay.Expired:
					reject(http.StatusUnauthorized, "stale_signature", ErrStale)
					return
				}
			}

			noteAccess(r, &caller)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), CallerKey, caller)))
		})
	}
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(CallerKey).(common.Address)
	return addr, ok
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("missing %s", TimestampHeader)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, fmt.Errorf("%s must be unix milliseconds", TimestampHeader)
	}
	return time.UnixMilli(ms), nil
}

// RequestDigest is the hash a caller signs. It binds the method, the escaped
// path and query, every X-Relay-* header other than the signature (the
// timestamp included) and keccak256 of the body.
func RequestDigest(r *http.Request, body []byte) common.Hash {
	var b strings.Builder
	b.WriteString(signingDomain)
	b.WriteByte('\n')
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('\n')
	b.WriteString(r.URL.EscapedPath())
	if r.URL.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(r.URL.RawQuery)
	}
	b.WriteByte('\n')

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		canon := http.CanonicalHeaderKey(name)
		if strings.HasPrefix(canon, signedHeaderPrefix) && canon != SignatureHeader {
			names = append(names, canon)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(strings.ToLower(name))
		b.WriteByte(':')
		b.WriteString(strings.TrimSpace(strings.Join(r.Header.Values(name), ",")))
		b.WriteByte('\n')
	}

	b.WriteString(hexutil.Encode(crypto.Keccak256(body)))
	return crypto.Keccak256Hash([]byte(b.String()))
}

// RecoverSigner returns the address that produced sig over digest.
func RecoverSigner(digest common.Hash, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil || len(raw) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expect %d-byte hex", ErrBadSignature, crypto.SignatureLength)
	}
	// wallets produce v in {27, 28}
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignDigest produces the SignatureHeader value for digest.
func SignDigest(key *ecdsa.PrivateKey, digest common.Hash) (string, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// SignRequest stamps req with TimestampHeader and signs it. Set every
// X-Relay-* header before calling; body must be what req will send.
func SignRequest(key *ecdsa.PrivateKey, req *http.Request, body []byte, at time.Time) error {
	req.Header.Del(SignatureHeader)
	req.Header.Set(TimestampHeader, strconv.FormatInt(at.UnixMilli(), 10))
	sig, err := SignDigest(key, RequestDigest(req, body))
	if err != nil {
		return err
	}
	req.Header.Set(SignatureHeader, sig)
	return nil
}
