package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/compose-network/identity-relay/server/api/middleware"
)

// RelayClient signs every request carrying a body with key and talks JSON to a relay API.
type RelayClient struct {
	baseURL string
	key     *ecdsa.PrivateKey
	http    *http.Client
	log     zerolog.Logger
}

func NewRelayClient(baseURL string, key *ecdsa.PrivateKey, log zerolog.Logger) *RelayClient {
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (c *RelayClient) Address() common.Address {
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("relay returned %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *RelayClient) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		if err := middleware.SignRequest(c.key, req, body, time.Now()); err != nil {
			return err
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= 400 {
		var wrapped struct {
			Error apiError `json:"error"`
		}
		_ = json.Unmarshal(raw, &wrapped)
		wrapped.Error.Status = res.StatusCode
		return &wrapped.Error
	}

	c.log.Debug().Str("method", method).Str("path", path).Int("status", res.StatusCode).Msg("Relay call")
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// RequestVerification returns the request id assigned by the relay.
func (c *RelayClient) RequestVerification(ctx context.Context, did, target string) (uint64, error) {
	var out struct {
		ID uint64 `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/requests/verification", map[string]string{
		"did":    did,
		"target": target,
	}, &out)
	return out.ID, err
}

type verificationRecord struct {
	ID          uint64 `json:"id"`
	State       string `json:"state"`
	TargetChain string `json:"target_chain"`
	Payload     struct {
		DID      string `json:"did"`
		Verified bool   `json:"verified"`
	} `json:"payload"`
}

func (c *RelayClient) Verification(ctx context.Context, id uint64) (verificationRecord, error) {
	var rec verificationRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/requests/verification/%d", id), nil, &rec)
	return rec, err
}

// WaitResolved polls until the verification leaves PENDING or ctx ends.
func (c *RelayClient) WaitResolved(ctx context.Context, id uint64, every time.Duration) (verificationRecord, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		rec, err := c.Verification(ctx, id)
		if err != nil {
			return rec, err
		}
		if rec.State != "PENDING" {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}
