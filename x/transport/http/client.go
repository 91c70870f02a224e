package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/compose-network/identity-relay/x/codec"
	"github.com/compose-network/identity-relay/x/envelope"
	"github.com/compose-network/identity-relay/x/transport"
)

const (
	ContentTypeFrame  = "application/x-relay-frame"
	HeaderNonce       = "X-Relay-Nonce"
	HeaderTransportID = "X-Relay-Transport-Id"

	publishPath = "v1/publish"
)

// Client implements transport.Provider over a relayer REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	codec      codec.Codec
	log        zerolog.Logger
}

// NewClient constructs a relayer client for the given base URL.
func NewClient(rawURL string, httpClient *http.Client, c codec.Codec, log zerolog.Logger) (*Client, error) {
	if rawURL == "" {
		return nil, errors.New("base URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relayer base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c == nil {
		c = codec.NewFrameCodec(codec.DefaultMaxMessageSize)
	}
	logger := log.With().Str("component", "relayer-client").Logger()

	logger.Info().
		Str("base_url", rawURL).
		Dur("timeout", httpClient.Timeout).
		Msg("Relayer client initialized")

	return &Client{
		baseURL:    parsed,
		httpClient: httpClient,
		codec:      c,
		log:        logger,
	}, nil
}

// Publish frames the envelope and posts it to the relayer. No retries.
func (c *Client) Publish(ctx context.Context, nonce uint64, payload []byte, transportID uint16) (uint64, error) {
	env, err := envelope.Unmarshal(payload)
	if err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	frame, err := c.codec.Encode(env)
	if err != nil {
		return 0, fmt.Errorf("frame envelope: %w", err)
	}

	endpoint := c.buildURL(publishPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(frame))
	if err != nil {
		return 0, fmt.Errorf("prepare request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeFrame)
	req.Header.Set(HeaderNonce, strconv.FormatUint(nonce, 10))
	req.Header.Set(HeaderTransportID, strconv.FormatUint(uint64(transportID), 10))

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error().Err(err).Str("endpoint", endpoint).Msg("Publish request failed")
		return 0, fmt.Errorf("post publish request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		c.log.Error().
			Int("status_code", res.StatusCode).
			Str("response", string(msg)).
			Msg("Relayer returned error response")
		return 0, fmt.Errorf("relayer returned %s: %s", res.Status, string(msg))
	}

	var reply publishResponse
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return 0, fmt.Errorf("decode relayer response: %w", err)
	}
	if !reply.Success {
		return 0, fmt.Errorf("relayer rejected message: %s", reply.errorMessage())
	}

	c.log.Debug().
		Uint64("nonce", nonce).
		Uint16("transport_id", transportID).
		Uint64("sequence", reply.Sequence).
		Str("fingerprint", env.Fingerprint.Hex()).
		Msg("Envelope published")

	return reply.Sequence, nil
}

func (c *Client) buildURL(elem ...string) string {
	clone := *c.baseURL
	clone.Path = path.Join(append([]string{c.baseURL.Path}, elem...)...)
	return clone.String()
}

type publishResponse struct {
	Success  bool    `json:"success"`
	Sequence uint64  `json:"sequence"`
	Message  string  `json:"message"`
	Error    *string `json:"error"`
}

func (r publishResponse) errorMessage() string {
	if r.Error != nil {
		return *r.Error
	}
	return r.Message
}

var _ transport.Provider = (*Client)(nil)
