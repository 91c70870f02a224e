package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	apilog "github.com/compose-network/identity-relay/log"
)

// Drives one verification round trip against a running relay:
//
//	go run ./test-app --api http://localhost:8081 --key <hex> --did did:relay:alice --target beta
func main() {
	var (
		apiURL   string
		keyHex   string
		did      string
		target   string
		timeout  time.Duration
		pretty   bool
		logLevel string
	)
	flag.StringVar(&apiURL, "api", "http://localhost:8081", "Relay API base URL")
	flag.StringVar(&keyHex, "key", "", "Hex secp256k1 private key of the caller (random when empty)")
	flag.StringVar(&did, "did", "did:relay:alice", "DID to verify")
	flag.StringVar(&target, "target", "beta", "Target chain name")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	flag.BoolVar(&pretty, "log-pretty", true, "Pretty console logs")
	flag.StringVar(&logLevel, "log-level", "debug", "Log level")
	flag.Parse()

	log := apilog.New(logLevel, pretty).With().Str("component", "test-app").Logger()

	key, err := crypto.GenerateKey()
	if keyHex != "" {
		key, err = crypto.HexToECDSA(keyHex)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid key")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := NewRelayClient(apiURL, key, log)
	log.Info().Str("caller", client.Address().Hex()).Str("did", did).Str("target", target).Msg("Requesting verification")

	id, err := client.RequestVerification(ctx, did, target)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == 429 {
			log.Warn().Msg("Caller is cooling down; retry later")
		}
		log.Error().Err(err).Msg("Verification request failed")
		os.Exit(1)
	}
	log.Info().Uint64("request_id", id).Msg("Verification requested")

	rec, err := client.WaitResolved(ctx, id, 250*time.Millisecond)
	if err != nil {
		log.Error().Err(err).Uint64("request_id", id).Msg("Verification did not resolve")
		os.Exit(1)
	}
	log.Info().
		Uint64("request_id", rec.ID).
		Str("state", rec.State).
		Bool("verified", rec.Payload.Verified).
		Msg("Verification resolved")
}
