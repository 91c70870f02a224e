// Dev helper for the relay API.
//
//	go run ./scripts/gen-keys.go keys ADMIN ORACLE ALICE
//	go run ./scripts/gen-keys.go sign --key <hex> --method POST --path /v1/requests/verification --body request.json
//
// keys prints a secp256k1 private key and address per label. sign prints the
// X-Relay-Timestamp and X-Relay-Signature headers for one request. Any other
// X-Relay-* header the request will carry must be passed with --header.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/compose-network/identity-relay/server/api/middleware"
)

func gen(w io.Writer, label string) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	priv := fmt.Sprintf("%x", crypto.FromECDSA(key))
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	_, err = fmt.Fprintf(w, "%s_PRIV=%s\n%s_ADDR=%s\n\n", label, priv, label, addr)
	return err
}

func main() {
	root := &cobra.Command{
		Use:   "gen-keys",
		Short: "Generate dev keys and sign relay API requests",
	}

	root.AddCommand(&cobra.Command{
		Use:   "keys [label...]",
		Short: "Generate one key per label",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"ADMIN", "ORACLE", "PROVIDER"}
			}
			for _, label := range args {
				if err := gen(cmd.OutOrStdout(), label); err != nil {
					return err
				}
			}
			return nil
		},
	})

	var (
		keyHex, bodyPath string
		method, path     string
		headers          []string
	)
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Print the " + middleware.TimestampHeader + " and " + middleware.SignatureHeader + " headers for a request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.HexToECDSA(keyHex)
			if err != nil {
				return fmt.Errorf("invalid key: %w", err)
			}

			var body []byte
			if bodyPath == "" || bodyPath == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(bodyPath)
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			req, err := http.NewRequest(strings.ToUpper(method), path, nil)
			if err != nil {
				return fmt.Errorf("invalid path: %w", err)
			}
			for _, h := range headers {
				name, value, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("header %q: expect Name:value", h)
				}
				req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
			}
			if err := middleware.SignRequest(key, req, body, time.Now()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", middleware.TimestampHeader, req.Header.Get(middleware.TimestampHeader))
			fmt.Fprintf(out, "%s: %s\n", middleware.SignatureHeader, req.Header.Get(middleware.SignatureHeader))
			return nil
		},
	}
	sign.Flags().StringVar(&keyHex, "key", "", "hex private key")
	sign.Flags().StringVar(&bodyPath, "body", "-", "request body file, - for stdin")
	sign.Flags().StringVar(&method, "method", http.MethodPost, "HTTP method")
	sign.Flags().StringVar(&path, "path", "", "request path with query, e.g. /v1/requests/verification")
	sign.Flags().StringArrayVar(&headers, "header", nil, "extra X-Relay-* header as Name:value, repeatable")
	_ = sign.MarkFlagRequired("key")
	_ = sign.MarkFlagRequired("path")
	root.AddCommand(sign)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
