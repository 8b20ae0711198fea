package cli

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

// secretBytes is the entropy of generated secrets.
const secretBytes = 24

func newKeyhashCommand(e *env) *cobra.Command {
	var (
		cost     int
		generate bool
	)

	cmd := &cobra.Command{
		Use:   "keyhash <name>",
		Short: "Hash an ingest key secret for INGEST_KEYS",
		Long: `Hash an ingest key secret. The secret is read from standard input, or
generated with --generate. Clients authenticate with
"Authorization: Bearer <name>.<secret>"; the server is configured with
INGEST_KEYS=<name>:<hash>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if name == "" || strings.ContainsAny(name, ".:,") {
				return fmt.Errorf("key name must be non-empty and must not contain '.', ':' or ','")
			}

			var secret string
			if generate {
				buf := make([]byte, secretBytes)
				if _, err := rand.Read(buf); err != nil {
					return fmt.Errorf("generating secret: %w", err)
				}
				secret = base64.RawURLEncoding.EncodeToString(buf)
			} else {
				line, err := bufio.NewReader(e.in).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading secret from stdin: %w", err)
				}
				secret = strings.TrimRight(line, "\r\n")
			}
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
			if err != nil {
				return fmt.Errorf("hashing secret: %w", err)
			}

			entry := name + ":" + string(hash)
			if e.jsonOutput {
				out := map[string]string{"name": name, "ingest_keys_entry": entry}
				if generate {
					out["bearer"] = name + "." + secret
				}
				return e.writeJSON(out)
			}
			if generate {
				fmt.Fprintf(e.out, "Bearer token: %s.%s\n", name, secret)
			}
			fmt.Fprintf(e.out, "INGEST_KEYS entry: %s\n", entry)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a random secret")

	return cmd
}
