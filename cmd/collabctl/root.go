package main

import (
	"fmt"
	"os"

	"section-collab-be/internal/pkg/serverutils"
	"section-collab-be/pkg/collabclient"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "collabctl",
	Short: "Inspect and exercise the section collaboration service",
	Long: `collabctl talks to a running collaboration server to list section leases
and version history, and can replay the core editing scenarios against an
in-process deployment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	serverURL string
	token     string
	secret    string
	userFlag  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("COLLAB_SERVER", "http://localhost:3000/api"), "API root of the collaboration server")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("COLLAB_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "sign a token locally with this secret when --token is empty")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "user id to sign the token for (default: random)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// backend builds an HTTP client from the global flags.
func backend() (*collabclient.HTTPBackend, error) {
	tok := token
	if tok == "" {
		if secret == "" {
			return nil, fmt.Errorf("either --token or --secret is required")
		}
		userId := uuid.New()
		if userFlag != "" {
			parsed, err := uuid.Parse(userFlag)
			if err != nil {
				return nil, fmt.Errorf("invalid --user: %w", err)
			}
			userId = parsed
		}
		signed, err := serverutils.SignToken(userId, secret)
		if err != nil {
			return nil, fmt.Errorf("failed to sign token: %w", err)
		}
		tok = signed
	}
	return collabclient.NewHTTPBackend(serverURL, tok), nil
}

func documentArg(args []string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid document id %q: %w", args[0], err)
	}
	return id, nil
}
