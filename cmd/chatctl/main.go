// Command chatctl drives the chat backend from a terminal.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chatsync/internal/auth"
	"github.com/capitalize-ai/chatsync/internal/config"
	"github.com/capitalize-ai/chatsync/internal/restclient"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "Browse and talk to chats on a chat backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	verbose bool
	apiURL  string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client activity to stderr")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "REST base URL (overrides CHAT_API_URL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env bundles what every command needs.
type env struct {
	cfg    *config.Config
	creds  auth.CredentialProvider
	rest   *restclient.Client
	logger *logger.Logger
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}

	log := logger.NewNop()
	if verbose {
		dev, err := logger.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		log = dev
	}

	creds := credentials(cfg)
	rest := restclient.New(cfg.APIURL, creds,
		restclient.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		restclient.WithLogger(log),
	)
	return &env{cfg: cfg, creds: creds, rest: rest, logger: log}, nil
}

// credentials prefers a fixed access token and falls back to signing
// development tokens with the shared secret.
func credentials(cfg *config.Config) auth.CredentialProvider {
	if cfg.AccessToken != "" {
		return auth.StaticToken(cfg.AccessToken)
	}
	return auth.DevTokenIssuer{
		Secret: cfg.DevJWTSecret,
		UserID: cfg.UserID,
		TTL:    cfg.JWTExpiration,
	}
}
