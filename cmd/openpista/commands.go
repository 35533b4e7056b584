package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openpista/openpista/internal/credentials"
)

// loginEndpoints maps a provider name to its OAuth PKCE endpoints and
// default client id, grounded on the original CLI's provider table.
var loginEndpoints = map[string]struct {
	Endpoints credentials.Endpoints
	ClientID  string
}{
	"anthropic": {
		Endpoints: credentials.Endpoints{
			AuthURL:      "https://claude.ai/oauth/authorize",
			TokenURL:     "https://platform.claude.com/v1/oauth/token",
			Scope:        "user:profile user:inference",
			RedirectPath: "/oauth/code/callback",
		},
		ClientID: "9d1c250a-e61b-44d9-88ed-5944d1962f5e",
	},
	"responses": {
		Endpoints: credentials.Endpoints{
			AuthURL:      "https://auth.openai.com/oauth/authorize",
			TokenURL:     "https://auth.openai.com/oauth/token",
			Scope:        "openid profile email offline_access",
			RedirectPath: "/auth/callback",
		},
		ClientID: "app_EMoamEEZ73f0CkXaXp7hrann",
	},
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the openpista gateway",
		Long: `Start the gateway: loads configuration, wires the active LLM provider,
starts the mobile QUIC channel adapter, and runs the dispatcher until
interrupted.`,
		Example: `  openpista serve --config openpista.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "openpista.yaml", "path to the YAML configuration file")
	return cmd
}

func buildLoginCmd() *cobra.Command {
	var codeDisplay bool

	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Authenticate a provider via OAuth PKCE",
		Long: `Run the OAuth PKCE login flow for a provider (anthropic, responses) and
store the resulting credential.

The default flow opens a browser and waits on a localhost callback.
--code-display instead prints a URL and prompts you to paste back the
authorization code manually, for environments without a reachable
localhost port.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			entry, ok := loginEndpoints[provider]
			if !ok {
				return fmt.Errorf("unknown provider %q (known: anthropic, responses)", provider)
			}
			return runLogin(cmd.Context(), provider, entry.Endpoints, entry.ClientID, codeDisplay)
		},
	}
	cmd.Flags().BoolVar(&codeDisplay, "code-display", false, "use the manual code-paste flow instead of a localhost callback")
	return cmd
}

func buildModelsCmd() *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "models <provider>",
		Short: "List known models for a provider",
		Long: `List the curated model catalog for a provider (anthropic, responses),
merged with any additional model ids discovered remotely.

--remote accepts a comma-separated list of model ids, as would be
returned by the provider's models-list endpoint, to merge into the
curated catalog.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var remoteIDs []string
			if strings.TrimSpace(remote) != "" {
				remoteIDs = strings.Split(remote, ",")
			}
			return runModels(cmd.OutOrStdout(), args[0], remoteIDs)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "comma-separated model ids discovered from the provider's models endpoint")
	return cmd
}
