package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openpista/openpista/internal/agent"
	"github.com/openpista/openpista/internal/agent/providers"
	"github.com/openpista/openpista/internal/channels/mobile"
	"github.com/openpista/openpista/internal/config"
	"github.com/openpista/openpista/internal/credentials"
	"github.com/openpista/openpista/internal/gateway"
	"github.com/openpista/openpista/internal/modelcatalog"
	"github.com/openpista/openpista/internal/sessions"
	"github.com/openpista/openpista/internal/telemetry"
	"github.com/openpista/openpista/pkg/models"
)

// defaultLoginTimeout bounds how long the localhost-callback login flow
// waits for the browser redirect before giving up.
const defaultLoginTimeout = 5 * time.Minute

// defaultLoginCallbackPort is the localhost port the OAuth callback
// listener binds to in the non-code-display login flow.
const defaultLoginCallbackPort = 1455

// runServe loads configuration, wires the active provider, the mobile
// channel adapter, and the gateway dispatcher, then blocks until
// SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string) error {
	log := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Info("configuration loaded", "config", configPath, "mobile_listen_addr", cfg.Channels.Mobile.ListenAddr)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sessions.NewSQLiteStore(cfg.Session.DatabasePath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	credStore, err := credentials.NewStore(cfg.Credentials.Path)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	tracer, shutdownTracer, err := telemetry.New(ctx, telemetry.Config{
		ServiceName: "openpista",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	rt := agent.NewRuntime(store)
	rt.SetLogger(log)
	rt.SetTracer(tracer)
	rt.SetMaxToolRounds(cfg.Agent.MaxToolRounds)
	rt.SetMaxContextMessages(cfg.Agent.MaxContextMessages)
	rt.SetMaxToolResultChars(cfg.Agent.MaxToolResultChars)

	activeProvider, err := registerProviders(ctx, rt, cfg, credStore)
	if err != nil {
		return fmt.Errorf("register providers: %w", err)
	}
	if err := rt.SwitchProvider(activeProvider); err != nil {
		return fmt.Errorf("switch provider: %w", err)
	}
	log.Info("active provider selected", "provider", activeProvider)

	gw := gateway.New(rt, cfg.Gateway.QueueSize)
	gw.SetLogger(log)

	mobileToken := os.Getenv(cfg.Channels.Mobile.AuthTokenEnv)
	if mobileToken == "" {
		return fmt.Errorf("mobile channel auth token env var %q is unset", cfg.Channels.Mobile.AuthTokenEnv)
	}
	mobileAdapter := mobile.NewAdapter(cfg.Channels.Mobile.ListenAddr, mobileToken)
	mobileAdapter.SetLogger(log)
	gw.RegisterRouter("mobile", mobileAdapter)

	errCh := make(chan error, 2)
	events := make(chan models.ChannelEvent, cfg.Gateway.QueueSize)

	go func() {
		if err := mobileAdapter.Run(ctx, events); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("mobile channel adapter: %w", err)
		}
	}()

	go func() {
		for ev := range events {
			gw.Enqueue(ev)
		}
	}()

	go gw.Run(ctx, cfg.Agent.SystemPrompt)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		return err
	}
}

// registerProviders registers every configured provider adapter against
// rt and returns the name of the provider that should become active: the
// first one in (anthropic, responses) whose credential resolution
// succeeds.
func registerProviders(ctx context.Context, rt *agent.Runtime, cfg *config.Config, credStore *credentials.Store) (string, error) {
	var registered []string

	anthropicKey, err := credentials.Resolve(ctx, credStore, "anthropic", "", cfg.Providers.Anthropic.APIKeyEnv, "", anthropicRefresh)
	if err == nil && anthropicKey != "" {
		p, err := providers.NewAnthropicProvider(anthropicKey, cfg.Providers.Anthropic.BaseURL)
		if err != nil {
			return "", fmt.Errorf("build anthropic provider: %w", err)
		}
		rt.RegisterProvider("anthropic", p)
		registered = append(registered, "anthropic")
	}

	responsesKey, err := credentials.Resolve(ctx, credStore, "responses", "", cfg.Providers.Responses.APIKeyEnv, "", nil)
	if err == nil && responsesKey != "" {
		p, err := providers.NewResponsesApiProvider(responsesKey, cfg.Providers.Responses.BaseURL)
		if err != nil {
			return "", fmt.Errorf("build responses provider: %w", err)
		}
		if cfg.Providers.Responses.ChatGPTAccountID != "" {
			p = p.WithChatGPTAccountID(cfg.Providers.Responses.ChatGPTAccountID)
		}
		rt.RegisterProvider("responses", p)
		registered = append(registered, "responses")
	}

	if len(registered) == 0 {
		return "", fmt.Errorf("no provider credentials resolved; run 'openpista login <provider>' or set %s/%s",
			cfg.Providers.Anthropic.APIKeyEnv, cfg.Providers.Responses.APIKeyEnv)
	}
	return registered[0], nil
}

// anthropicRefresh exchanges a stored refresh token for a fresh access
// token against the Anthropic OAuth token endpoint.
func anthropicRefresh(ctx context.Context, refreshToken string) (newAccessToken, newRefreshToken string, expiresIn *int64, err error) {
	entry := loginEndpoints["anthropic"]
	cred, err := credentials.RefreshAccessToken(ctx, entry.Endpoints.TokenURL, entry.ClientID, refreshToken)
	if err != nil {
		return "", "", nil, err
	}
	var expirySeconds *int64
	if cred.ExpiresAt != nil {
		secs := int64(time.Until(*cred.ExpiresAt).Seconds())
		expirySeconds = &secs
	}
	return cred.AccessToken, cred.RefreshToken, expirySeconds, nil
}

// runModels prints the curated model catalog for provider merged with any
// remotely-discovered ids.
func runModels(w io.Writer, provider string, remoteIDs []string) error {
	seed := modelcatalog.SeedModels(provider)
	if seed == nil {
		return fmt.Errorf("unknown provider %q (known: anthropic, responses)", provider)
	}

	for _, entry := range modelcatalog.MergeSeedWithRemote(seed, remoteIDs) {
		recommended := ""
		if entry.RecommendedForCoding {
			recommended = " (recommended)"
		}
		fmt.Fprintf(w, "%-40s %-8s %-6s %v%s\n", entry.ID, entry.Status, entry.Source, entry.Available, recommended)
	}
	return nil
}

// runLogin drives the OAuth PKCE login flow for provider and persists the
// resulting credential to the default credential store.
func runLogin(ctx context.Context, provider string, endpoints credentials.Endpoints, clientID string, codeDisplay bool) error {
	store, err := credentials.NewStore(credentials.DefaultPath())
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	var cred models.ProviderCredential
	if codeDisplay {
		pending, err := credentials.StartCodeDisplayFlow(endpoints, clientID)
		if err != nil {
			return fmt.Errorf("start login: %w", err)
		}
		fmt.Printf("Open this URL in a browser if it didn't open automatically:\n\n  %s\n\nPaste the authorization code here: ", pending.AuthURL)
		code, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read authorization code: %w", err)
		}
		cred, err = credentials.CompleteCodeDisplayFlow(ctx, pending, code)
		if err != nil {
			return fmt.Errorf("complete login: %w", err)
		}
	} else {
		cred, err = credentials.LoginLocalhostCallback(ctx, endpoints, clientID, defaultLoginCallbackPort, defaultLoginTimeout)
		if err != nil {
			return fmt.Errorf("complete login: %w", err)
		}
	}

	if err := store.Set(provider, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	fmt.Printf("Logged in to %s; credential saved to %s\n", provider, credentials.DefaultPath())
	return nil
}
