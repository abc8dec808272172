// ABOUTME: Operator commands: health, ready, check-auth, and interactive init
// ABOUTME: health and ready query a running router over HTTP

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-router/internal/config"
	"github.com/2389/coven-router/internal/credential"
	"github.com/2389/coven-router/internal/transport"
)

// localAddr rewrites a wildcard listen address so the CLI can dial it.
func localAddr(addr string) string {
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return "127.0.0.1:" + strings.TrimPrefix(addr, "0.0.0.0:")
	}
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

func getURL(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return http.DefaultClient.Do(req)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resp, err := getURL(ctx, fmt.Sprintf("http://%s/health", localAddr(cfg.Server.HTTPAddr)))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runReady(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resp, err := getURL(ctx, fmt.Sprintf("http://%s/health/ready", localAddr(cfg.Server.HTTPAddr)))
	if err != nil {
		return fmt.Errorf("ready check failed: %w", err)
	}
	defer resp.Body.Close()

	var ready transport.ReadyResponse
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("state:         %s\n", ready.State)
	fmt.Printf("conversations: %d\n", ready.Conversations)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d", resp.StatusCode)
	}
	return nil
}

// runCheckAuth performs one identity request with the configured
// credentials. The token itself is never printed.
func runCheckAuth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	m := credential.NewManager(credential.ManagerParams{
		Config:     cfg.CredentialConfig(),
		HTTPClient: &http.Client{Timeout: cfg.Auth.Timeout},
	})
	defer m.Cancel()

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Auth.Timeout)
	defer cancel()
	cred, err := m.Fetch(fetchCtx)
	if err != nil {
		return fmt.Errorf("credential fetch failed: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("obtained credential from %s\n", cfg.Auth.URL)
	fmt.Printf("  token type: %s\n", cred.TokenType)
	if cred.ExpiresAt.IsZero() {
		fmt.Println("  expires:    unknown")
	} else {
		fmt.Printf("  expires:    %s (in %s)\n", cred.ExpiresAt.Format(time.RFC3339), time.Until(cred.ExpiresAt).Round(time.Second))
	}

	interval := time.Duration(cfg.Auth.PollingIntervalSeconds) * time.Second
	if !cred.ExpiresAt.IsZero() && cred.ExpiresAt.Sub(cred.FetchedAt) <= interval {
		color.New(color.FgYellow).Printf("  warning: polling interval %s is not shorter than the token lifetime\n", interval)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-router configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultAuditPath := filepath.Join(getDataPath(), "router.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Bot ---")
	name := prompt(reader, "Bot name", "coven-router")
	multi := isYes(prompt(reader, "One agent per conversation?", "no"))

	fmt.Println("\n--- Channel Identity ---")
	fmt.Println("Secrets are written as ${VAR} references; export them before serving.")
	appIDVar := prompt(reader, "Environment variable holding the app ID", "MS_APP_ID")
	secretVar := prompt(reader, "Environment variable holding the app secret", "MS_APP_SECRET")
	authURL := prompt(reader, "Token URL", config.DefaultAuthURL)

	fmt.Println("\n--- Server ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	grpcAddr := prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Audit Ledger ---")
	auditPath := prompt(reader, "SQLite path (empty to disable)", defaultAuditPath)

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-router configuration\n")
	cfg.WriteString("# Generated by coven-router init\n\n")

	cfg.WriteString("bot:\n")
	cfg.WriteString(fmt.Sprintf("  name: %q\n", name))
	cfg.WriteString(fmt.Sprintf("  multi_instance: %t\n\n", multi))

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", authURL))
	cfg.WriteString(fmt.Sprintf("  app_id: \"${%s}\"\n", appIDVar))
	cfg.WriteString(fmt.Sprintf("  app_secret: \"${%s}\"\n", secretVar))
	cfg.WriteString(fmt.Sprintf("  polling_interval_seconds: %d\n", config.DefaultPollingInterval))
	cfg.WriteString(fmt.Sprintf("  timeout: %q\n\n", config.DefaultAuthTimeout.String()))

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	if grpcAddr != "" {
		cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", grpcAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("audit:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", auditPath))

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n\n", logFormat))

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", config.DefaultMetricsPath))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the router:")
	fmt.Printf("  export %s=... %s=...\n", appIDVar, secretVar)
	fmt.Println("  coven-router serve")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
